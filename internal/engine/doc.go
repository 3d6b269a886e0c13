// Package engine answers queries over stored facts and rules.
//
// A query is a list of fact patterns. The engine plans it (constraint
// propagation and cost-based ordering, see package planner), then walks the
// plan depth first: stored steps become backend lookups and inferred steps
// go to the inference evaluator. Rows stream out lazily and are optionally
// hydrated with one backend batch per entity type.
//
// INFERENCE:
//
// The evaluator memoises every goal it meets in a table keyed by the goal's
// predicate, bound keys and open-slot constraints. Evaluation runs on an
// explicit stack of frames, never on the Go call stack, so rule depth is
// bounded only by memory. A goal met again while its frame is still on the
// stack contributes the answers found so far; the lowest frame of such a
// cycle re-runs until a pass finds nothing new (least fixpoint). Recursive
// rules over cyclic data therefore terminate.
//
// Rule variables are renamed apart for every rule instantiation. Head
// variables inherit the goal's keys and constraints, so constraints written
// on a query reach the stored lookups of the rules that answer it.
//
// TIMING:
//
// Every step lookup is timed and recorded in the timing store under the
// step's pattern key. Later plans use the learned averages instead of the
// static heuristic.
//
// TELEMETRY:
//
// Each query gets a UUIDv7 id, a span, and one child span per step lookup.
// Step durations feed the factlog_step_duration_seconds histogram. Nothing
// is exported unless the caller installs an OpenTelemetry SDK.
package engine
