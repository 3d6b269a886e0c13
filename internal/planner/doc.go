// Package planner turns a conjunction of fact patterns into an ordered
// execution plan.
//
// Planning runs in four phases:
//
//  1. Dependency graph: steps sharing a variable are joined, and a step
//     whose constraint references a variable bound elsewhere depends on the
//     step that binds it.
//  2. Propagation: every occurrence of a variable gets the merged constraints
//     of all its occurrences. Cross-variable references stay where they were
//     written; the driver resolves them once the referenced variable is bound.
//  3. Costing: each step gets a normalised pattern key and a cost from the
//     timing store, falling back to a static heuristic.
//  4. Ordering: cheapest ready step first, where a step is ready once every
//     variable it references has been bound by an earlier step.
//
// Plans are derived fresh for every query and never mutate their input.
package planner
