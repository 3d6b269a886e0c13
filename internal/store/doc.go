// Package store defines the storage collaborator the engine runs against.
//
// A Backend persists facts of stored predicates and entities, answers
// pattern lookups and hydrates entities in batches. Two implementations
// exist:
//
//   - store/sqlite: durable, one table per stored predicate, lookups
//     compiled to parameterised SQL by internal/querysql
//   - store/memstore: in-memory maps, constraints evaluated in Go
//
// Both return tuples in insertion order, so results are deterministic for a
// fixed snapshot. Backend errors are wrapped with context but otherwise
// passed through untouched: there is no retry.
//
// store/storetest holds the behaviour suite every backend must pass.
package store
