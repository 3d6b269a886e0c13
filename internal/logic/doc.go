// Package logic defines the terms the engine reasons about: variables and
// keys, predicates, facts (patterns over a predicate), rule bodies, rules,
// and bindings.
//
// Predicates form a closed two-variant union. A *StoredPredicate is backed
// by a relation in the store; an *InferredPredicate only exists through
// rules. Which variant a fact uses is fixed when the predicate is declared,
// so "is this stored?" is a type switch and never a runtime lookup.
//
// Variable names starting with an underscore are reserved for hidden
// variables (wildcards from Blank and rule-local variables renamed by the
// evaluator). Hidden variables never appear in query results.
package logic
