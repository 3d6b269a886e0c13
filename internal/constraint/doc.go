// Package constraint is the predicate language attached to query variables.
//
// A Constraint is a boolean condition over one entity: its key (the field
// named KeyField) and its attributes. Constraints are immutable values and
// compose by conjunction (Merge), which is how propagation narrows a
// variable that appears in several patterns.
//
// SEALED INTERFACE:
//
// Constraint uses the marker method pattern, so only types in this package
// implement it and every consumer (the SQL compiler, the in-memory
// evaluator, the planner's signatures) can switch exhaustively:
//
//	Eq   field == literal
//	Cmp  field <op> literal, op one of != > >= < <=
//	In   field in {literals}
//	Ref  field == value of another variable (cross-variable constraint)
//	And, Or, Not
//
// CROSS-VARIABLE CONSTRAINTS:
//
// A Ref cannot be evaluated on its own. Before a lookup, Resolve replaces it
// with the referenced variable's bound value (Eq) or value set (In). Merge
// keeps Refs as ordinary conjuncts; Split separates them so that
// propagation only copies the ref-free part to other occurrences.
package constraint
