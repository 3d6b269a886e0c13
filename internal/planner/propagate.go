package planner

import (
	"slices"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/logic"
)

// Constraints returns, per variable name, the merge of the ref-free
// constraints of every occurrence of that variable across patterns.
// Variables without any constraint map to nil.
func Constraints(patterns []logic.Fact) map[string]constraint.Constraint {
	locals := make(map[string][]constraint.Constraint)
	for _, f := range patterns {
		for _, t := range f.Terms {
			v, ok := t.(logic.Variable)
			if !ok {
				continue
			}
			local, _ := constraint.Split(v.Where)
			locals[v.Name] = append(locals[v.Name], local)
		}
	}
	out := make(map[string]constraint.Constraint, len(locals))
	for name, cs := range locals {
		out[name] = constraint.Merge(cs...)
	}
	return out
}

// Propagate returns copies of patterns in which every occurrence of a
// variable carries the merged constraints of all its occurrences, plus the
// cross-variable conjuncts written on that occurrence. Applying it twice
// gives the same result as applying it once, and the pattern order does not
// change what any variable ends up with.
func Propagate(patterns []logic.Fact) []logic.Fact {
	merged := Constraints(patterns)
	out := make([]logic.Fact, len(patterns))
	for i, f := range patterns {
		terms := make([]logic.Term, len(f.Terms))
		for j, t := range f.Terms {
			v, ok := t.(logic.Variable)
			if !ok {
				terms[j] = t
				continue
			}
			_, refs := constraint.Split(v.Where)
			v.Where = constraint.Merge(merged[v.Name], refs)
			terms[j] = v
		}
		out[i] = f.WithTerms(terms)
	}
	return out
}

// DependencyOrder returns a stable order for a rule body: patterns keep their
// written order except that a pattern whose cross-variable references are
// bound only by a later pattern moves after it. Variables in bound count as
// already available. When no remaining pattern is ready the first one is
// taken, which leaves its references unresolved.
func DependencyOrder(patterns []logic.Fact, bound map[string]bool) []int {
	binders := make(map[string]bool)
	for _, f := range patterns {
		for _, v := range f.Variables() {
			binders[v.Name] = true
		}
	}
	have := make(map[string]bool, len(bound))
	for name, ok := range bound {
		if ok {
			have[name] = true
		}
	}

	order := make([]int, 0, len(patterns))
	placed := make([]bool, len(patterns))
	for len(order) < len(patterns) {
		next := -1
		for i, f := range patterns {
			if placed[i] {
				continue
			}
			if next < 0 {
				next = i
			}
			if ready(f.References(), binders, have) {
				next = i
				break
			}
		}
		placed[next] = true
		order = append(order, next)
		for _, v := range patterns[next].Variables() {
			have[v.Name] = true
		}
	}
	return order
}

// ready reports whether every reference that some pattern can bind is
// already bound. References nothing binds never become ready, so they do not
// hold a pattern back.
func ready(refs []string, binders, have map[string]bool) bool {
	return !slices.ContainsFunc(refs, func(name string) bool {
		return binders[name] && !have[name]
	})
}
