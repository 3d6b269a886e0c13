package constraint

import (
	"slices"
	"strings"

	"github.com/roach88/factlog/internal/ir"
)

// Merge combines constraints by logical AND.
//
// Nested Ands are flattened, nil arguments ignored, and the conjuncts are
// de-duplicated and ordered by Signature. The result therefore does not
// depend on argument order and merging a constraint with itself returns an
// equivalent constraint. Merge never mutates its arguments. It returns nil
// when nothing constrains, and the single conjunct when there is only one.
func Merge(cs ...Constraint) Constraint {
	var terms []Constraint
	for _, c := range cs {
		terms = append(terms, Conjuncts(c)...)
	}
	if len(terms) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(terms))
	unique := make([]Constraint, 0, len(terms))
	for _, t := range terms {
		sig := Signature(t)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		unique = append(unique, t)
	}
	slices.SortStableFunc(unique, func(a, b Constraint) int {
		return strings.Compare(Signature(a), Signature(b))
	})

	if len(unique) == 1 {
		return unique[0]
	}
	return And{Terms: unique}
}

// Conjuncts flattens c into the list of its top-level conjuncts.
func Conjuncts(c Constraint) []Constraint {
	switch n := c.(type) {
	case nil:
		return nil
	case And:
		var out []Constraint
		for _, t := range n.Terms {
			out = append(out, Conjuncts(t)...)
		}
		return out
	default:
		return []Constraint{c}
	}
}

// Split separates c into its ref-free conjuncts and the conjuncts that
// mention another variable. Either result may be nil.
func Split(c Constraint) (local, refs Constraint) {
	var l, r []Constraint
	for _, t := range Conjuncts(c) {
		if len(Variables(t)) > 0 {
			r = append(r, t)
		} else {
			l = append(l, t)
		}
	}
	return Merge(l...), Merge(r...)
}

// Variables returns the sorted names of the variables c refers to.
func Variables(c Constraint) []string {
	var names []string
	walk(c, func(n Constraint) {
		if ref, ok := n.(Ref); ok {
			names = append(names, ref.Var)
		}
	})
	slices.Sort(names)
	return slices.Compact(names)
}

// ReferencesVariable reports whether c mentions the named variable.
func ReferencesVariable(c Constraint, name string) bool {
	return slices.Contains(Variables(c), name)
}

// Count returns the number of leaf conditions in c. The planner uses it as a
// rough selectivity signal.
func Count(c Constraint) int {
	n := 0
	walk(c, func(node Constraint) {
		switch node.(type) {
		case Eq, Cmp, In, Ref:
			n++
		}
	})
	return n
}

// Lookup returns the values bound to a variable. ok is false when the
// variable is not bound yet.
type Lookup func(name string) (values []ir.Value, ok bool)

// Resolve substitutes bound variables into every Ref of c. A single value
// becomes Eq, several values become In (an existence filter over the value
// set). Refs to unbound variables are kept; resolved reports whether none
// remain.
func Resolve(c Constraint, lookup Lookup) (out Constraint, resolved bool) {
	resolved = true
	out = mapRefs(c, func(ref Ref) Constraint {
		values, ok := lookup(ref.Var)
		if !ok {
			resolved = false
			return ref
		}
		if len(values) == 1 {
			return Eq{Field: ref.Field, Value: values[0]}
		}
		return In{Field: ref.Field, Values: slices.Clone(values)}
	})
	return out, resolved
}

// Rename returns c with every referenced variable renamed by fn.
func Rename(c Constraint, fn func(name string) string) Constraint {
	return mapRefs(c, func(ref Ref) Constraint {
		return Ref{Field: ref.Field, Var: fn(ref.Var)}
	})
}

func mapRefs(c Constraint, fn func(Ref) Constraint) Constraint {
	var rewrite func(Constraint) Constraint
	rewrite = func(n Constraint) Constraint {
		switch node := n.(type) {
		case Ref:
			return fn(node)
		case And:
			return And{Terms: rewriteAll(node.Terms, rewrite)}
		case Or:
			return Or{Terms: rewriteAll(node.Terms, rewrite)}
		case Not:
			return Not{Term: rewrite(node.Term)}
		default:
			return n
		}
	}
	if c == nil {
		return nil
	}
	return rewrite(c)
}

func rewriteAll(terms []Constraint, fn func(Constraint) Constraint) []Constraint {
	out := make([]Constraint, len(terms))
	for i, t := range terms {
		out[i] = fn(t)
	}
	return out
}

func walk(c Constraint, fn func(Constraint)) {
	if c == nil {
		return
	}
	fn(c)
	switch n := c.(type) {
	case And:
		for _, t := range n.Terms {
			walk(t, fn)
		}
	case Or:
		for _, t := range n.Terms {
			walk(t, fn)
		}
	case Not:
		walk(n.Term, fn)
	}
}
