package logic

import (
	"maps"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
)

// Binding maps variable names to the entity keys bound to them.
type Binding map[string]ir.Value

// Clone returns an independent copy.
func (b Binding) Clone() Binding {
	out := make(Binding, len(b)+1)
	maps.Copy(out, b)
	return out
}

// Lookup adapts a binding for constraint.Resolve.
func (b Binding) Lookup(name string) ([]ir.Value, bool) {
	v, ok := b[name]
	if !ok {
		return nil, false
	}
	return []ir.Value{v}, true
}

// Visible drops hidden variables.
func (b Binding) Visible() Binding {
	out := make(Binding, len(b))
	for k, v := range b {
		if !IsHiddenName(k) {
			out[k] = v
		}
	}
	return out
}

// Object converts the binding to an ir.Object.
func (b Binding) Object() ir.Object {
	out := make(ir.Object, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Signature is a canonical string for the full binding, used to de-duplicate
// rows.
func (b Binding) Signature() string {
	return ir.MustCanonical(b.Object())
}

// Substitute replaces bound variables in f with their keys and resolves
// cross-variable constraints whose referenced variable is bound.
// Variables left open keep their (possibly partially resolved) constraints.
func Substitute(f Fact, b Binding) Fact {
	terms := make([]Term, len(f.Terms))
	for i, t := range f.Terms {
		v, ok := t.(Variable)
		if !ok {
			terms[i] = t
			continue
		}
		if val, bound := b[v.Name]; bound {
			terms[i] = Key{Value: val}
			continue
		}
		if v.Where != nil {
			v.Where, _ = constraint.Resolve(v.Where, b.Lookup)
		}
		terms[i] = v
	}
	return f.WithTerms(terms)
}

// Bind is Substitute for lookups that must still honour constraints on
// bound variables. A bound variable without a constraint becomes its key. A
// bound variable with a constraint stays open, pinned to its key by a
// constraint on the key field, so the lookup still checks the rest of its
// constraint against the entity.
func Bind(f Fact, b Binding) Fact {
	terms := make([]Term, len(f.Terms))
	for i, t := range f.Terms {
		v, ok := t.(Variable)
		if !ok {
			terms[i] = t
			continue
		}
		val, bound := b[v.Name]
		if v.Where != nil {
			v.Where, _ = constraint.Resolve(v.Where, b.Lookup)
		}
		switch {
		case bound && v.Where == nil:
			terms[i] = Key{Value: val}
		case bound:
			v.Where = constraint.Merge(v.Where, constraint.Eq{Field: constraint.KeyField, Value: val})
			terms[i] = v
		default:
			terms[i] = v
		}
	}
	return f.WithTerms(terms)
}

// Unify matches a stored or derived tuple against f's terms under b.
// It returns the extended binding, or false when a key or an already bound
// variable disagrees with the tuple. b itself is never modified.
func Unify(f Fact, tuple ir.List, b Binding) (Binding, bool) {
	if len(tuple) != len(f.Terms) {
		return nil, false
	}
	out := b
	copied := false
	for i, t := range f.Terms {
		switch term := t.(type) {
		case Key:
			if !ir.Equal(term.Value, tuple[i]) {
				return nil, false
			}
		case Variable:
			if existing, ok := out[term.Name]; ok {
				if !ir.Equal(existing, tuple[i]) {
					return nil, false
				}
				continue
			}
			if !copied {
				out = b.Clone()
				copied = true
			}
			out[term.Name] = tuple[i]
		}
	}
	if !copied {
		out = b.Clone()
	}
	return out, true
}

// Project reads terms under b as a tuple. It fails when a variable is
// unbound.
func Project(terms []Term, b Binding) (ir.List, bool) {
	out := make(ir.List, len(terms))
	for i, t := range terms {
		switch term := t.(type) {
		case Key:
			out[i] = term.Value
		case Variable:
			v, ok := b[term.Name]
			if !ok {
				return nil, false
			}
			out[i] = v
		default:
			return nil, false
		}
	}
	return out, true
}
