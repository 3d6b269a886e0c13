package logic

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
)

// Fact is a pattern over a predicate: one term per slot. A fact whose terms
// are all keys is ground and can be stored (if its predicate is stored).
type Fact struct {
	Predicate Predicate
	Terms     []Term
}

func (Fact) body() {}

// NewFact builds a fact, checking arity, keys and variable names.
func NewFact(p Predicate, terms ...Term) (Fact, error) {
	if p == nil {
		return Fact{}, fmt.Errorf("fact has no predicate")
	}
	if len(terms) != p.Arity() {
		return Fact{}, fmt.Errorf("%s expects %d terms, got %d", p.Name(), p.Arity(), len(terms))
	}
	for i, t := range terms {
		switch term := t.(type) {
		case Key:
			if !ir.IsKey(term.Value) {
				return Fact{}, fmt.Errorf("%s slot %d: %T is not a valid entity key", p.Name(), i, term.Value)
			}
		case Variable:
			if err := validateVariable(term); err != nil {
				return Fact{}, fmt.Errorf("%s slot %d: %w", p.Name(), i, err)
			}
		case nil:
			return Fact{}, fmt.Errorf("%s slot %d: missing term", p.Name(), i)
		default:
			return Fact{}, fmt.Errorf("%s slot %d: unsupported term %T", p.Name(), i, t)
		}
	}
	return Fact{Predicate: p, Terms: slices.Clone(terms)}, nil
}

// MustFact is like NewFact but panics on error.
func MustFact(p Predicate, terms ...Term) Fact {
	f, err := NewFact(p, terms...)
	if err != nil {
		panic(err)
	}
	return f
}

// Inferred reports whether the fact's predicate is inferred.
func (f Fact) Inferred() bool {
	return IsInferred(f.Predicate)
}

// Name is the predicate name.
func (f Fact) Name() string {
	return f.Predicate.Name()
}

// Ground returns the slot keys when every term is a Key.
func (f Fact) Ground() (ir.List, bool) {
	keys := make(ir.List, len(f.Terms))
	for i, t := range f.Terms {
		k, ok := t.(Key)
		if !ok {
			return nil, false
		}
		keys[i] = k.Value
	}
	return keys, true
}

// Variables returns the slot variables in slot order, one entry per name
// (the first occurrence).
func (f Fact) Variables() []Variable {
	var out []Variable
	seen := make(map[string]bool)
	for _, t := range f.Terms {
		if v, ok := t.(Variable); ok && !seen[v.Name] {
			seen[v.Name] = true
			out = append(out, v)
		}
	}
	return out
}

// References returns the names of variables used only inside constraints:
// the cross-variable inputs a fact needs bound before it can be looked up.
// Variables the fact binds itself are excluded.
func (f Fact) References() []string {
	own := make(map[string]bool)
	for _, v := range f.Variables() {
		own[v.Name] = true
	}
	var refs []string
	for _, v := range f.Variables() {
		for _, name := range constraint.Variables(v.Where) {
			if !own[name] {
				refs = append(refs, name)
			}
		}
	}
	slices.Sort(refs)
	return slices.Compact(refs)
}

// WithTerms returns a copy of f with new terms. Arity is not rechecked.
func (f Fact) WithTerms(terms []Term) Fact {
	return Fact{Predicate: f.Predicate, Terms: terms}
}

func (f Fact) String() string {
	parts := make([]string, len(f.Terms))
	for i, t := range f.Terms {
		parts[i] = t.String()
	}
	return fmt.Sprintf("%s(%s)", f.Predicate.Name(), strings.Join(parts, ", "))
}
