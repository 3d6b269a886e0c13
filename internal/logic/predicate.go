package logic

import (
	"fmt"
	"slices"
	"sync"
)

// Predicate names a relation and the entity type of each of its slots.
// Only *StoredPredicate and *InferredPredicate implement it.
type Predicate interface {
	Name() string
	SlotTypes() []string
	Arity() int
	predicate()
}

type signature struct {
	name  string
	slots []string
}

func (s signature) Name() string        { return s.name }
func (s signature) SlotTypes() []string { return slices.Clone(s.slots) }
func (s signature) Arity() int          { return len(s.slots) }

// StoredPredicate is backed by a relation in the store. Facts over it can be
// stored and retracted.
type StoredPredicate struct {
	signature
}

func (*StoredPredicate) predicate() {}

// InferredPredicate has no relation; its facts are derived by rules.
type InferredPredicate struct {
	signature
}

func (*InferredPredicate) predicate() {}

// NewStored declares a stored predicate.
func NewStored(name string, slotTypes ...string) (*StoredPredicate, error) {
	sig, err := newSignature(name, slotTypes)
	if err != nil {
		return nil, err
	}
	return &StoredPredicate{signature: sig}, nil
}

// NewInferred declares an inferred predicate.
func NewInferred(name string, slotTypes ...string) (*InferredPredicate, error) {
	sig, err := newSignature(name, slotTypes)
	if err != nil {
		return nil, err
	}
	return &InferredPredicate{signature: sig}, nil
}

// Stored is like NewStored but panics on error. Intended for package-level
// declarations.
func Stored(name string, slotTypes ...string) *StoredPredicate {
	p, err := NewStored(name, slotTypes...)
	if err != nil {
		panic(err)
	}
	return p
}

// Inferred is like NewInferred but panics on error.
func Inferred(name string, slotTypes ...string) *InferredPredicate {
	p, err := NewInferred(name, slotTypes...)
	if err != nil {
		panic(err)
	}
	return p
}

func newSignature(name string, slotTypes []string) (signature, error) {
	if !identPattern.MatchString(name) {
		return signature{}, fmt.Errorf("invalid predicate name %q", name)
	}
	if len(slotTypes) == 0 {
		return signature{}, fmt.Errorf("predicate %s: at least one slot is required", name)
	}
	for i, st := range slotTypes {
		if !identPattern.MatchString(st) {
			return signature{}, fmt.Errorf("predicate %s: slot %d has invalid entity type %q", name, i, st)
		}
	}
	return signature{name: name, slots: slices.Clone(slotTypes)}, nil
}

// IsInferred reports whether p is the inferred variant.
func IsInferred(p Predicate) bool {
	_, ok := p.(*InferredPredicate)
	return ok
}

// Fact builds a pattern over p. It panics on arity mismatch; use NewFact to
// get an error instead.
func (p *StoredPredicate) Fact(terms ...Term) Fact { return MustFact(p, terms...) }

// Fact builds a pattern over p. It panics on arity mismatch.
func (p *InferredPredicate) Fact(terms ...Term) Fact { return MustFact(p, terms...) }

// Kind returns "stored" or "inferred".
func Kind(p Predicate) string {
	if IsInferred(p) {
		return "inferred"
	}
	return "stored"
}

func samePredicate(a, b Predicate) bool {
	return a.Name() == b.Name() && IsInferred(a) == IsInferred(b) &&
		slices.Equal(a.SlotTypes(), b.SlotTypes())
}

// Catalog is the set of declared predicates, keyed by name.
// Safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	preds map[string]Predicate
	order []string
}

// NewCatalog creates a catalog pre-populated with preds.
func NewCatalog(preds ...Predicate) (*Catalog, error) {
	c := &Catalog{preds: make(map[string]Predicate)}
	if err := c.Declare(preds...); err != nil {
		return nil, err
	}
	return c, nil
}

// Declare adds predicates. Re-declaring an identical predicate is a no-op;
// declaring a different predicate under an existing name is an error.
func (c *Catalog) Declare(preds ...Predicate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range preds {
		if p == nil {
			return fmt.Errorf("cannot declare a nil predicate")
		}
		if existing, ok := c.preds[p.Name()]; ok {
			if !samePredicate(existing, p) {
				return fmt.Errorf("predicate %s already declared as %s%v", p.Name(), Kind(existing), existing.SlotTypes())
			}
			continue
		}
		c.preds[p.Name()] = p
		c.order = append(c.order, p.Name())
	}
	return nil
}

// Lookup finds a predicate by name.
func (c *Catalog) Lookup(name string) (Predicate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.preds[name]
	return p, ok
}

// Declared reports whether p, or an identical predicate, is in the catalog.
func (c *Catalog) Declared(p Predicate) bool {
	existing, ok := c.Lookup(p.Name())
	return ok && samePredicate(existing, p)
}

// All returns every predicate in declaration order.
func (c *Catalog) All() []Predicate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Predicate, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.preds[name])
	}
	return out
}
