package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
)

// ErrNotStorable is returned when a store or retract targets an inferred
// predicate.
var ErrNotStorable = errors.New("fact is not storable")

// ErrNotGround is returned when a stored or retracted fact still has
// variables.
var ErrNotGround = errors.New("fact is not ground")

// Entity is a materialised entity: its type, its key and its attributes.
type Entity struct {
	Type  string    `json:"type"`
	Key   ir.Value  `json:"key"`
	Attrs ir.Object `json:"attrs"`
}

// LookupRequest asks a backend for the stored tuples matching Pattern.
//
// Key terms must match exactly. Variable terms match anything their
// constraint accepts, and a variable repeated across slots requires equal
// values. Refs supplies value sets for variables referenced inside
// constraints that the caller could not bind yet; a reference found in
// neither the pattern's binding nor Refs makes the lookup empty.
type LookupRequest struct {
	Pattern logic.Fact
	Refs    map[string][]ir.Value
}

// Backend is the storage collaborator. Implementations must return tuples
// in a deterministic order for a fixed snapshot.
type Backend interface {
	// Declare makes sure a relation exists for p.
	Declare(ctx context.Context, p *logic.StoredPredicate) error
	// Store persists ground facts of stored predicates. Storing a fact that
	// already exists is a no-op.
	Store(ctx context.Context, facts ...logic.Fact) error
	// Retract removes ground facts. Missing facts are ignored.
	Retract(ctx context.Context, facts ...logic.Fact) error
	// Lookup returns every stored tuple matching the request.
	Lookup(ctx context.Context, req LookupRequest) ([]ir.List, error)
	// PutEntities inserts or replaces entities.
	PutEntities(ctx context.Context, entities ...Entity) error
	// Hydrate loads the entities of one type in a single batch. Keys without
	// an entity are absent from the result, which is indexed by EntityKey.
	Hydrate(ctx context.Context, entityType string, keys []ir.Value) (map[string]Entity, error)
	Close() error
}

// EntityKey is the map key Hydrate uses for an entity key.
func EntityKey(key ir.Value) string {
	return ir.MustCanonical(key)
}

// Slot is one resolved slot of a lookup.
type Slot struct {
	// Type is the slot's entity type.
	Type string
	// Key is set when the slot is bound.
	Key ir.Value
	// Same is the index of an earlier slot holding the same variable, or -1.
	Same int
	// Where is the slot's constraint with every reference resolved.
	Where constraint.Constraint
}

// Prepare validates a request and resolves its references. ok is false when
// a reference cannot be resolved, in which case the lookup is empty.
func Prepare(req LookupRequest) (slots []Slot, ok bool, err error) {
	f := req.Pattern
	if f.Predicate == nil {
		return nil, false, fmt.Errorf("lookup: pattern has no predicate")
	}
	if f.Inferred() {
		return nil, false, fmt.Errorf("lookup %s: predicate is inferred", f.Name())
	}
	if len(f.Terms) != f.Predicate.Arity() {
		return nil, false, fmt.Errorf("lookup %s: expects %d terms, got %d", f.Name(), f.Predicate.Arity(), len(f.Terms))
	}

	lookup := func(name string) ([]ir.Value, bool) {
		vs, found := req.Refs[name]
		return vs, found
	}
	types := f.Predicate.SlotTypes()
	first := make(map[string]int)
	slots = make([]Slot, len(f.Terms))
	ok = true
	for i, t := range f.Terms {
		s := Slot{Type: types[i], Same: -1}
		switch term := t.(type) {
		case logic.Key:
			s.Key = term.Value
		case logic.Variable:
			if j, seen := first[term.Name]; seen {
				s.Same = j
			} else {
				first[term.Name] = i
			}
			where, resolved := constraint.Resolve(term.Where, lookup)
			if !resolved {
				ok = false
			}
			s.Where = where
		default:
			return nil, false, fmt.Errorf("lookup %s slot %d: unsupported term %T", f.Name(), i, t)
		}
		slots[i] = s
	}
	return slots, ok, nil
}

// Ground checks that f can be stored and returns its keys.
func Ground(f logic.Fact) (ir.List, error) {
	if f.Predicate == nil {
		return nil, fmt.Errorf("fact has no predicate: %w", ErrNotStorable)
	}
	if f.Inferred() {
		return nil, fmt.Errorf("%s is an inferred predicate: %w", f.Name(), ErrNotStorable)
	}
	if len(f.Terms) != f.Predicate.Arity() {
		return nil, fmt.Errorf("%s expects %d terms, got %d", f.Name(), f.Predicate.Arity(), len(f.Terms))
	}
	keys, ok := f.Ground()
	if !ok {
		return nil, fmt.Errorf("%s has unbound variables: %w", f, ErrNotGround)
	}
	return keys, nil
}

// Group splits facts by predicate, keeping first-seen predicate order and
// fact order within each group. Every fact is checked with Ground.
func Group(facts []logic.Fact) ([]Batch, error) {
	var batches []Batch
	index := make(map[string]int)
	for _, f := range facts {
		keys, err := Ground(f)
		if err != nil {
			return nil, err
		}
		p := f.Predicate.(*logic.StoredPredicate)
		i, seen := index[p.Name()]
		if !seen {
			i = len(batches)
			index[p.Name()] = i
			batches = append(batches, Batch{Predicate: p})
		}
		batches[i].Tuples = append(batches[i].Tuples, keys)
	}
	return batches, nil
}

// Batch is the tuples of one predicate in a Store or Retract call.
type Batch struct {
	Predicate *logic.StoredPredicate
	Tuples    []ir.List
}
