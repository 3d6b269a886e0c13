// Package memstore is an in-memory store.Backend. Facts keep insertion
// order and constraints are evaluated with constraint.Eval, so it behaves
// like the SQLite backend without a database file.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/store"
)

type relation struct {
	types  []string
	tuples []ir.List
	index  map[string]int // tuple key -> position in tuples
}

func (r *relation) add(tuple ir.List) {
	k := ir.TupleKey(tuple)
	if _, ok := r.index[k]; ok {
		return
	}
	r.index[k] = len(r.tuples)
	r.tuples = append(r.tuples, tuple)
}

func (r *relation) remove(tuple ir.List) {
	k := ir.TupleKey(tuple)
	pos, ok := r.index[k]
	if !ok {
		return
	}
	r.tuples = slices.Delete(r.tuples, pos, pos+1)
	delete(r.index, k)
	for i := pos; i < len(r.tuples); i++ {
		r.index[ir.TupleKey(r.tuples[i])] = i
	}
}

// Store is a map-backed store.Backend. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	relations map[string]*relation
	entities  map[string]map[string]store.Entity // type -> entity key -> entity
}

var _ store.Backend = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		relations: make(map[string]*relation),
		entities:  make(map[string]map[string]store.Entity),
	}
}

// Declare creates an empty relation for p.
func (s *Store) Declare(_ context.Context, p *logic.StoredPredicate) error {
	if p == nil {
		return fmt.Errorf("declare: nil predicate")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.declareLocked(p)
	return err
}

func (s *Store) declareLocked(p *logic.StoredPredicate) (*relation, error) {
	types := p.SlotTypes()
	if r, ok := s.relations[p.Name()]; ok {
		if !slices.Equal(r.types, types) {
			return nil, fmt.Errorf("declare %s: already declared with slot types %v", p.Name(), r.types)
		}
		return r, nil
	}
	r := &relation{types: types, index: make(map[string]int)}
	s.relations[p.Name()] = r
	return r, nil
}

// Store adds ground facts. Duplicates are ignored.
func (s *Store) Store(ctx context.Context, facts ...logic.Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batches, err := store.Group(facts)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range batches {
		if r, ok := s.relations[b.Predicate.Name()]; ok && !slices.Equal(r.types, b.Predicate.SlotTypes()) {
			return fmt.Errorf("store: declare %s: already declared with slot types %v", b.Predicate.Name(), r.types)
		}
	}
	for _, b := range batches {
		r, _ := s.declareLocked(b.Predicate)
		for _, t := range b.Tuples {
			r.add(t)
		}
	}
	return nil
}

// Retract removes ground facts. Missing facts are ignored.
func (s *Store) Retract(ctx context.Context, facts ...logic.Fact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batches, err := store.Group(facts)
	if err != nil {
		return fmt.Errorf("retract: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range batches {
		r, ok := s.relations[b.Predicate.Name()]
		if !ok {
			continue
		}
		for _, t := range b.Tuples {
			r.remove(t)
		}
	}
	return nil
}

// Lookup scans the relation and filters each tuple.
func (s *Store) Lookup(ctx context.Context, req store.LookupRequest) ([]ir.List, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slots, ok, err := store.Prepare(req)
	if err != nil {
		return nil, err
	}
	out := []ir.List{}
	if !ok {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, declared := s.relations[req.Pattern.Name()]
	if !declared {
		return out, nil
	}
	for _, tuple := range r.tuples {
		match, err := s.matches(slots, tuple)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: %w", req.Pattern.Name(), err)
		}
		if match {
			out = append(out, slices.Clone(tuple))
		}
	}
	return out, nil
}

func (s *Store) matches(slots []store.Slot, tuple ir.List) (bool, error) {
	for i, slot := range slots {
		v := tuple[i]
		if slot.Key != nil {
			if !ir.Equal(slot.Key, v) {
				return false, nil
			}
			continue
		}
		if slot.Same >= 0 && !ir.Equal(tuple[slot.Same], v) {
			return false, nil
		}
		if slot.Where == nil {
			continue
		}
		var attrs ir.Object
		if e, ok := s.entities[slot.Type][store.EntityKey(v)]; ok {
			attrs = e.Attrs
		}
		ok, err := constraint.Eval(slot.Where, v, attrs)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// PutEntities inserts or replaces entities.
func (s *Store) PutEntities(_ context.Context, entities ...store.Entity) error {
	for _, e := range entities {
		if e.Type == "" {
			return fmt.Errorf("put entities: entity %v has no type", e.Key)
		}
		if !ir.IsKey(e.Key) {
			return fmt.Errorf("put entities: entity %s: %T is not a valid entity key", e.Type, e.Key)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		byKey, ok := s.entities[e.Type]
		if !ok {
			byKey = make(map[string]store.Entity)
			s.entities[e.Type] = byKey
		}
		if e.Attrs == nil {
			e.Attrs = ir.Object{}
		}
		byKey[store.EntityKey(e.Key)] = e
	}
	return nil
}

// Hydrate returns the known entities among keys.
func (s *Store) Hydrate(ctx context.Context, entityType string, keys []ir.Value) (map[string]store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]store.Entity, len(keys))
	for _, k := range keys {
		id := store.EntityKey(k)
		if e, ok := s.entities[entityType][id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
