package testutil

import (
	"context"
	"sync"

	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/store"
)

// CountingBackend wraps a backend and counts lookups per predicate and
// hydrations per entity type.
//
// Thread-safety: all methods are safe for concurrent use.
type CountingBackend struct {
	store.Backend

	mu        sync.Mutex
	lookups   map[string]int
	hydrates  map[string]int
	hydrateKs map[string]int
}

// NewCountingBackend wraps b.
func NewCountingBackend(b store.Backend) *CountingBackend {
	return &CountingBackend{
		Backend:   b,
		lookups:   make(map[string]int),
		hydrates:  make(map[string]int),
		hydrateKs: make(map[string]int),
	}
}

// Lookup counts and delegates.
func (c *CountingBackend) Lookup(ctx context.Context, req store.LookupRequest) ([]ir.List, error) {
	c.mu.Lock()
	c.lookups[req.Pattern.Name()]++
	c.mu.Unlock()
	return c.Backend.Lookup(ctx, req)
}

// Hydrate counts and delegates.
func (c *CountingBackend) Hydrate(ctx context.Context, entityType string, keys []ir.Value) (map[string]store.Entity, error) {
	c.mu.Lock()
	c.hydrates[entityType]++
	c.hydrateKs[entityType] += len(keys)
	c.mu.Unlock()
	return c.Backend.Hydrate(ctx, entityType, keys)
}

// Lookups returns the number of lookups of a predicate.
func (c *CountingBackend) Lookups(predicate string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookups[predicate]
}

// Hydrates returns the number of Hydrate calls for an entity type.
func (c *CountingBackend) Hydrates(entityType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hydrates[entityType]
}

// HydratedKeys returns the number of keys requested for an entity type.
func (c *CountingBackend) HydratedKeys(entityType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hydrateKs[entityType]
}

// HydrateTypes returns how many distinct entity types were hydrated.
func (c *CountingBackend) HydrateTypes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.hydrates)
}

// Reset clears the counters.
func (c *CountingBackend) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.lookups)
	clear(c.hydrates)
	clear(c.hydrateKs)
}
