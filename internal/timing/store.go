package timing

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Defaults for Config.
const (
	DefaultHistoryCapacity = 100
	DefaultCacheCapacity   = 500
	DefaultMaxPatterns     = 1000
)

// Config bounds the store's memory.
type Config struct {
	// HistoryCapacity is the number of most recent samples kept per key.
	HistoryCapacity int `yaml:"history_capacity"`
	// CacheCapacity is the number of cached estimates.
	CacheCapacity int `yaml:"cache_capacity"`
	// MaxPatterns is the number of keys with a history; the least recently
	// recorded key is forgotten first.
	MaxPatterns int `yaml:"max_patterns"`
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: DefaultHistoryCapacity,
		CacheCapacity:   DefaultCacheCapacity,
		MaxPatterns:     DefaultMaxPatterns,
	}
}

// Validate checks that every bound is positive.
func (c Config) Validate() error {
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("history_capacity must be positive, got %d", c.HistoryCapacity)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.MaxPatterns <= 0 {
		return fmt.Errorf("max_patterns must be positive, got %d", c.MaxPatterns)
	}
	return nil
}

// Source says where an estimate came from.
type Source string

const (
	SourceCached  Source = "cached"
	SourceLearned Source = "learned"
	SourceStatic  Source = "static"
)

// Estimate is a cost in seconds.
type Estimate struct {
	Cost   float64
	Source Source
}

// Stat summarises one key's history.
type Stat struct {
	Count int           `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Store records step durations and derives cost estimates from them.
// Safe for concurrent use.
type Store struct {
	cfg Config

	// mu serialises history mutation with cache invalidation so an estimate
	// is never cached from a history that a concurrent Record already
	// changed.
	mu        sync.Mutex
	histories *lru.Cache[string, *history]
	estimates *lru.Cache[string, float64]
}

// New creates a store with the given bounds.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("timing config: %w", err)
	}
	s := &Store{cfg: cfg}

	estimates, err := lru.New[string, float64](cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("estimate cache: %w", err)
	}
	s.estimates = estimates

	histories, err := lru.NewWithEvict[string, *history](cfg.MaxPatterns, func(key string, _ *history) {
		s.estimates.Remove(key)
	})
	if err != nil {
		return nil, fmt.Errorf("history cache: %w", err)
	}
	s.histories = histories
	return s, nil
}

// NewDefault creates a store with DefaultConfig.
func NewDefault() *Store {
	s, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return s
}

// Config returns the store's bounds.
func (s *Store) Config() Config {
	return s.cfg
}

// Record appends a sample for key and invalidates its cached estimate.
func (s *Store) Record(key string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.histories.Get(key)
	if !ok {
		h = newHistory(s.cfg.HistoryCapacity)
		s.histories.Add(key, h)
	}
	h.add(d)
	s.estimates.Remove(key)
}

// Estimate returns the cost of key in seconds: the cached estimate if any,
// else the average of the recorded history, else fallback. A learned
// average always wins over the fallback once any sample exists.
func (s *Store) Estimate(key string, fallback float64) Estimate {
	if cost, ok := s.estimates.Get(key); ok {
		return Estimate{Cost: cost, Source: SourceCached}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.histories.Peek(key)
	if !ok || h.len() == 0 {
		return Estimate{Cost: fallback, Source: SourceStatic}
	}
	cost := h.stat().Avg.Seconds()
	s.estimates.Add(key, cost)
	return Estimate{Cost: cost, Source: SourceLearned}
}

// History returns key's samples, oldest first.
func (s *Store) History(key string) []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories.Peek(key)
	if !ok {
		return nil
	}
	return h.values()
}

// Stat summarises one key.
func (s *Store) Stat(key string) (Stat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories.Peek(key)
	if !ok {
		return Stat{}, false
	}
	return h.stat(), true
}

// Stats summarises every tracked key.
func (s *Store) Stats() map[string]Stat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Stat, s.histories.Len())
	for _, key := range s.histories.Keys() {
		if h, ok := s.histories.Peek(key); ok {
			out[key] = h.stat()
		}
	}
	return out
}

// Reset forgets every sample and estimate.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories.Purge()
	s.estimates.Purge()
}
