// Package config loads factlog settings from YAML.
//
//	engine:
//	  history_capacity: 100
//	  cache_capacity: 500
//	  max_patterns: 1000
//	  default_cost: 0.01
//	store:
//	  driver: sqlite
//	  path: facts.db
//	log:
//	  level: debug
//	  format: text
//
// Every field is optional; missing fields keep their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/factlog/internal/engine"
	"github.com/roach88/factlog/internal/planner"
	"github.com/roach88/factlog/internal/store"
	"github.com/roach88/factlog/internal/store/memstore"
	"github.com/roach88/factlog/internal/store/sqlite"
	"github.com/roach88/factlog/internal/timing"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the full configuration file.
type Config struct {
	Engine Engine `yaml:"engine"`
	Store  Store  `yaml:"store"`
	Log    Log    `yaml:"log"`
}

// Engine tunes the planner and the timing store.
type Engine struct {
	HistoryCapacity int     `yaml:"history_capacity"`
	CacheCapacity   int     `yaml:"cache_capacity"`
	MaxPatterns     int     `yaml:"max_patterns"`
	DefaultCost     float64 `yaml:"default_cost"`
}

// Store selects the storage backend.
type Store struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration: in-memory store, info logs.
func Default() Config {
	tc := timing.DefaultConfig()
	return Config{
		Engine: Engine{
			HistoryCapacity: tc.HistoryCapacity,
			CacheCapacity:   tc.CacheCapacity,
			MaxPatterns:     tc.MaxPatterns,
			DefaultCost:     planner.DefaultCost,
		},
		Store: Store{Driver: DriverMemory},
		Log:   Log{Level: "info", Format: "text"},
	}
}

// Load reads and validates a YAML file on top of Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := c.Engine.timing().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.DefaultCost <= 0 {
		return fmt.Errorf("engine: default_cost must be positive, got %v", c.Engine.DefaultCost)
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store: path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store: unknown driver %q (want %s or %s)", c.Store.Driver, DriverMemory, DriverSQLite)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q (want text or json)", c.Log.Format)
	}
	return nil
}

func (e Engine) timing() timing.Config {
	return timing.Config{
		HistoryCapacity: e.HistoryCapacity,
		CacheCapacity:   e.CacheCapacity,
		MaxPatterns:     e.MaxPatterns,
	}
}

// Options builds engine options: a timing store sized by the config, the
// default cost and the logger.
func (c Config) Options(logger *slog.Logger) ([]engine.Option, error) {
	ts, err := timing.New(c.Engine.timing())
	if err != nil {
		return nil, err
	}
	return []engine.Option{
		engine.WithTimingStore(ts),
		engine.WithDefaultCost(c.Engine.DefaultCost),
		engine.WithLogger(logger),
	}, nil
}

// OpenBackend opens the configured storage backend.
func (c Config) OpenBackend() (store.Backend, error) {
	switch c.Store.Driver {
	case DriverSQLite:
		s, err := sqlite.Open(c.Store.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory, "":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

// NewLogger builds a logger writing to w at the configured level and format.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
}
