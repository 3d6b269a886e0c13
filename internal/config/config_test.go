package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factlog/internal/engine"
	"github.com/roach88/factlog/internal/store/memstore"
	"github.com/roach88/factlog/internal/store/sqlite"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 100, cfg.Engine.HistoryCapacity)
	assert.Equal(t, 0.01, cfg.Engine.DefaultCost)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
engine:
  history_capacity: 20
  default_cost: 0.5
store:
  driver: sqlite
  path: facts.db
log:
  level: debug
  format: json
`))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Engine.HistoryCapacity)
	assert.Equal(t, 500, cfg.Engine.CacheCapacity, "unset fields keep defaults")
	assert.Equal(t, 0.5, cfg.Engine.DefaultCost)
	assert.Equal(t, Store{Driver: DriverSQLite, Path: "facts.db"}, cfg.Store)
	assert.Equal(t, Log{Level: "debug", Format: "json"}, cfg.Log)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "engine:\n  history: 3\n", "field history not found"},
		{"zero capacity", "engine:\n  history_capacity: 0\n", "history_capacity must be positive"},
		{"negative cost", "engine:\n  default_cost: -1\n", "default_cost must be positive"},
		{"unknown driver", "store:\n  driver: postgres\n", "unknown driver"},
		{"sqlite without path", "store:\n  driver: sqlite\n", "path is required"},
		{"bad level", "log:\n  level: loud\n", "unknown level"},
		{"bad format", "log:\n  format: xml\n", "unknown format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenBackend(t *testing.T) {
	b, err := Default().OpenBackend()
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, b)

	cfg := Default()
	cfg.Store = Store{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "test.db")}
	b, err = cfg.OpenBackend()
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &sqlite.Store{}, b)
}

func TestOptions_BuildEngine(t *testing.T) {
	cfg := Default()
	cfg.Engine.HistoryCapacity = 7
	opts, err := cfg.Options(slog.Default())
	require.NoError(t, err)

	e, err := engine.New(memstore.New(), opts...)
	require.NoError(t, err)
	for range 10 {
		e.Timing().Record("k", 1)
	}
	assert.Len(t, e.Timing().History("k"), 7)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log = Log{Level: "warn", Format: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}
