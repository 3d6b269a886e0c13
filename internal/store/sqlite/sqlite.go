// Package sqlite is the durable store.Backend.
//
// # Layout
//
//   - entities(type, key, attrs): attrs is canonical JSON
//   - relations(predicate, arity, slot_types): one row per stored predicate
//   - fact_<predicate>(seq, s0..sN): one table per stored predicate,
//     UNIQUE over the slots so storing a fact twice is a no-op
//
// # Determinism
//
// Every lookup orders by seq, the insertion sequence, so results are
// identical across runs over the same database.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/querysql"
	"github.com/roach88/factlog/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on entities.type
const currentSchemaVersion = 1

// Store is a SQLite store.Backend.
type Store struct {
	db       *sql.DB
	compiler *querysql.SQLCompiler

	mu        sync.RWMutex
	relations map[string][]string // predicate -> slot types
}

var _ store.Backend = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also keeps ":memory:" databases to a single shared connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{
		db:        db,
		compiler:  querysql.NewSQLCompiler(),
		relations: make(map[string][]string),
	}
	if err := s.loadRelations(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return checkEncoding(db)
}

// checkEncoding records ir.EncodingVersion in a fresh database and rejects
// one written with a different encoding.
func checkEncoding(db *sql.DB) error {
	if _, err := db.Exec(`INSERT OR IGNORE INTO meta (name, value) VALUES ('encoding_version', ?)`, ir.EncodingVersion); err != nil {
		return fmt.Errorf("record encoding version: %w", err)
	}
	var version string
	if err := db.QueryRow(`SELECT value FROM meta WHERE name = 'encoding_version'`).Scan(&version); err != nil {
		return fmt.Errorf("read encoding version: %w", err)
	}
	if version != ir.EncodingVersion {
		return fmt.Errorf("database encoding version %s, engine expects %s", version, ir.EncodingVersion)
	}
	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes entities by type for hydration batches.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type)`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func (s *Store) loadRelations(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT predicate, slot_types FROM relations ORDER BY predicate`)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var name, typesJSON string
		if err := rows.Scan(&name, &typesJSON); err != nil {
			return fmt.Errorf("scan relation: %w", err)
		}
		var types []string
		if err := json.Unmarshal([]byte(typesJSON), &types); err != nil {
			return fmt.Errorf("relation %s: decode slot types: %w", name, err)
		}
		s.relations[name] = types
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate relations: %w", err)
	}
	return nil
}

// relation returns the declared slot types of a predicate.
func (s *Store) relation(name string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types, ok := s.relations[name]
	return types, ok
}

// Relations lists the declared predicates, sorted.
func (s *Store) Relations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.relations))
	for name := range s.relations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
