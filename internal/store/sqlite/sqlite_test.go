package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/querysql"
	"github.com/roach88/factlog/internal/store"
	"github.com/roach88/factlog/internal/store/storetest"
	"github.com/roach88/factlog/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBackendBehaviour(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		return createTestStore(t)
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	parentOf := logic.Stored("ParentOf", "person", "person")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Store(ctx, parentOf.Fact(logic.K("john"), logic.K("alice"))))
	require.NoError(t, s1.PutEntities(ctx, store.Entity{Type: "person", Key: ir.String("john"), Attrs: ir.Object{"age": ir.Int(70)}}))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, []string{"ParentOf"}, s2.Relations(), "relations reloaded")
	got, err := s2.Lookup(ctx, store.LookupRequest{Pattern: parentOf.Fact(logic.Var("p"), logic.Var("c"))})
	require.NoError(t, err)
	assert.Equal(t, []ir.List{{ir.String("john"), ir.String("alice")}}, got)

	err = s2.Declare(ctx, logic.Stored("ParentOf", "person", "robot"))
	assert.ErrorContains(t, err, "already declared", "reloaded slot types are checked")
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(tt.name, tt.want))
		})
	}
}

// Schema and migration tests

func TestSchema_Tables(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.Declare(context.Background(), logic.Stored("WorksOn", "employee", "project")))

	for _, table := range []string{"entities", "relations", "fact_WorksOn"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}

	var arity int
	var types string
	err := s.db.QueryRow("SELECT arity, slot_types FROM relations WHERE predicate = ?", "WorksOn").Scan(&arity, &types)
	require.NoError(t, err)
	assert.Equal(t, 2, arity)
	assert.Equal(t, `["employee","project"]`, types)
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var name string
	err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_entities_type'").Scan(&name)
	assert.NoError(t, err)
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_entities_type")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_entities_type'").Scan(&name)
	assert.NoError(t, err, "migration recreated the index")
}

func TestOpen_EncodingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)

	var version string
	require.NoError(t, s.db.QueryRow("SELECT value FROM meta WHERE name = 'encoding_version'").Scan(&version))
	assert.Equal(t, ir.EncodingVersion, version)

	_, err = s.db.Exec("UPDATE meta SET value = '0' WHERE name = 'encoding_version'")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encoding version 0")
}

func TestStore_ValuesAreParameterised(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := logic.Stored("Named", "thing")
	evil := `x"); DROP TABLE entities; --`

	require.NoError(t, s.Store(ctx, p.Fact(logic.K(evil))))
	got, err := s.Lookup(ctx, store.LookupRequest{Pattern: p.Fact(logic.K(evil))})
	require.NoError(t, err)
	assert.Equal(t, []ir.List{{ir.String(evil)}}, got)

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='entities'").Scan(&name)
	assert.NoError(t, err, "entities table survives")
}

func TestHydrate_LargeBatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var (
		entities []store.Entity
		keys     []ir.Value
	)
	for i := range hydrateChunk*2 + 7 {
		entities = append(entities, store.Entity{Type: "item", Key: ir.Int(int64(i)), Attrs: ir.Object{"n": ir.Int(int64(i))}})
		keys = append(keys, ir.Int(int64(i)))
	}
	require.NoError(t, s.PutEntities(ctx, entities...))

	got, err := s.Hydrate(ctx, "item", keys)
	require.NoError(t, err)
	assert.Len(t, got, len(keys))
	assert.Equal(t, ir.Object{"n": ir.Int(42)}, got[store.EntityKey(ir.Int(42))].Attrs)
}

func TestQueryConjunction(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ds := testutil.Work()
	require.NoError(t, s.Declare(ctx, testutil.WorksFor))
	require.NoError(t, s.Declare(ctx, testutil.WorksOn))
	require.NoError(t, s.Store(ctx, ds.Facts...))
	require.NoError(t, s.PutEntities(ctx, ds.Entities...))

	sameCompany := constraint.Field("company").Ref("c")
	got, conj, err := s.QueryConjunction(ctx, []logic.Fact{
		testutil.WorksOn.Fact(logic.Var("e"), logic.Var("p", sameCompany)),
		testutil.WorksFor.Fact(logic.Var("e"), logic.Var("c")),
	})
	require.NoError(t, err)
	assert.Equal(t, []logic.Binding{
		{"e": ir.String("alice"), "p": ir.String("rocket"), "c": ir.String("acme")},
		{"e": ir.String("bob"), "p": ir.String("portal"), "c": ir.String("globex")},
	}, got)
	assert.Equal(t, []string{"e"}, conj.JoinVariables)

	got, _, err = s.QueryConjunction(ctx, []logic.Fact{
		testutil.WorksFor.Fact(logic.K("alice"), logic.K("acme")),
	})
	require.NoError(t, err)
	assert.Equal(t, []logic.Binding{{}}, got, "ground conjunction that holds")

	got, _, err = s.QueryConjunction(ctx, []logic.Fact{
		testutil.WorksFor.Fact(logic.K("alice"), logic.K("globex")),
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryConjunction_Errors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, err := s.QueryConjunction(ctx, []logic.Fact{testutil.ParentOf.Fact(logic.Var("a"), logic.Var("b"))})
	assert.ErrorContains(t, err, "ParentOf is not declared")

	require.NoError(t, s.Declare(ctx, testutil.ParentOf))
	_, _, err = s.QueryConjunction(ctx, []logic.Fact{
		testutil.ParentOf.Fact(logic.Var("a"), logic.Var("b")),
		testutil.GrandparentOf.Fact(logic.Var("b"), logic.Var("c")),
	})
	assert.ErrorIs(t, err, querysql.ErrInferredPattern)
}
