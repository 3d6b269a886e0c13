// Package storetest is the behaviour suite shared by every store.Backend.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/store"
)

// Opener returns a fresh, empty backend. It should register cleanup with t.
type Opener func(t *testing.T) store.Backend

var (
	parentOf = logic.Stored("ParentOf", "person", "person")
	worksOn  = logic.Stored("WorksOn", "employee", "project")
	tagged   = logic.Stored("Tagged", "item")
	ancestor = logic.Inferred("AncestorOf", "person", "person")
)

func s(v string) ir.Value { return ir.String(v) }

func tuples(rows ...[]string) []ir.List {
	out := []ir.List{}
	for _, r := range rows {
		t := make(ir.List, len(r))
		for i, v := range r {
			t[i] = ir.String(v)
		}
		out = append(out, t)
	}
	return out
}

func lookup(t *testing.T, b store.Backend, f logic.Fact, refs map[string][]ir.Value) []ir.List {
	t.Helper()
	got, err := b.Lookup(context.Background(), store.LookupRequest{Pattern: f, Refs: refs})
	require.NoError(t, err)
	return got
}

// Run executes the suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("StoreAndLookup", func(t *testing.T) { testStoreAndLookup(t, open(t)) })
	t.Run("StoreIsIdempotent", func(t *testing.T) { testStoreIsIdempotent(t, open(t)) })
	t.Run("Retract", func(t *testing.T) { testRetract(t, open(t)) })
	t.Run("NotStorable", func(t *testing.T) { testNotStorable(t, open(t)) })
	t.Run("KeyTypesAreDistinct", func(t *testing.T) { testKeyTypesAreDistinct(t, open(t)) })
	t.Run("RepeatedVariable", func(t *testing.T) { testRepeatedVariable(t, open(t)) })
	t.Run("Constraints", func(t *testing.T) { testConstraints(t, open(t)) })
	t.Run("References", func(t *testing.T) { testReferences(t, open(t)) })
	t.Run("UndeclaredAndInferred", func(t *testing.T) { testUndeclaredAndInferred(t, open(t)) })
	t.Run("Declare", func(t *testing.T) { testDeclare(t, open(t)) })
	t.Run("Hydrate", func(t *testing.T) { testHydrate(t, open(t)) })
}

func testStoreAndLookup(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Store(ctx,
		parentOf.Fact(logic.K("john"), logic.K("alice")),
		parentOf.Fact(logic.K("alice"), logic.K("bob")),
		parentOf.Fact(logic.K("alice"), logic.K("carol")),
	))

	all := lookup(t, b, parentOf.Fact(logic.Var("p"), logic.Var("c")), nil)
	assert.Equal(t, tuples([]string{"john", "alice"}, []string{"alice", "bob"}, []string{"alice", "carol"}), all,
		"insertion order")

	children := lookup(t, b, parentOf.Fact(logic.K("alice"), logic.Var("c")), nil)
	assert.Equal(t, tuples([]string{"alice", "bob"}, []string{"alice", "carol"}), children)

	none := lookup(t, b, parentOf.Fact(logic.K("bob"), logic.Var("c")), nil)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testStoreIsIdempotent(t *testing.T, b store.Backend) {
	ctx := context.Background()
	f := parentOf.Fact(logic.K("john"), logic.K("alice"))
	require.NoError(t, b.Store(ctx, f, f))
	require.NoError(t, b.Store(ctx, f))

	assert.Len(t, lookup(t, b, parentOf.Fact(logic.Var("p"), logic.Var("c")), nil), 1)
}

func testRetract(t *testing.T, b store.Backend) {
	ctx := context.Background()
	a := parentOf.Fact(logic.K("a"), logic.K("b"))
	c := parentOf.Fact(logic.K("c"), logic.K("d"))
	require.NoError(t, b.Store(ctx, a, c))

	require.NoError(t, b.Retract(ctx, a, parentOf.Fact(logic.K("x"), logic.K("y"))))
	assert.Equal(t, tuples([]string{"c", "d"}), lookup(t, b, parentOf.Fact(logic.Var("p"), logic.Var("q")), nil))

	require.NoError(t, b.Store(ctx, a))
	assert.Equal(t, tuples([]string{"c", "d"}, []string{"a", "b"}), lookup(t, b, parentOf.Fact(logic.Var("p"), logic.Var("q")), nil),
		"a re-stored fact goes last")

	require.NoError(t, b.Retract(ctx, tagged.Fact(logic.K("never-declared"))))
}

func testNotStorable(t *testing.T, b store.Backend) {
	ctx := context.Background()

	err := b.Store(ctx, ancestor.Fact(logic.K("a"), logic.K("b")))
	assert.ErrorIs(t, err, store.ErrNotStorable)

	err = b.Retract(ctx, ancestor.Fact(logic.K("a"), logic.K("b")))
	assert.ErrorIs(t, err, store.ErrNotStorable)

	err = b.Store(ctx, parentOf.Fact(logic.K("a"), logic.Var("x")))
	assert.ErrorIs(t, err, store.ErrNotGround)
	assert.NotErrorIs(t, err, store.ErrNotStorable)

	// nothing partial was written
	err = b.Store(ctx, parentOf.Fact(logic.K("a"), logic.K("b")), ancestor.Fact(logic.K("a"), logic.K("b")))
	assert.ErrorIs(t, err, store.ErrNotStorable)
	assert.Empty(t, lookup(t, b, parentOf.Fact(logic.Var("p"), logic.Var("q")), nil))
}

func testKeyTypesAreDistinct(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Store(ctx, tagged.Fact(logic.K(7)), tagged.Fact(logic.K("7"))))

	all := lookup(t, b, tagged.Fact(logic.Var("x")), nil)
	assert.Equal(t, []ir.List{{ir.Int(7)}, {ir.String("7")}}, all)

	assert.Equal(t, []ir.List{{ir.Int(7)}}, lookup(t, b, tagged.Fact(logic.K(7)), nil))
}

func testRepeatedVariable(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Store(ctx,
		parentOf.Fact(logic.K("a"), logic.K("a")),
		parentOf.Fact(logic.K("a"), logic.K("b")),
	))

	got := lookup(t, b, parentOf.Fact(logic.Var("x"), logic.Var("x")), nil)
	assert.Equal(t, tuples([]string{"a", "a"}), got)
}

func seedProjects(t *testing.T, b store.Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.PutEntities(ctx,
		store.Entity{Type: "project", Key: s("p1"), Attrs: ir.Object{"company": s("c1"), "budget": ir.Int(10), "active": ir.Bool(true)}},
		store.Entity{Type: "project", Key: s("p2"), Attrs: ir.Object{"company": s("c2"), "budget": ir.Int(30), "meta": ir.Object{"region": s("eu")}}},
		store.Entity{Type: "project", Key: s("p3"), Attrs: ir.Object{"company": ir.Null{}}},
	))
	require.NoError(t, b.Store(ctx,
		worksOn.Fact(logic.K("e1"), logic.K("p1")),
		worksOn.Fact(logic.K("e2"), logic.K("p2")),
		worksOn.Fact(logic.K("e3"), logic.K("p3")),
		worksOn.Fact(logic.K("e4"), logic.K("p4")), // no entity
	))
}

func testConstraints(t *testing.T, b store.Backend) {
	seedProjects(t, b)
	company := constraint.Field("company")
	budget := constraint.Field("budget")

	tests := []struct {
		name  string
		where constraint.Constraint
		want  []string
	}{
		{"eq", company.Eq(s("c1")), []string{"p1"}},
		{"eq null matches null and missing", company.Eq(ir.Null{}), []string{"p3", "p4"}},
		{"ne skips null and missing", company.Ne(s("c1")), []string{"p2"}},
		{"gt", budget.Gt(ir.Int(10)), []string{"p2"}},
		{"le", budget.Le(ir.Int(10)), []string{"p1"}},
		{"type mismatch never matches", budget.Gt(s("a")), nil},
		{"bool", constraint.Field("active").Eq(ir.Bool(true)), []string{"p1"}},
		{"in", company.In(s("c2"), s("c9")), []string{"p2"}},
		{"empty in", constraint.In{Field: "company"}, nil},
		{"pk", constraint.Field(constraint.KeyField).Eq(s("p4")), []string{"p4"}},
		{"pk comparison", constraint.Field(constraint.KeyField).Ge(s("p3")), []string{"p3", "p4"}},
		{"dotted path", constraint.Field("meta.region").Eq(s("eu")), []string{"p2"}},
		{"not", constraint.Not{Term: company.Eq(s("c1"))}, []string{"p2", "p3", "p4"}},
		{"or", constraint.Or{Terms: []constraint.Constraint{company.Eq(s("c1")), budget.Ge(ir.Int(30))}}, []string{"p1", "p2"}},
		{"and", constraint.Merge(budget.Ge(ir.Int(5)), company.Ne(s("c2"))), []string{"p1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Built directly: an empty In does not pass fact validation.
			pattern := logic.Fact{Predicate: worksOn, Terms: []logic.Term{logic.Var("e"), logic.Var("p", tt.where)}}
			got := lookup(t, b, pattern, nil)
			var projects []string
			for _, tuple := range got {
				projects = append(projects, string(tuple[1].(ir.String)))
			}
			assert.Equal(t, tt.want, projects)
		})
	}
}

func testReferences(t *testing.T, b store.Backend) {
	seedProjects(t, b)
	ref := constraint.Field("company").Ref("c")
	pattern := worksOn.Fact(logic.Var("e"), logic.Var("p", ref))

	got := lookup(t, b, pattern, map[string][]ir.Value{"c": {s("c1"), s("c2")}})
	assert.Equal(t, tuples([]string{"e1", "p1"}, []string{"e2", "p2"}), got, "existence filter over a value set")

	got = lookup(t, b, pattern, map[string][]ir.Value{"c": {s("c2")}})
	assert.Equal(t, tuples([]string{"e2", "p2"}), got)

	got = lookup(t, b, pattern, nil)
	assert.Empty(t, got, "unresolved reference gives no tuples")
}

func testUndeclaredAndInferred(t *testing.T, b store.Backend) {
	assert.Empty(t, lookup(t, b, tagged.Fact(logic.Var("x")), nil))

	_, err := b.Lookup(context.Background(), store.LookupRequest{Pattern: ancestor.Fact(logic.Var("a"), logic.Var("b"))})
	assert.ErrorContains(t, err, "predicate is inferred")
}

func testDeclare(t *testing.T, b store.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Declare(ctx, tagged))
	require.NoError(t, b.Declare(ctx, tagged))
	assert.Empty(t, lookup(t, b, tagged.Fact(logic.Var("x")), nil))

	err := b.Declare(ctx, logic.Stored("Tagged", "other"))
	assert.ErrorContains(t, err, "already declared")
}

func testHydrate(t *testing.T, b store.Backend) {
	seedProjects(t, b)
	ctx := context.Background()

	got, err := b.Hydrate(ctx, "project", []ir.Value{s("p1"), s("p4"), s("p2")})
	require.NoError(t, err)
	require.Len(t, got, 2, "missing entities are absent")

	p1, ok := got[store.EntityKey(s("p1"))]
	require.True(t, ok)
	assert.Equal(t, "project", p1.Type)
	assert.Equal(t, s("p1"), p1.Key)
	assert.Equal(t, ir.Object{"company": s("c1"), "budget": ir.Int(10), "active": ir.Bool(true)}, p1.Attrs)

	other, err := b.Hydrate(ctx, "employee", []ir.Value{s("p1")})
	require.NoError(t, err)
	assert.Empty(t, other, "hydration is per type")

	require.NoError(t, b.PutEntities(ctx, store.Entity{Type: "project", Key: s("p1"), Attrs: ir.Object{"company": s("c9")}}))
	got, err = b.Hydrate(ctx, "project", []ir.Value{s("p1")})
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"company": s("c9")}, got[store.EntityKey(s("p1"))].Attrs, "put replaces")

	empty, err := b.Hydrate(ctx, "project", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
