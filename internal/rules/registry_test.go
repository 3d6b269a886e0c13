package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factlog/internal/logic"
)

var (
	parentOf      = logic.Stored("ParentOf", "Person", "Person")
	colleagueOf   = logic.Stored("ColleagueOf", "Person", "Person")
	grandparentOf = logic.Inferred("GrandparentOf", "Person", "Person")
	relatedTo     = logic.Inferred("RelatedTo", "Person", "Person")
	reachable     = logic.Inferred("Reachable", "Person", "Person")
	ancestorOf    = logic.Inferred("AncestorOf", "Person", "Person")
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	catalog, err := logic.NewCatalog(parentOf, colleagueOf, grandparentOf, relatedTo, reachable, ancestorOf)
	require.NoError(t, err)
	return New(catalog, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func v(name string) logic.Variable { return logic.Var(name) }

func grandparentRule() logic.Rule {
	return logic.Rule{
		Head: grandparentOf.Fact(v("g"), v("c")),
		Body: logic.And(parentOf.Fact(v("g"), v("p")), parentOf.Fact(v("p"), v("c"))),
	}
}

// ============================================================================
// Definition errors
// ============================================================================

func TestDefineValidRule(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.DefineRule(context.Background(), grandparentRule()))
	assert.Len(t, r.Rules(context.Background(), "GrandparentOf"), 1)
}

func TestDefineRejectsStoredHead(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Define(context.Background(), parentOf.Fact(v("a"), v("b")), colleagueOf.Fact(v("a"), v("b")))

	require.Error(t, err)
	assert.True(t, IsDefinitionError(err))
	assert.Equal(t, ErrCodeHeadNotInferred, DefinitionErrorCode(err))
	assert.Contains(t, err.Error(), "ParentOf")
	assert.Contains(t, err.Error(), "must be an inferred predicate")
	assert.Empty(t, r.Rules(context.Background(), "ParentOf"), "nothing registered on error")
}

func TestDefineRejectsUnboundHeadVariable(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Define(context.Background(), grandparentOf.Fact(v("g"), v("z")), parentOf.Fact(v("g"), v("p")))
	assert.Equal(t, ErrCodeUnboundHeadVariable, DefinitionErrorCode(err))
	assert.Contains(t, err.Error(), "?z")
}

func TestDefineRejectsMalformedBody(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	err := r.Define(ctx, grandparentOf.Fact(v("g"), v("c")), nil)
	assert.Equal(t, ErrCodeMalformedBody, DefinitionErrorCode(err))

	err = r.Define(ctx, grandparentOf.Fact(v("g"), v("c")), logic.Or())
	assert.Equal(t, ErrCodeMalformedBody, DefinitionErrorCode(err))

	bad := logic.Fact{Predicate: parentOf, Terms: []logic.Term{v("g")}}
	err = r.Define(ctx, grandparentOf.Fact(v("g"), v("c")), logic.And(bad, parentOf.Fact(v("g"), v("c"))))
	assert.Equal(t, ErrCodeMalformedBody, DefinitionErrorCode(err))
}

func TestDefineRejectsUndeclaredBodyPredicate(t *testing.T) {
	r := newTestRegistry(t)
	mystery := logic.Stored("Mystery", "Person", "Person")
	err := r.Define(context.Background(), grandparentOf.Fact(v("g"), v("c")), mystery.Fact(v("g"), v("c")))
	assert.Equal(t, ErrCodeUndeclaredPredicate, DefinitionErrorCode(err))
	assert.Contains(t, err.Error(), "Mystery")
}

func TestDefineDeclaresNewHead(t *testing.T) {
	r := newTestRegistry(t)
	sibling := logic.Inferred("SiblingOf", "Person", "Person")
	err := r.Define(context.Background(), sibling.Fact(v("a"), v("b")),
		logic.And(parentOf.Fact(v("p"), v("a")), parentOf.Fact(v("p"), v("b"))))
	require.NoError(t, err)
	assert.True(t, r.Catalog().Declared(sibling))
}

func TestSelfRecursiveRuleAllowed(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Define(context.Background(), ancestorOf.Fact(v("a"), v("d")),
		logic.Or(
			parentOf.Fact(v("a"), v("d")),
			logic.And(parentOf.Fact(v("a"), v("m")), ancestorOf.Fact(v("m"), v("d"))),
		))
	require.NoError(t, err)
}

// ============================================================================
// Scoping
// ============================================================================

func TestScopeIsolation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.DefineRule(ctx, grandparentRule()))
	before := r.Rules(ctx, "GrandparentOf")

	err := r.WithScope(ctx, func(ctx context.Context) error {
		require.NoError(t, r.Define(ctx, grandparentOf.Fact(v("g"), v("c")), colleagueOf.Fact(v("g"), v("c"))))
		assert.Len(t, r.Rules(ctx, "GrandparentOf"), 2)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, before, r.Rules(ctx, "GrandparentOf"))
}

func TestNestedScopesUnion(t *testing.T) {
	r := newTestRegistry(t)
	base := context.Background()
	require.NoError(t, r.DefineRule(base, grandparentRule()))

	outer, outerScope := r.Enter(base)
	require.NoError(t, r.Define(outer, relatedTo.Fact(v("a"), v("b")), parentOf.Fact(v("a"), v("b"))))

	inner, innerScope := r.Enter(outer)
	require.NoError(t, r.Define(inner, relatedTo.Fact(v("a"), v("b")), colleagueOf.Fact(v("a"), v("b"))))
	assert.Equal(t, 2, innerScope.Depth())

	assert.Len(t, r.Rules(inner, "RelatedTo"), 2, "inner sees base, outer and inner")
	assert.Len(t, r.Rules(outer, "RelatedTo"), 1, "outer does not see inner")
	assert.Len(t, r.Rules(inner, "GrandparentOf"), 1)
	assert.Equal(t, 3, r.Snapshot(inner).Count())
	assert.Equal(t, 2, r.Snapshot(inner).Depth())

	innerScope.Exit()
	assert.Len(t, r.Rules(inner, "RelatedTo"), 1, "exited frame is gone even through its context")

	outerScope.Exit()
	outerScope.Exit() // idempotent
	assert.Empty(t, r.Rules(outer, "RelatedTo"))
	assert.Len(t, r.Rules(base, "GrandparentOf"), 1)
}

func TestExitingOuterHidesInner(t *testing.T) {
	r := newTestRegistry(t)
	outer, outerScope := r.Enter(context.Background())
	inner, _ := r.Enter(outer)
	require.NoError(t, r.Define(inner, relatedTo.Fact(v("a"), v("b")), parentOf.Fact(v("a"), v("b"))))

	outerScope.Exit()
	assert.Empty(t, r.Rules(inner, "RelatedTo"))

	err := r.Define(inner, relatedTo.Fact(v("a"), v("b")), parentOf.Fact(v("a"), v("b")))
	assert.ErrorIs(t, err, ErrScopeClosed)
}

func TestWithScopeRestoresOnErrorAndPanic(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var leaked context.Context
	err := r.WithScope(ctx, func(ctx context.Context) error {
		leaked = ctx
		require.NoError(t, r.DefineRule(ctx, grandparentRule()))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.Rules(leaked, "GrandparentOf"))

	assert.Panics(t, func() {
		_ = r.WithScope(ctx, func(ctx context.Context) error {
			leaked = ctx
			require.NoError(t, r.DefineRule(ctx, grandparentRule()))
			panic("kaboom")
		})
	})
	assert.Empty(t, r.Rules(leaked, "GrandparentOf"))
	assert.Empty(t, r.Rules(ctx, "GrandparentOf"))
}

func TestContextShorthand(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	var seen int
	err := r.Context(ctx, []logic.Rule{grandparentRule()}, func(ctx context.Context) error {
		seen = len(r.Rules(ctx, "GrandparentOf"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
	assert.Empty(t, r.Rules(ctx, "GrandparentOf"))

	bad := logic.Rule{Head: parentOf.Fact(v("a"), v("b")), Body: colleagueOf.Fact(v("a"), v("b"))}
	err = r.Context(ctx, []logic.Rule{bad}, func(context.Context) error {
		t.Fatal("fn must not run when a rule is rejected")
		return nil
	})
	assert.True(t, IsDefinitionError(err))
}

func TestSnapshotIsStable(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	snap := r.Snapshot(ctx)
	require.NoError(t, r.DefineRule(ctx, grandparentRule()))

	assert.Empty(t, snap.Rules("GrandparentOf"))
	assert.Len(t, r.Snapshot(ctx).Rules("GrandparentOf"), 1)

	r.Reset()
	assert.Empty(t, r.Rules(ctx, "GrandparentOf"))
}

func TestConcurrentScopesAreIsolated(t *testing.T) {
	r := newTestRegistry(t)
	base := context.Background()
	require.NoError(t, r.DefineRule(base, grandparentRule()))

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- r.WithScope(base, func(ctx context.Context) error {
				for j := 0; j <= i; j++ {
					if err := r.Define(ctx, relatedTo.Fact(v("a"), v("b")), parentOf.Fact(v("a"), v("b"))); err != nil {
						return err
					}
				}
				if got := len(r.Rules(ctx, "RelatedTo")); got != i+1 {
					return fmt.Errorf("worker %d saw %d rules", i, got)
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Empty(t, r.Rules(base, "RelatedTo"))
	assert.Len(t, r.Rules(base, "GrandparentOf"), 1)
}

// ============================================================================
// Recursion analysis
// ============================================================================

func TestAnalyzeRecursion(t *testing.T) {
	rulesList := []logic.Rule{
		grandparentRule(),
		{
			Head: ancestorOf.Fact(v("a"), v("d")),
			Body: logic.And(parentOf.Fact(v("a"), v("m")), ancestorOf.Fact(v("m"), v("d"))),
		},
		{
			Head: reachable.Fact(v("a"), v("b")),
			Body: relatedTo.Fact(v("a"), v("b")),
		},
		{
			Head: relatedTo.Fact(v("a"), v("b")),
			Body: logic.Or(colleagueOf.Fact(v("a"), v("b")), reachable.Fact(v("a"), v("b"))),
		},
	}

	groups := AnalyzeRecursion(rulesList)
	require.Len(t, groups, 2)

	assert.Equal(t, []string{"AncestorOf"}, groups[0].Predicates)
	assert.Equal(t, []string{"AncestorOf", "AncestorOf"}, groups[0].Path)

	assert.Equal(t, []string{"Reachable", "RelatedTo"}, groups[1].Predicates)
	assert.Equal(t, []string{"Reachable", "RelatedTo", "Reachable"}, groups[1].Path)
	assert.Contains(t, groups[1].Message, "Reachable -> RelatedTo -> Reachable")
}

func TestAnalyzeRecursionNone(t *testing.T) {
	assert.Empty(t, AnalyzeRecursion([]logic.Rule{grandparentRule()}))
	assert.Empty(t, AnalyzeRecursion(nil))
}
