package compiler

import (
	"context"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factlog/internal/constraint"
	"github.com/roach88/factlog/internal/ir"
	"github.com/roach88/factlog/internal/logic"
	"github.com/roach88/factlog/internal/store"
)

func compile(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := CompileSource("test.cue", []byte(src))
	require.NoError(t, err)
	return prog
}

func compileErr(t *testing.T, src string) *CompileError {
	t.Helper()
	_, err := CompileSource("test.cue", []byte(src))
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	return ce
}

func TestLoadFile(t *testing.T) {
	prog, err := LoadFile("testdata/family.cue")
	require.NoError(t, err)

	require.Len(t, prog.Predicates, 3)
	assert.Equal(t, "ParentOf", prog.Predicates[0].Name())
	assert.False(t, logic.IsInferred(prog.Predicates[0]))
	assert.True(t, logic.IsInferred(prog.Predicates[1]))
	assert.Equal(t, []string{"person", "person"}, prog.Predicates[1].SlotTypes())

	assert.Len(t, prog.Entities, 5)
	assert.Equal(t, store.Entity{Type: "person", Key: ir.String("john"), Attrs: ir.Object{"age": ir.Int(72)}}, prog.Entities[0])
	assert.Len(t, prog.Facts, 4)
	assert.Len(t, prog.Rules, 2)
	assert.Equal(t, []string{"grandparents", "senior_grandparents", "descendants_of_john"}, prog.QueryNames())
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("testdata/nope.cue")
	require.Error(t, err)
}

func TestCompile_Rules(t *testing.T) {
	prog, err := LoadFile("testdata/family.cue")
	require.NoError(t, err)

	gp := prog.Rules[0]
	assert.Equal(t, "GrandparentOf(?g, ?c) :- ParentOf(?g, ?p), ParentOf(?p, ?c)", gp.String())

	anc := prog.Rules[1]
	alts := logic.Alternatives(anc.Body)
	require.Len(t, alts, 2)
	assert.Len(t, alts[0], 1)
	assert.Len(t, alts[1], 2)
	assert.Equal(t, "AncestorOf", alts[1][1].Name())
}

func TestCompile_QueryWhere(t *testing.T) {
	prog, err := LoadFile("testdata/family.cue")
	require.NoError(t, err)

	q, ok := prog.Query("senior_grandparents")
	require.True(t, ok)
	require.Len(t, q, 1)
	g := q[0].Terms[0].(logic.Variable)
	assert.Equal(t, "g", g.Name)
	assert.Equal(t, constraint.Field("age").Gt(ir.Int(60)), g.Where)

	q, ok = prog.Query("descendants_of_john")
	require.True(t, ok)
	assert.Equal(t, logic.K("john"), q[0].Terms[0])

	_, ok = prog.Query("nope")
	assert.False(t, ok)
}

func TestCompile_Terms(t *testing.T) {
	prog := compile(t, `
		predicate: Edge: {stored: ["node", "node"]}
		fact: Edge: [["a", 1]]
		query: q: [["Edge", "_", "?y"]]
	`)
	assert.Equal(t, logic.Key{Value: ir.Int(1)}, prog.Facts[0].Terms[1])

	q, _ := prog.Query("q")
	blank := q[0].Terms[0].(logic.Variable)
	assert.True(t, blank.Hidden)
	assert.Equal(t, logic.Var("y"), q[0].Terms[1])
}

func TestCompile_FieldConstraints(t *testing.T) {
	prog := compile(t, `
		predicate: WorksOn: {stored: ["employee", "project"]}
		predicate: WorksFor: {stored: ["employee", "company"]}
		query: q: {
			match: [["WorksOn", "?e", "?p"], ["WorksFor", "?e", "?c"]]
			where: {
				p: {
					company: "?c"
					status: ["active", "paused"]
					budget: {ge: 10, lt: 100}
					owner: {not: "nobody"}
					pk: {ne: "legacy"}
				}
				e: level: 3
			}
		}
	`)
	q, _ := prog.Query("q")
	p := q[0].Terms[1].(logic.Variable)
	assert.Equal(t, []string{"c"}, constraint.Variables(p.Where))

	ok, err := constraint.Eval(constraint.Merge(mustResolve(t, p.Where, "c", ir.String("acme"))),
		ir.String("rocket"),
		ir.Object{"company": ir.String("acme"), "status": ir.String("active"), "budget": ir.Int(50), "owner": ir.String("ann")})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = constraint.Eval(mustResolve(t, p.Where, "c", ir.String("acme")),
		ir.String("legacy"),
		ir.Object{"company": ir.String("acme"), "status": ir.String("active"), "budget": ir.Int(50), "owner": ir.String("ann")})
	require.NoError(t, err)
	assert.False(t, ok, "pk ne legacy")

	e := q[0].Terms[0].(logic.Variable)
	assert.Equal(t, constraint.Field("level").Eq(ir.Int(3)), e.Where)
	assert.Equal(t, e.Where, q[1].Terms[0].(logic.Variable).Where, "where applies to every occurrence")
}

func mustResolve(t *testing.T, c constraint.Constraint, name string, v ir.Value) constraint.Constraint {
	t.Helper()
	out, ok := constraint.Resolve(c, func(n string) ([]ir.Value, bool) {
		if n == name {
			return []ir.Value{v}, true
		}
		return nil, false
	})
	require.True(t, ok)
	return out
}

func TestCompile_EntityList(t *testing.T) {
	prog := compile(t, `
		predicate: Owns: {stored: ["user", "account"]}
		entity: account: [{key: 7, attrs: {balance: 10}}, {key: 8}]
	`)
	require.Len(t, prog.Entities, 2)
	assert.Equal(t, ir.Int(7), prog.Entities[0].Key)
	assert.Equal(t, ir.Object{"balance": ir.Int(10)}, prog.Entities[0].Attrs)
	assert.Equal(t, ir.Object{}, prog.Entities[1].Attrs)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
		msg   string
	}{
		{
			name:  "no predicates",
			src:   `fact: {}`,
			field: "predicate",
			msg:   "at least one predicate",
		},
		{
			name:  "stored and inferred",
			src:   `predicate: P: {stored: ["a"], inferred: ["a"]}`,
			field: "predicate.P",
			msg:   "exactly one of stored or inferred",
		},
		{
			name:  "undeclared predicate in fact",
			src:   `predicate: P: {stored: ["a"]}, fact: Q: [["x"]]`,
			field: "fact.Q",
			msg:   "undeclared predicate Q",
		},
		{
			name:  "fact for inferred predicate",
			src:   `predicate: P: {inferred: ["a"]}, fact: P: [["x"]]`,
			field: "fact.P",
			msg:   "only stored predicates have facts",
		},
		{
			name:  "variable in fact",
			src:   `predicate: P: {stored: ["a"]}, fact: P: [["?x"]]`,
			field: "fact.P[0]",
			msg:   "cannot contain variables",
		},
		{
			name:  "arity",
			src:   `predicate: P: {stored: ["a"]}, fact: P: [["x", "y"]]`,
			field: "fact.P[0]",
			msg:   "expects 1 terms",
		},
		{
			name: "stored head",
			src: `predicate: P: {stored: ["a"]}
				rule: [{head: ["P", "?x"], body: ["P", "?x"]}]`,
			field: "rule[0].head",
			msg:   "must be inferred",
		},
		{
			name: "missing body",
			src: `predicate: I: {inferred: ["a"]}
				rule: [{head: ["I", "?x"]}]`,
			field: "rule[0]",
			msg:   "body is required",
		},
		{
			name: "unused where variable",
			src: `predicate: P: {stored: ["a"]}
				query: q: {match: [["P", "?x"]], where: y: age: 3}`,
			field: "query.q.where",
			msg:   "no pattern uses",
		},
		{
			name: "unknown operator",
			src: `predicate: P: {stored: ["a"]}
				query: q: {match: [["P", "?x"]], where: x: age: {between: 3}}`,
			field: "query.q.where.x.age.between",
			msg:   "unknown operator",
		},
		{
			name: "float",
			src: `predicate: P: {stored: ["a"]}
				query: q: {match: [["P", "?x"]], where: x: score: 1.5}`,
			field: "query.q.where.x.score",
			msg:   "floats are not supported",
		},
		{
			name: "empty any",
			src: `predicate: I: {inferred: ["a"]}
				rule: [{head: ["I", "?x"], body: {any: []}}]`,
			field: "rule[0].body.any",
			msg:   "at least one alternative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := compileErr(t, tt.src)
			assert.Equal(t, tt.field, ce.Field)
			assert.Contains(t, ce.Message, tt.msg)
		})
	}
}

func TestCompile_CUEErrorHasPosition(t *testing.T) {
	_, err := CompileSource("broken.cue", []byte("predicate: P: {stored: [\"a\"]}\npredicate: P: {stored: 3}\n"))
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, ce.Error(), "broken.cue:")
	assert.True(t, IsCompileError(err))
}

func TestCompileProgram_Value(t *testing.T) {
	v := cuecontext.New().CompileString(`predicate: P: {stored: ["a"]}`)
	prog, err := CompileProgram(v)
	require.NoError(t, err)
	assert.Empty(t, prog.QueryNames())
	assert.Empty(t, prog.Rules)
}

// recorder is a Target that records what a program loads.
type recorder struct {
	declared []string
	defined  []string
	stored   int
	entities int
}

func (r *recorder) Declare(_ context.Context, preds ...logic.Predicate) error {
	for _, p := range preds {
		r.declared = append(r.declared, p.Name())
	}
	return nil
}

func (r *recorder) Define(_ context.Context, head logic.Fact, _ logic.Body) error {
	r.defined = append(r.defined, head.Name())
	return nil
}

func (r *recorder) Store(_ context.Context, facts ...logic.Fact) error {
	r.stored += len(facts)
	return nil
}

func (r *recorder) PutEntities(_ context.Context, entities ...store.Entity) error {
	r.entities += len(entities)
	return nil
}

func TestProgram_Load(t *testing.T) {
	prog, err := LoadFile("testdata/family.cue")
	require.NoError(t, err)

	var r recorder
	require.NoError(t, prog.Load(context.Background(), &r))
	assert.Equal(t, []string{"ParentOf", "GrandparentOf", "AncestorOf"}, r.declared)
	assert.Equal(t, []string{"GrandparentOf", "AncestorOf"}, r.defined)
	assert.Equal(t, 4, r.stored)
	assert.Equal(t, 5, r.entities)

	cat, err := prog.Catalog()
	require.NoError(t, err)
	assert.Len(t, cat.All(), 3)
}

func TestProgram_Extend(t *testing.T) {
	base, err := LoadFile("testdata/family.cue")
	require.NoError(t, err)

	frag, err := base.Extend("scope.cue", []byte(`
		predicate: SiblingOf: {inferred: ["person", "person"]}
		rule: [{
			head: ["SiblingOf", "?a", "?b"]
			body: [["ParentOf", "?p", "?a"], ["ParentOf", "?p", "?b"]]
		}]
		query: siblings: [["SiblingOf", "bob", "?s"]]
	`))
	require.NoError(t, err)
	require.Len(t, frag.Predicates, 1)
	assert.Equal(t, "SiblingOf", frag.Predicates[0].Name())
	assert.Len(t, frag.Rules, 1)
	assert.Equal(t, []string{"siblings"}, frag.QueryNames())
	assert.Empty(t, frag.Facts)

	_, err = base.Extend("bad.cue", []byte(`rule: [{head: ["Nope", "?x"], body: ["ParentOf", "?x", "?y"]}]`))
	assert.True(t, IsCompileError(err))
}
