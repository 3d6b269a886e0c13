package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factlog/internal/ir"
)

var (
	isManager = Field("is_manager").Eq(ir.Bool(true))
	atAcme    = Field("company").Eq(ir.String("acme"))
	senior    = Field("level").Ge(ir.Int(3))
)

// ============================================================================
// Merge
// ============================================================================

func TestMergeCommutative(t *testing.T) {
	ab := Merge(isManager, atAcme)
	ba := Merge(atAcme, isManager)
	assert.Equal(t, Signature(ab), Signature(ba))
	assert.Equal(t, ab, ba)
}

func TestMergeIdempotent(t *testing.T) {
	once := Merge(isManager, atAcme)
	twice := Merge(once, once)
	assert.Equal(t, once, twice)

	assert.Equal(t, isManager, Merge(isManager, isManager))
}

func TestMergeFlattensAndIgnoresNil(t *testing.T) {
	nested := Merge(And{Terms: []Constraint{isManager, And{Terms: []Constraint{atAcme}}}}, nil, senior)
	and, ok := nested.(And)
	require.True(t, ok)
	assert.Len(t, and.Terms, 3)

	assert.Nil(t, Merge())
	assert.Nil(t, Merge(nil, nil))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	in := And{Terms: []Constraint{senior, isManager}}
	_ = Merge(in, atAcme)
	assert.Equal(t, []Constraint{senior, isManager}, in.Terms)
}

// ============================================================================
// Variables, Split, Resolve
// ============================================================================

func TestVariablesAndSplit(t *testing.T) {
	c := Merge(atAcme, Field("company").Ref("c"), Or{Terms: []Constraint{Field("team").Ref("t"), senior}})

	assert.Equal(t, []string{"c", "t"}, Variables(c))
	assert.True(t, ReferencesVariable(c, "c"))
	assert.False(t, ReferencesVariable(c, "x"))

	local, refs := Split(c)
	assert.Equal(t, atAcme, local)
	assert.Equal(t, []string{"c", "t"}, Variables(refs))
	assert.Empty(t, Variables(local))
}

func TestResolve(t *testing.T) {
	c := Merge(atAcme, Field("company").Ref("c"))
	bound := map[string][]ir.Value{"c": {ir.String("globex")}}
	lookup := func(name string) ([]ir.Value, bool) {
		vs, ok := bound[name]
		return vs, ok
	}

	out, resolved := Resolve(c, lookup)
	require.True(t, resolved)
	assert.Empty(t, Variables(out))
	assert.Contains(t, Signature(out), `company == "globex"`)

	bound["c"] = []ir.Value{ir.String("a"), ir.String("b")}
	out, resolved = Resolve(c, lookup)
	require.True(t, resolved)
	assert.Contains(t, Signature(out), `company in ["a","b"]`)

	out, resolved = Resolve(Field("x").Ref("missing"), lookup)
	assert.False(t, resolved)
	assert.Equal(t, Field("x").Ref("missing"), out)

	out, resolved = Resolve(nil, lookup)
	assert.True(t, resolved)
	assert.Nil(t, out)
}

func TestRename(t *testing.T) {
	c := Merge(atAcme, Not{Term: Field("company").Ref("c")}, Field("team").Ref("t"))
	out := Rename(c, func(name string) string { return "_r1_" + name })

	assert.Equal(t, []string{"_r1_c", "_r1_t"}, Variables(out))
	assert.Equal(t, []string{"c", "t"}, Variables(c), "input untouched")
	assert.Nil(t, Rename(nil, func(string) string { return "x" }))
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(nil))
	assert.Equal(t, 3, Count(Merge(isManager, atAcme, Not{Term: senior})))
}

// ============================================================================
// Signature
// ============================================================================

func TestSignature(t *testing.T) {
	tests := []struct {
		name string
		c    Constraint
		want string
	}{
		{"nil", nil, ""},
		{"eq", atAcme, `company == "acme"`},
		{"cmp", senior, `level >= 3`},
		{"in sorted", Field("x").In(ir.Int(2), ir.Int(1), ir.Int(2)), `x in [1,2]`},
		{"ref", Field("company").Ref("c"), `company == ?c`},
		{"or", Or{Terms: []Constraint{atAcme, senior}}, `(company == "acme" || level >= 3)`},
		{"not", Not{Term: isManager}, `!(is_manager == true)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Signature(tt.c))
		})
	}
}

// ============================================================================
// Eval
// ============================================================================

func TestEval(t *testing.T) {
	attrs := ir.Object{
		"company":    ir.String("acme"),
		"is_manager": ir.Bool(true),
		"level":      ir.Int(4),
		"address":    ir.Object{"city": ir.String("Oslo")},
		"nickname":   ir.Null{},
	}
	key := ir.String("alice")

	tests := []struct {
		name string
		c    Constraint
		want bool
	}{
		{"nil holds", nil, true},
		{"eq", atAcme, true},
		{"eq miss", Field("company").Eq(ir.String("globex")), false},
		{"eq kind mismatch", Field("level").Eq(ir.String("4")), false},
		{"pk", Field(KeyField).Eq(ir.String("alice")), true},
		{"nested path", Field("address.city").Eq(ir.String("Oslo")), true},
		{"missing path", Field("address.zip").Eq(ir.String("0150")), false},
		{"null eq absent", Field("spouse").Eq(ir.Null{}), true},
		{"null eq null", Field("nickname").Eq(ir.Null{}), true},
		{"ge", senior, true},
		{"lt", Field("level").Lt(ir.Int(4)), false},
		{"cmp kind mismatch", Field("company").Gt(ir.Int(1)), false},
		{"ne", Field("company").Ne(ir.String("globex")), true},
		{"ne on null", Field("nickname").Ne(ir.String("x")), false},
		{"in", Field("level").In(ir.Int(1), ir.Int(4)), true},
		{"empty in", In{Field: "level"}, false},
		{"and", Merge(atAcme, senior), true},
		{"or", Or{Terms: []Constraint{Field("company").Eq(ir.String("x")), isManager}}, true},
		{"empty or", Or{}, false},
		{"not", Not{Term: isManager}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Eval(tt.c, key, attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalUnresolvedRef(t *testing.T) {
	_, err := Eval(Field("company").Ref("c"), ir.String("k"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"c"`)
}

// ============================================================================
// Validate
// ============================================================================

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate(Merge(atAcme, senior, Field("a.b").Ref("x"))))

	err := Validate(And{Terms: []Constraint{
		Eq{Field: "bad field", Value: ir.Int(1)},
		Cmp{Field: "x", Op: "~", Value: ir.Int(1)},
		Cmp{Field: "y", Op: OpGt, Value: ir.List{}},
		In{Field: "z"},
		Ref{Field: "w"},
		Or{},
		Not{},
	}})
	require.Error(t, err)
	for _, want := range []string{
		`invalid field name "bad field"`,
		`unknown operator "~"`,
		"needs a scalar value",
		"in-list is empty",
		"unnamed variable",
		"or: no operands",
		"not: missing operand",
	} {
		assert.Contains(t, err.Error(), want)
	}
}
