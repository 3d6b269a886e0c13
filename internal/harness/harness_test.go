package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accessSource = `
predicate: {
	Owns:       {stored: ["user", "doc"]}
	MemberOf:   {stored: ["user", "team"]}
	TeamShares: {stored: ["team", "doc"]}
	HasAccess:  {inferred: ["user", "doc"]}
}
fact: {
	Owns: [["ann", "d1"]]
	MemberOf: [["ann", "eng"], ["ben", "eng"]]
	TeamShares: [["eng", "d1"], ["eng", "d2"]]
}
rule: [{
	head: ["HasAccess", "?u", "?d"]
	body: {any: [
		["Owns", "?u", "?d"],
		[["MemberOf", "?u", "?t"], ["TeamShares", "?t", "?d"]],
	]}
}]
query: {
	access: [["HasAccess", "?u", "?d"]]
	ann: [["HasAccess", "ann", "?d"]]
}
`

func scenario(steps ...Step) *Scenario {
	return &Scenario{Name: "inline", Description: "inline", Source: accessSource, Steps: steps}
}

func count(n int) *int { return &n }

func TestRun_QueryExpectations(t *testing.T) {
	result, err := Run(context.Background(), scenario(
		Step{Query: "ann", Expect: []map[string]any{{"d": "d1"}, {"d": "d2"}}},
		Step{Query: "access", ExpectCount: count(4)},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "1", result.Trace[0].Step)
	assert.Equal(t, "test-query-default", result.Trace[0].QueryID)
	assert.Equal(t, 2, result.Trace[0].Count)
}

func TestRun_FailedExpectations(t *testing.T) {
	result, err := Run(context.Background(), scenario(
		Step{Query: "ann", Expect: []map[string]any{{"d": "d3"}}},
		Step{Query: "access", ExpectCount: count(1)},
		Step{Query: "ann", ExpectError: "UNDEFINED_PREDICATE"},
	))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "step 1: assertion failed: rows")
	assert.Contains(t, result.Errors[0], `{"d":"d3"}`)
	assert.Contains(t, result.Errors[1], "Expected: 1 rows")
	assert.Contains(t, result.Errors[2], "Actual: success")
}

func TestRun_StoreAndRetract(t *testing.T) {
	result, err := Run(context.Background(), scenario(
		Step{Store: [][]any{{"Owns", "cal", "d9"}}},
		Step{Query: "access", ExpectCount: count(5)},
		Step{Retract: [][]any{{"Owns", "cal", "d9"}, {"Owns", "nobody", "d0"}}},
		Step{Query: "access", ExpectCount: count(4)},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, KindRetract, result.Trace[2].Kind)
	assert.Equal(t, 2, result.Trace[2].Count)
}

func TestRun_StoreErrors(t *testing.T) {
	result, err := Run(context.Background(), scenario(
		Step{Store: [][]any{{"HasAccess", "ann", "d2"}}, ExpectError: "NOT_STORABLE"},
		Step{Store: [][]any{{"Missing", "a"}}, ExpectError: "ERROR"},
		Step{Store: [][]any{{"Owns", "ann"}}, ExpectError: "ERROR"},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "NOT_STORABLE", result.Trace[0].Error)
}

func TestRun_UnexpectedStepError(t *testing.T) {
	result, err := Run(context.Background(), scenario(
		Step{Store: [][]any{{"HasAccess", "ann", "d2"}}},
	))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "Expected: success")
	assert.Contains(t, result.Errors[0], "NOT_STORABLE")
}

func TestRun_ScopeStepsSeeScopedRulesOnly(t *testing.T) {
	const fragment = `
predicate: Shared: {inferred: ["doc"]}
rule: [{head: ["Shared", "?d"], body: [["TeamShares", "?t", "?d"]]}]
query: shared: [["Shared", "?d"]]
`
	result, err := Run(context.Background(), scenario(
		Step{Scope: &ScopeStep{Source: fragment, Steps: []Step{
			{Query: "shared", Expect: []map[string]any{{"d": "d1"}, {"d": "d2"}}},
			{Query: "ann", ExpectCount: count(2)},
		}}},
		Step{Query: "ann", ExpectCount: count(2)},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var steps []string
	for _, ev := range result.Trace {
		steps = append(steps, ev.Step)
	}
	assert.Equal(t, []string{"1", "1.1", "1.2", "2"}, steps)
	assert.Equal(t, 1, result.Trace[0].Count, "scope event counts its rules")
}

func TestRun_ScopedQueryIsGoneAfterScope(t *testing.T) {
	const fragment = `
predicate: Shared: {inferred: ["doc"]}
rule: [{head: ["Shared", "?d"], body: [["TeamShares", "?t", "?d"]]}]
query: shared: [["Shared", "?d"]]
`
	_, err := Run(context.Background(), scenario(
		Step{Scope: &ScopeStep{Source: fragment, Steps: []Step{{Query: "shared"}}}},
		Step{Query: "shared"},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step 2: unknown query "shared"`)
}

func TestRun_ScopeDefinitionErrors(t *testing.T) {
	result, err := Run(context.Background(), scenario(
		Step{Scope: &ScopeStep{Source: `rule: [{head: ["Owns", "?u", "?d"], body: [["Owns", "?d", "?u"]]}]`}, ExpectError: ErrCodeCompile},
		Step{Scope: &ScopeStep{Source: `rule: [{head: ["HasAccess", "?u", "?x"], body: [["Owns", "?u", "?d"]]}]`}, ExpectError: "UNBOUND_HEAD_VARIABLE"},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, ErrCodeCompile, result.Trace[0].Error)
}

func TestRun_BothBackendsAgree(t *testing.T) {
	steps := []Step{
		{Query: "access"},
		{Store: [][]any{{"MemberOf", "cal", "eng"}}},
		{Query: "access", Hydrate: true},
	}
	mem, err := Run(context.Background(), &Scenario{Name: "m", Description: "d", Source: accessSource, Steps: steps})
	require.NoError(t, err)
	lite, err := Run(context.Background(), &Scenario{Name: "s", Description: "d", Source: accessSource, Backend: BackendSQLite, Steps: steps})
	require.NoError(t, err)

	assert.True(t, mem.Pass)
	assert.True(t, lite.Pass)
	assert.Equal(t, mem.Trace, lite.Trace)
	assert.Equal(t, 6, lite.Trace[2].Count)
}

func TestRun_Deterministic(t *testing.T) {
	s := scenario(Step{Query: "access"}, Step{Query: "ann"})
	s.QueryID = "fixed"
	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, "fixed", first.Trace[1].QueryID)
}

func TestRun_ProgramErrors(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{Name: "bad", Source: "predicate: 1", Steps: []Step{{Query: "q"}}})
	require.Error(t, err)

	_, err = Run(context.Background(), &Scenario{Name: "missing", Program: "testdata/programs/none.cue", Steps: []Step{{Query: "q"}}})
	require.Error(t, err)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", errorCode(nil))
	assert.Equal(t, "CANCELLED", errorCode(context.Canceled))
	assert.Equal(t, "ERROR", errorCode(assert.AnError))
}
