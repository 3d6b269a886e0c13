package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/factlog/internal/ir"
)

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"family_grandparents", "scoped_rules"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestAssertGolden_FromResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/scoped_rules.yaml")
	require.NoError(t, err)
	s.Backend = BackendMemory

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "scoped_rules", result))
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snap := TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Step: "1", Kind: KindQuery, Query: "q", QueryID: "id", Count: 1, Rows: []ir.Object{{"x": ir.String("a")}}},
			{Step: "2", Kind: KindStore, Count: 1, Error: "NOT_STORABLE"},
		},
	}
	data, err := snap.canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[`+
			`{"count":1,"kind":"query","query":"q","query_id":"id","rows":[{"x":"a"}],"step":"1"},`+
			`{"count":1,"error":"NOT_STORABLE","kind":"store","step":"2"}]}`,
		string(data))
}
