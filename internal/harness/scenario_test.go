package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesProgramPath(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/family_grandparents.yaml")
	require.NoError(t, err)

	assert.Equal(t, "family_grandparents", s.Name)
	assert.Equal(t, filepath.Join("testdata", "programs", "family.cue"), s.Program)
	assert.Equal(t, "q-family", s.QueryID)
	require.Len(t, s.Steps, 8)
	assert.Equal(t, KindQuery, s.Steps[0].Kind())
	assert.Equal(t, KindStore, s.Steps[2].Kind())
	assert.Equal(t, KindRetract, s.Steps[4].Kind())
	assert.Equal(t, "NOT_STORABLE", s.Steps[6].ExpectError)
	assert.True(t, s.Steps[7].Hydrate)
}

func TestLoadScenario_NestedScopes(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/scoped_rules.yaml")
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, s.Backend)
	scope := s.Steps[1]
	require.Equal(t, KindScope, scope.Kind())
	require.Len(t, scope.Scope.Steps, 3)
	assert.Contains(t, scope.Scope.Source, "SiblingOf")
	assert.Equal(t, KindScope, scope.Scope.Steps[2].Kind())
	assert.Equal(t, "COMPILE_ERROR", scope.Scope.Steps[2].ExpectError)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_AbsoluteProgramKept(t *testing.T) {
	dir := t.TempDir()
	prog, err := filepath.Abs("testdata/programs/family.cue")
	require.NoError(t, err)
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\ndescription: d\nprogram: "+prog+"\nsteps:\n  - query: grandparents\n"), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, prog, s.Program)
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsource: x\nsteps:\n  - query: q\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: n\nsource: x\nsteps:\n  - query: q\n",
			want: "description is required",
		},
		{
			name: "no program",
			yaml: "name: n\ndescription: d\nsteps:\n  - query: q\n",
			want: "exactly one of program and source",
		},
		{
			name: "program and source",
			yaml: "name: n\ndescription: d\nprogram: p.cue\nsource: x\nsteps:\n  - query: q\n",
			want: "exactly one of program and source",
		},
		{
			name: "unknown backend",
			yaml: "name: n\ndescription: d\nsource: x\nbackend: postgres\nsteps:\n  - query: q\n",
			want: `unknown backend "postgres"`,
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\nsource: x\n",
			want: "steps list is required",
		},
		{
			name: "empty step",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - hydrate: true\n",
			want: "steps[0]: exactly one of store, retract, query and scope",
		},
		{
			name: "two actions",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - query: q\n    store: [[P, a]]\n",
			want: "steps[0]: exactly one of",
		},
		{
			name: "expect on store",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - store: [[P, a]]\n    expect_count: 1\n",
			want: "apply to queries only",
		},
		{
			name: "negative count",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - query: q\n    expect_count: -1\n",
			want: "expect_count must be non-negative",
		},
		{
			name: "error and rows",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - query: q\n    expect_count: 1\n    expect_error: NOT_STORABLE\n",
			want: "expect_error cannot be combined",
		},
		{
			name: "fact without predicate",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - store: [[1, a]]\n",
			want: "must start with a predicate name",
		},
		{
			name: "scope without source",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - scope:\n      steps:\n        - query: q\n",
			want: "scope source is required",
		},
		{
			name: "nested step error path",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - scope:\n      source: y\n      steps:\n        - {}\n",
			want: "steps[0].scope.steps[0]",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nsource: x\nsteps:\n  - query: q\n    expects: []\n",
			want: "field expects not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStepKind(t *testing.T) {
	assert.Equal(t, KindQuery, (&Step{Query: "q"}).Kind())
	assert.Equal(t, KindScope, (&Step{Scope: &ScopeStep{}}).Kind())
	assert.Equal(t, "", (&Step{}).Kind())
	assert.Equal(t, "", (&Step{Query: "q", Scope: &ScopeStep{}}).Kind())
}
