package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

func TestTest_HarnessScenariosPassWithGolden(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "\u2713 family_grandparents")
	assert.Contains(t, out, "\u2713 scoped_rules")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
}

func TestTest_Filter(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios, "--filter", "scoped*", "--format", "json")
	require.NoError(t, err)

	data := decode(t, out).Data.(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["passed"])
}

func TestTest_UpdateWritesGolden(t *testing.T) {
	golden := t.TempDir()
	scenario := filepath.Join(harnessScenarios, "family_grandparents.yaml")

	_, err := execute(t, "test", scenario, "--golden", golden, "--update")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(golden, "family_grandparents.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessGolden, "family_grandparents.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	_, err = execute(t, "test", scenario, "--golden", golden)
	assert.NoError(t, err)
}

func TestTest_GoldenMismatchFails(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "scoped_rules.golden"), []byte("{}"), 0o644))

	out, err := execute(t, "test", filepath.Join(harnessScenarios, "scoped_rules.yaml"), "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	prog, err := filepath.Abs("testdata/family.cue")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`
name: wrong
description: "expects the wrong count"
program: `+prog+`
steps:
  - query: grandparents
    expect_count: 3
`), 0o644))

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decode(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	scenarios := resp.Data.(map[string]any)["scenarios"].([]any)
	require.Len(t, scenarios, 1)
	assert.Contains(t, scenarios[0].(map[string]any)["errors"].([]any)[0], "Expected: 3 rows")
}

func TestTest_LoadErrorIsAFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\n"), 0o644))

	out, err := execute(t, "test", dir)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "\u2717 bad.yaml")
	assert.Contains(t, out, "description is required")
}

func TestTest_NoScenarios(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTest_MissingPath(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
