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

func TestScenario_AllPass(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--golden", harnessGolden, "--format", "json")
	require.NoError(t, err, out)

	summary := decodeData[ScenarioSummary](t, out)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Passed)
	assert.Equal(t, 0, summary.Failed)
	for _, r := range summary.Scenarios {
		assert.True(t, r.Pass, "%s: %v", r.Name, r.Errors)
		assert.Len(t, r.Hash, 64)
	}
}

func TestScenario_TextOutput(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ grant_chain")
	assert.Contains(t, out, "✓ owner_exit")
	assert.Contains(t, out, "Scenario Summary: 3 passed, 0 failed, 3 total")
}

func TestScenario_Filter(t *testing.T) {
	out, err := execute(t, "scenario", harnessScenarios, "--golden", harnessGolden, "--filter", "grant*", "--format", "json")
	require.NoError(t, err)

	summary := decodeData[ScenarioSummary](t, out)
	require.Equal(t, 1, summary.Total)
	assert.Equal(t, "grant_chain", summary.Scenarios[0].Name)
}

func TestScenario_EmptyDir(t *testing.T) {
	out, err := execute(t, "scenario", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestScenario_MissingPath(t *testing.T) {
	_, err := execute(t, "scenario", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestScenario_Update(t *testing.T) {
	golden := t.TempDir()
	file := filepath.Join(harnessScenarios, "grant_chain.yaml")

	_, err := execute(t, "scenario", file, "--golden", golden, "--update")
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(golden, "grant_chain.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessGolden, "grant_chain.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestScenario_GoldenMismatch(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "grant_chain.golden"), []byte("scenario grant_chain\n"), 0o644))

	out, err := execute(t, "scenario", filepath.Join(harnessScenarios, "grant_chain.yaml"), "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ grant_chain")
	assert.Contains(t, out, "golden file mismatch")
}

func TestScenario_FailedExpectation(t *testing.T) {
	dir := t.TempDir()
	yaml := `name: wrong_expect
processes:
  - name: solo
steps:
  - as: solo
    syscall: CAP_LIST
    expect: "5"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_expect.yaml"), []byte(yaml), 0o644))

	out, err := execute(t, "scenario", dir, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	summary := decodeData[ScenarioSummary](t, out)
	require.Equal(t, 1, summary.Failed)
	assert.NotEmpty(t, summary.Scenarios[0].Errors)
}

func TestScenario_LoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [\n"), 0o644))

	out, err := execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load error")
}
