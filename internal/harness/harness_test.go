package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return sc
}

func TestGoldenScenarios(t *testing.T) {
	for _, name := range []string{"grant_chain", "owner_exit", "boot_log"} {
		t.Run(name, func(t *testing.T) {
			sc := loadTestScenario(t, name)
			result, err := RunWithGolden(t, sc)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	sc := loadTestScenario(t, "grant_chain")

	first, err := Run(t.Context(), sc)
	require.NoError(t, err)
	second, err := Run(t.Context(), sc)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, FormatTrace(sc.Name, first), FormatTrace(sc.Name, second))
}

func TestRun_SessionDoesNotAffectHash(t *testing.T) {
	sc := loadTestScenario(t, "owner_exit")
	base, err := Run(t.Context(), sc)
	require.NoError(t, err)

	sc.Session = "another"
	renamed, err := Run(t.Context(), sc)
	require.NoError(t, err)
	assert.Equal(t, base.Hash, renamed.Hash)
}

func TestRun_FailedExpectation(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: wrong
processes:
  - name: a
steps:
  - as: a
    syscall: SEND
    args: [3, 1]
    expect: ok
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "step 1 (a SEND): expected ok, got EINVALIDSLOT", result.Errors[0])
}

func TestRun_FailedAssertions(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: asserts
processes:
  - name: a
steps:
  - as: a
    syscall: CREATE_ENDPOINT
assertions:
  - type: commit_count
    count: 99
  - type: process_state
    process: a
    state: Zombie
  - type: commit_kinds
    kinds: [EndpointCreated]
  - type: cap_count
    process: a
    count: 1
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "commit_count")
	assert.Contains(t, result.Errors[1], "a is Zombie")
	assert.Contains(t, result.Errors[2], "[EndpointCreated CapInserted]")
}

func TestRun_ExecutionErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown actor",
			yaml: "name: x\nsteps:\n  - as: ghost\n    syscall: YIELD\n",
			want: `unknown process "ghost"`,
		},
		{
			name: "unknown process argument",
			yaml: "name: x\nprocesses: [{name: a}]\nsteps:\n  - as: a\n    syscall: CAP_GRANT\n    args: [0, \"@ghost\", \"r--\"]\n",
			want: `unknown process "ghost"`,
		},
		{
			name: "uninterpretable argument",
			yaml: "name: x\nprocesses: [{name: a}]\nsteps:\n  - as: a\n    syscall: DEBUG\n    args: [\"hello\"]\n",
			want: `cannot interpret "hello"`,
		},
		{
			name: "missing manifest",
			yaml: "name: x\nmanifest: nowhere.cue\nsteps:\n  - as: a\n    syscall: YIELD\n",
			want: "failed to set up scenario x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := ParseScenario([]byte(tt.yaml))
			require.NoError(t, err)
			_, err = Run(t.Context(), sc)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type recordingSink struct {
	commits []axiom.Commit
	events  []axiom.SysEvent
}

func (r *recordingSink) AppendCommit(c axiom.Commit) error {
	r.commits = append(r.commits, c)
	return nil
}

func (r *recordingSink) AppendEvent(e axiom.SysEvent) error {
	r.events = append(r.events, e)
	return nil
}

func TestRun_Sinks(t *testing.T) {
	sink := &recordingSink{}
	sc := loadTestScenario(t, "grant_chain")

	result, err := Run(t.Context(), sc, WithCommitSink(sink), WithEventSink(sink))
	require.NoError(t, err)
	assert.Len(t, sink.commits, len(result.Commits))
	assert.Len(t, sink.events, result.Events)
	for _, e := range sink.events {
		assert.Equal(t, "grant-chain", e.Session)
	}
}

func TestResolveArgs(t *testing.T) {
	h := &Harness{pids: map[string]state.PID{"srv": 4}}

	got, err := h.resolveArgs([]any{1, "@srv", "rwg", -1})
	require.NoError(t, err)
	assert.Equal(t, [4]uint64{1, 4, 7, ^uint64(0)}, got)

	_, err = h.resolveArgs([]any{1, 2, 3, 4, 5})
	assert.Error(t, err)

	_, err = h.resolveArgs([]any{true})
	assert.Error(t, err)
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "12", FormatResult(12))
	assert.Equal(t, "EPERM", FormatResult(-8))
}
