package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	sc := loadTestScenario(t, "grant_chain")

	assert.Equal(t, "grant_chain", sc.Name)
	assert.Equal(t, "grant-chain", sc.Session)
	assert.Equal(t, uint64(7), sc.Seed)
	assert.Equal(t, []ProcessDecl{{Name: "server"}, {Name: "client", Parent: "server"}}, sc.Processes)
	require.Len(t, sc.Steps, 7)
	assert.Equal(t, Step{As: "server", Syscall: "CAP_GRANT", Args: []any{0, "@client", "rw-"}, Expect: "0"}, sc.Steps[1])
	assert.Len(t, sc.Assertions, 6)
}

func TestLoadScenario_ResolvesManifest(t *testing.T) {
	sc := loadTestScenario(t, "boot_log")
	assert.Equal(t, filepath.Join("testdata", "manifests", "boot_log.cue"), sc.Manifest)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")

	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nstep:\n  - as: a\n"), 0o644))
	_, err = LoadScenario(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "steps: [{as: a, syscall: YIELD}]", "name is required"},
		{"no steps", "name: x", "at least one syscall"},
		{"unnamed process", "name: x\nprocesses: [{parent: a}]\nsteps: [{as: a, syscall: YIELD}]", "processes[0]: name is required"},
		{"duplicate process", "name: x\nprocesses: [{name: a}, {name: a}]\nsteps: [{as: a, syscall: YIELD}]", `duplicate process "a"`},
		{"undeclared parent", "name: x\nprocesses: [{name: a, parent: b}]\nsteps: [{as: a, syscall: YIELD}]", `parent "b" is not declared`},
		{"missing actor", "name: x\nsteps: [{syscall: YIELD}]", "steps[0]: as is required"},
		{"unknown syscall", "name: x\nsteps: [{as: a, syscall: FORK}]", "unknown syscall"},
		{"too many args", "name: x\nsteps: [{as: a, syscall: SEND, args: [1, 2, 3, 4, 5]}]", "at most 4 args"},
		{"bad expect", "name: x\nsteps: [{as: a, syscall: YIELD, expect: maybe}]", `expect "maybe"`},
		{"unknown assertion", "name: x\nsteps: [{as: a, syscall: YIELD}]\nassertions: [{type: vibes}]", `unknown assertion type "vibes"`},
		{"unknown kind", "name: x\nsteps: [{as: a, syscall: YIELD}]\nassertions: [{type: commit_kinds, kinds: [Forked]}]", `unknown commit kind "Forked"`},
		{"state without process", "name: x\nsteps: [{as: a, syscall: YIELD}]\nassertions: [{type: process_state, state: Zombie}]", "process is required"},
		{"unknown state", "name: x\nsteps: [{as: a, syscall: YIELD}]\nassertions: [{type: process_state, process: a, state: Sleeping}]", `unknown process state "Sleeping"`},
		{"negative count", "name: x\nsteps: [{as: a, syscall: YIELD}]\nassertions: [{type: commit_count, count: -1}]", "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseExpect(t *testing.T) {
	tests := []struct {
		in      string
		result  int64
		matches bool
	}{
		{"", -8, true},
		{"ok", 0, true},
		{"ok", 5, true},
		{"ok", -1, false},
		{"EPERM", -8, true},
		{"EPERM", -9, false},
		{"42", 42, true},
		{"-3", -3, true},
	}
	for _, tt := range tests {
		e, err := parseExpect(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.matches, e.matches(tt.result), "%q vs %d", tt.in, tt.result)
	}
}
