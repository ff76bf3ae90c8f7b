package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/axiom/internal/kernel"
	"github.com/roach88/axiom/internal/state"
)

// Scenario is a scripted run of raw syscalls.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Session names the SysLog session. Defaults to testutil.DefaultSession.
	Session string `yaml:"session,omitempty"`

	// Seed seeds the kernel's random stream (call ids).
	Seed uint64 `yaml:"seed,omitempty"`

	// Manifest is a CUE boot manifest, booted before Processes are
	// created. Relative paths are resolved against the scenario file.
	Manifest string `yaml:"manifest,omitempty"`

	// Processes are spawned in order before the first step.
	Processes []ProcessDecl `yaml:"processes,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final kernel state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ProcessDecl creates a process. An empty parent means the kernel.
type ProcessDecl struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent,omitempty"`
}

// Step issues one syscall as a named process.
type Step struct {
	As      string `yaml:"as"`
	Syscall string `yaml:"syscall"`
	Args    []any  `yaml:"args,omitempty"`

	// Expect is "ok", an errno name, or an exact result. Empty means
	// the result is not checked.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates the final kernel state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Process names the subject of process_state and cap_count.
	Process string `yaml:"process,omitempty"`

	// State is the expected process state (Running, Blocked, Zombie).
	State string `yaml:"state,omitempty"`

	// Count is used by commit_count, cap_count, syslog_count and
	// endpoint_count.
	Count int `yaml:"count,omitempty"`

	// Kinds is the expected sequence of kinds of syscall-caused commits,
	// used by commit_kinds.
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion types.
const (
	AssertCommitCount   = "commit_count"
	AssertCommitKinds   = "commit_kinds"
	AssertProcessState  = "process_state"
	AssertCapCount      = "cap_count"
	AssertSysLogCount   = "syslog_count"
	AssertEndpointCount = "endpoint_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if sc.Manifest != "" && !filepath.IsAbs(sc.Manifest) {
		sc.Manifest = filepath.Join(filepath.Dir(path), sc.Manifest)
	}
	return sc, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(sc *Scenario) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one syscall")
	}

	declared := make(map[string]bool)
	for i, p := range sc.Processes {
		if p.Name == "" {
			return fmt.Errorf("processes[%d]: name is required", i)
		}
		if declared[p.Name] {
			return fmt.Errorf("processes[%d]: duplicate process %q", i, p.Name)
		}
		if p.Parent != "" && !declared[p.Parent] && sc.Manifest == "" {
			return fmt.Errorf("processes[%d]: parent %q is not declared before %q", i, p.Parent, p.Name)
		}
		declared[p.Name] = true
	}

	for i, step := range sc.Steps {
		if err := validateStep(step, i); err != nil {
			return err
		}
	}
	for i, a := range sc.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step, index int) error {
	if step.As == "" {
		return fmt.Errorf("steps[%d]: as is required", index)
	}
	if _, err := kernel.ParseNum(step.Syscall); err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}
	if len(step.Args) > 4 {
		return fmt.Errorf("steps[%d]: at most 4 args, got %d", index, len(step.Args))
	}
	if _, err := parseExpect(step.Expect); err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	switch a.Type {
	case AssertCommitCount, AssertSysLogCount, AssertEndpointCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertCommitKinds:
		for _, k := range a.Kinds {
			if !knownKind(state.Kind(k)) {
				return fmt.Errorf("assertions[%d]: unknown commit kind %q", index, k)
			}
		}
	case AssertProcessState:
		if a.Process == "" {
			return fmt.Errorf("assertions[%d]: process is required for process_state", index)
		}
		switch a.State {
		case state.Running.String(), state.Blocked.String(), state.Zombie.String():
		default:
			return fmt.Errorf("assertions[%d]: unknown process state %q", index, a.State)
		}
	case AssertCapCount:
		if a.Process == "" {
			return fmt.Errorf("assertions[%d]: process is required for cap_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for cap_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func knownKind(k state.Kind) bool {
	switch k {
	case state.KindGenesis, state.KindProcessCreated, state.KindProcessExited,
		state.KindCapInserted, state.KindCapRemoved, state.KindCapGranted,
		state.KindEndpointCreated, state.KindEndpointDestroyed:
		return true
	}
	return false
}

// expectation is a parsed Step.Expect.
type expectation struct {
	kind   expectKind
	result int64
}

type expectKind int

const (
	expectAny expectKind = iota
	expectOK
	expectExact
)

func parseExpect(s string) (expectation, error) {
	switch s {
	case "":
		return expectation{kind: expectAny}, nil
	case "ok":
		return expectation{kind: expectOK}, nil
	}
	if code, ok := kernel.ParseErrno(s); ok {
		return expectation{kind: expectExact, result: code}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return expectation{}, fmt.Errorf("expect %q is not ok, an errno name, or an integer", s)
	}
	return expectation{kind: expectExact, result: n}, nil
}

func (e expectation) matches(result int64) bool {
	switch e.kind {
	case expectOK:
		return result >= 0
	case expectExact:
		return result == e.result
	default:
		return true
	}
}

func (e expectation) String() string {
	switch e.kind {
	case expectOK:
		return "ok"
	case expectExact:
		return FormatResult(e.result)
	default:
		return "any"
	}
}
