package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/axiom/internal/state"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluate checks every assertion and returns the failure messages.
func (h *Harness) evaluate(assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.check(a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i+1, err))
		}
	}
	return errs
}

func (h *Harness) check(a Assertion) error {
	switch a.Type {
	case AssertCommitCount:
		return assertCount(a.Type, a.Count, h.kernel.CommitLog().Len())
	case AssertSysLogCount:
		return assertCount(a.Type, a.Count, h.kernel.SysLog().Len())
	case AssertEndpointCount:
		return assertCount(a.Type, a.Count, len(h.kernel.State().Endpoints))
	case AssertCommitKinds:
		return h.assertCommitKinds(a)
	case AssertProcessState:
		return h.assertProcessState(a)
	case AssertCapCount:
		pid, err := h.pid(a.Process)
		if err != nil {
			return err
		}
		return assertCount(a.Type, a.Count, len(h.kernel.ListCaps(pid)))
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(typ string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{Type: typ, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
}

// assertCommitKinds compares the kinds of every commit caused by a
// syscall, in order. Genesis and host-originated commits (boot, spawn)
// are skipped.
func (h *Harness) assertCommitKinds(a Assertion) error {
	var got []string
	for _, c := range h.kernel.Commits() {
		if c.CausedBy != nil {
			got = append(got, string(c.Type.Kind()))
		}
	}
	want := a.Kinds
	if want == nil {
		want = []string{}
	}
	if got == nil {
		got = []string{}
	}
	if slices.Equal(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
	}
}

func (h *Harness) assertProcessState(a Assertion) error {
	pid, err := h.pid(a.Process)
	if err != nil {
		return err
	}
	info, ok := h.kernel.Process(pid)
	if !ok {
		return &AssertionError{Type: a.Type, Expected: a.State, Actual: "no such process"}
	}
	if info.State.String() != a.State {
		actual := info.State.String()
		if info.State == state.Blocked {
			actual += " on " + info.BlockedOn
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s is %s", a.Process, a.State),
			Actual:   actual,
		}
	}
	return nil
}

func (h *Harness) pid(name string) (state.PID, error) {
	pid, ok := h.pids[name]
	if !ok {
		return 0, fmt.Errorf("unknown process %q", name)
	}
	return pid, nil
}
