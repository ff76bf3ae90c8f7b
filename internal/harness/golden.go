package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a result as the text stored in golden files: one
// line per step, then one line per commit.
//
//	scenario grant_chain
//	step 1 server CREATE_ENDPOINT -> 0
//	commit 3 EndpointCreated {"id":1,"owner":1} caused_by=1
func FormatTrace(name string, r *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario %s\n", name)
	for _, s := range r.Steps {
		fmt.Fprintf(&buf, "step %d %s %s -> %s\n", s.Index, s.As, s.Syscall, s.Outcome())
	}
	for _, c := range r.Commits {
		fmt.Fprintf(&buf, "commit %d %s %s", c.Seq, c.Kind, c.Payload)
		if c.CausedBy != nil {
			fmt.Fprintf(&buf, " caused_by=%d", *c.CausedBy)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, sc *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), sc, opts...)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, sc.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, r *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, FormatTrace(name, r))
}
