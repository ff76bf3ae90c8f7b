package harness

import (
	"strconv"

	"github.com/roach88/axiom/internal/kernel"
)

// StepResult is one executed syscall.
type StepResult struct {
	Index   int       `json:"index"`
	As      string    `json:"as"`
	Syscall string    `json:"syscall"`
	Args    [4]uint64 `json:"args"`
	Result  int64     `json:"result"`
}

// Outcome renders the result as a number, or as an errno name when it is
// negative.
func (s StepResult) Outcome() string {
	return FormatResult(s.Result)
}

// FormatResult renders a raw syscall result.
func FormatResult(r int64) string {
	if r < 0 {
		return kernel.ErrnoName(r)
	}
	return strconv.FormatInt(r, 10)
}

// TraceCommit is a commit as it appears in a trace: without its id and
// timestamp, with the payload in canonical JSON.
type TraceCommit struct {
	Seq      uint64  `json:"seq"`
	Kind     string  `json:"kind"`
	Payload  string  `json:"payload"`
	CausedBy *uint64 `json:"caused_by,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Steps   []StepResult  `json:"steps"`
	Commits []TraceCommit `json:"commits"`

	// Errors describes each failed expectation or assertion.
	Errors []string `json:"errors,omitempty"`

	// Hash is the final state hash.
	Hash string `json:"hash"`

	// Events is the number of SysLog entries written.
	Events int `json:"events"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Steps:   []StepResult{},
		Commits: []TraceCommit{},
		Errors:  []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
