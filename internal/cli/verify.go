package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/store"
)

// VerifyResult reports a hash chain check.
type VerifyResult struct {
	Stored   int     `json:"stored"`
	Verified int     `json:"verified"`
	Valid    bool    `json:"valid"`
	Head     string  `json:"head,omitempty"`
	BrokenAt *uint64 `json:"broken_at,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the commit log hash chain",
		Long: `Recompute every commit id in the database and check that each commit
links to its predecessor, starting from genesis.

Exit codes:
  0 - The chain is intact
  1 - The chain is broken or a commit cannot be decoded
  2 - Command error (database not found, etc.)

Examples:
  axiomctl verify --db ./axiom.db
  axiomctl verify --db ./axiom.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), rootOpts, cmd)
		},
	}
	return cmd
}

func runVerify(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	st, err := openStore(opts, true)
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.CommitCount(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read database", err)
	}
	commits, loadErr := st.LoadCommits(ctx)
	var corrupt *store.CorruptRowError
	if loadErr != nil && !errors.As(loadErr, &corrupt) {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read commit log", loadErr)
	}

	result := VerifyResult{Stored: stored}
	n, chainErr := axiom.VerifyChain(commits)
	result.Verified = n
	switch {
	case chainErr != nil:
		var ce *axiom.ChainError
		if errors.As(chainErr, &ce) {
			result.BrokenAt = &ce.Seq
		}
		result.Error = chainErr.Error()
	case loadErr != nil:
		result.BrokenAt = &corrupt.Seq
		result.Error = loadErr.Error()
	default:
		result.Valid = true
	}
	if n > 0 {
		result.Head = commits[n-1].ID.String()
	}
	f.VerboseLog("verified %d of %d stored commits", result.Verified, result.Stored)

	if err := f.Emit(result, func(w io.Writer) {
		if result.Valid {
			fmt.Fprintf(w, "✓ Chain intact: %d commits\n", result.Verified)
			fmt.Fprintf(w, "  Head: %s\n", result.Head)
			return
		}
		fmt.Fprintf(w, "✗ Chain broken: %s\n", result.Error)
		fmt.Fprintf(w, "  Verified prefix: %d of %d commits\n", result.Verified, result.Stored)
	}); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "commit log failed verification")
	}
	return nil
}
