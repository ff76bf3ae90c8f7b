package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/ir"
	"github.com/roach88/axiom/internal/state"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	At     int64
	Expect string
}

// HashResult is the state hash after a prefix of the log.
type HashResult struct {
	Seq    uint64 `json:"seq"`
	Commit string `json:"commit"`
	Hash   string `json:"hash"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the state hash at a point in the log",
		Long: `Replay the commit log up to and including --at (default: the head) and
print the resulting state hash. With --expect, the hash must match.

Exit codes:
  0 - Hash computed (and matched, with --expect)
  1 - The chain is broken, replay failed, or the hash did not match
  2 - Command error (database not found, seq out of range, etc.)

Examples:
  axiomctl hash --db ./axiom.db
  axiomctl hash --db ./axiom.db --at 12
  axiomctl hash --db ./axiom.db --expect 3f9a...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.At, "at", -1, "last commit seq to replay (default head)")
	cmd.Flags().StringVar(&opts.Expect, "expect", "", "expected state hash (hex)")

	return cmd
}

func runHash(ctx context.Context, opts *HashOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	var expected ir.Hash
	if opts.Expect != "" {
		var err error
		if expected, err = ir.ParseHash(opts.Expect); err != nil {
			return WrapExitError(ExitCommandError, "invalid --expect", err)
		}
	}

	st, err := openStore(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer st.Close()

	commits, err := loadCommits(ctx, f, st)
	if err != nil {
		return err
	}
	if opts.At >= int64(len(commits)) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("--at %d is past the head (seq %d)", opts.At, len(commits)-1))
	}
	if opts.At >= 0 {
		commits = commits[:opts.At+1]
	}

	engine := newEngine(opts.RootOptions)
	var s *state.State
	if opts.Expect != "" {
		if s, err = engine.ReplayAndVerify(commits, expected); err != nil {
			return f.Fail(ExitFailure, ErrCodeReplay, "state hash mismatch", err)
		}
	} else if s, err = engine.Replay(commits); err != nil {
		return f.Fail(ExitFailure, ErrCodeReplay, "replay failed", err)
	}

	head := commits[len(commits)-1]
	result := HashResult{Seq: head.Seq, Commit: head.ID.String(), Hash: state.Hash(s).String()}
	f.VerboseLog("after seq %d (commit %s)", result.Seq, head.ID.Short())
	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintln(w, result.Hash)
	})
}
