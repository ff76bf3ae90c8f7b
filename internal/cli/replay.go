package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/state"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Runs    int
	Recover bool
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Commits       int          `json:"commits"`
	Runs          int          `json:"runs"`
	Hash          string       `json:"hash"`
	Deterministic bool         `json:"deterministic"`
	Processes     int          `json:"processes"`
	Zombies       int          `json:"zombies"`
	Endpoints     int          `json:"endpoints"`
	Capabilities  int          `json:"capabilities"`
	Recovery      *RecoverInfo `json:"recovery,omitempty"`
}

// RecoverInfo describes a truncation performed by --recover.
type RecoverInfo struct {
	Kept    int    `json:"kept"`
	Dropped int    `json:"dropped"`
	Cause   string `json:"cause,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the commit log and verify determinism",
		Long: `Rebuild kernel state from the commit log, several times concurrently,
and require every run to reach the same state hash. The hash chain is
verified first; a broken chain is never replayed.

With --recover, the log is first cut back to its longest prefix that
verifies and applies, and the rest is deleted from the database.

Exit codes:
  0 - Replay is deterministic
  1 - The chain is broken, replay failed, or runs disagreed
  2 - Command error (database not found, etc.)

Examples:
  axiomctl replay --db ./axiom.db
  axiomctl replay --db ./axiom.db --runs 8
  axiomctl replay --db ./axiom.db --recover --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Runs, "runs", 2, "number of concurrent replays to compare")
	cmd.Flags().BoolVar(&opts.Recover, "recover", false, "truncate the log to its valid prefix first")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	if opts.Runs < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--runs must be at least 1, got %d", opts.Runs))
	}

	st, err := openStore(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := newEngine(opts.RootOptions)
	var recovery *RecoverInfo
	if opts.Recover {
		r, err := st.Recover(ctx, engine)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeReplay, "recovery failed", err)
		}
		if r != nil {
			recovery = &RecoverInfo{Kept: len(r.Commits), Dropped: r.Dropped}
			if r.Cause != nil {
				recovery.Cause = r.Cause.Error()
			}
			f.VerboseLog("recovery kept %d commits, dropped %d", recovery.Kept, recovery.Dropped)
		}
	}

	commits, err := loadCommits(ctx, f, st)
	if err != nil {
		return err
	}

	s, err := engine.Replay(commits)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeReplay, "replay failed", err)
	}
	hash, err := engine.VerifyDeterminism(ctx, commits, opts.Runs)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeReplay, "replay is not deterministic", err)
	}

	result := summarize(s, commits)
	result.Runs = opts.Runs
	result.Hash = hash.String()
	result.Deterministic = true
	result.Recovery = recovery

	reportMetrics(f, opts.RootOptions)
	return f.Emit(result, func(w io.Writer) {
		if result.Recovery != nil && result.Recovery.Dropped > 0 {
			fmt.Fprintf(w, "Recovered: kept %d commits, dropped %d (%s)\n",
				result.Recovery.Kept, result.Recovery.Dropped, result.Recovery.Cause)
		}
		fmt.Fprintf(w, "✓ Deterministic over %d run(s)\n", result.Runs)
		fmt.Fprintf(w, "  Commits:      %d\n", result.Commits)
		fmt.Fprintf(w, "  Processes:    %d (%d exited)\n", result.Processes, result.Zombies)
		fmt.Fprintf(w, "  Endpoints:    %d\n", result.Endpoints)
		fmt.Fprintf(w, "  Capabilities: %d\n", result.Capabilities)
		fmt.Fprintf(w, "  State hash:   %s\n", result.Hash)
	})
}

func summarize(s *state.State, commits []axiom.Commit) ReplayResult {
	r := ReplayResult{
		Commits:   len(commits),
		Processes: len(s.Processes),
		Endpoints: len(s.Endpoints),
	}
	for _, p := range s.Processes {
		if p.State == state.Zombie {
			r.Zombies++
		}
	}
	for _, space := range s.Spaces {
		r.Capabilities += space.Len()
	}
	return r
}
