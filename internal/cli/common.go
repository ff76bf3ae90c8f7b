package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/replay"
	"github.com/roach88/axiom/internal/state"
	"github.com/roach88/axiom/internal/store"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openStore opens the configured database. Commands that only read refuse
// to create a database that does not exist yet.
func openStore(opts *RootOptions, mustExist bool) (*store.Store, error) {
	if mustExist {
		if _, err := os.Stat(opts.Database); errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
		}
	}
	st, err := store.Open(opts.Database, store.WithLogger(opts.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// loadCommits reads the whole commit log and verifies its hash chain.
// An empty log is a command error: there is nothing to verify or replay.
// A broken chain fails the command before any commit is applied.
func loadCommits(ctx context.Context, f *OutputFormatter, st *store.Store) ([]axiom.Commit, error) {
	commits, err := st.ReadCommits(ctx)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to read commit log", err)
	}
	if len(commits) == 0 {
		return nil, NewExitError(ExitCommandError, "database holds no commits")
	}
	if _, err := axiom.VerifyChain(commits); err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeChain, "commit log failed verification", err)
	}
	return commits, nil
}

func newEngine(opts *RootOptions) *replay.Engine {
	return replay.New(
		replay.WithLogger(opts.Logger),
		replay.WithMetrics(opts.Metrics),
		replay.WithStateOptions(state.WithMaxSlots(opts.Config.Kernel.MaxSlots)),
	)
}

// reportMetrics prints every non-zero counter in verbose mode.
func reportMetrics(f *OutputFormatter, opts *RootOptions) {
	if opts.Registry == nil || !f.Verbose {
		return
	}
	families, err := opts.Registry.Gather()
	if err != nil {
		f.VerboseLog("metrics unavailable: %v", err)
		return
	}
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		if total > 0 {
			f.VerboseLog("%s %g", mf.GetName(), total)
		}
	}
}
