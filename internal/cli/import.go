package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/state"
)

// ImportResult describes an imported log.
type ImportResult struct {
	HostID  string `json:"host_id"`
	Commits int    `json:"commits"`
	Head    string `json:"head"`
	Hash    string `json:"hash"`
	// MalformedAt is set when only the prefix before this seq was
	// imported.
	MalformedAt *uint64 `json:"malformed_at,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load an exported commit log into an empty database",
		Long: `Import a commit log written by export. Compression is detected
automatically.

The log must verify and replay before any commit is stored, and the
target database must not hold a commit log yet. Commits are stored in a
single transaction. If the export is malformed partway, the valid prefix
before the bad record is imported and the command exits 1.

Exit codes:
  0 - Import succeeded
  1 - The export is malformed (its valid prefix is still imported),
      its chain is broken, or it does not replay
  2 - Command error (file not found, database not empty, etc.)

Examples:
  axiomctl import log.jsonl --db ./copy.db
  axiomctl import log.jsonl.zst --db ./copy.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runImport(ctx context.Context, opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	in, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open export", err)
	}
	defer in.Close()

	h, commits, err := axiom.Import(in)
	var malformed *axiom.MalformedCommitError
	switch {
	case errors.As(err, &malformed) && len(commits) > 0:
		f.VerboseLog("export is malformed at seq %d, importing the %d commits before it", malformed.Seq, len(commits))
	case err != nil:
		return f.Fail(ExitFailure, ErrCodeImport, "failed to decode export", err)
	case h.Commits != len(commits):
		return f.Fail(ExitFailure, ErrCodeImport,
			fmt.Sprintf("header announces %d commits, found %d", h.Commits, len(commits)), nil)
	}
	if len(commits) == 0 {
		return f.Fail(ExitFailure, ErrCodeImport, "export holds no commits", nil)
	}
	if _, err := axiom.VerifyChain(commits); err != nil {
		return f.Fail(ExitFailure, ErrCodeChain, "imported chain is broken", err)
	}
	head := commits[len(commits)-1].ID
	if malformed == nil && head != h.Head {
		return f.Fail(ExitFailure, ErrCodeImport, "head does not match header", nil)
	}
	s, err := newEngine(opts).Replay(commits)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeReplay, "imported log does not replay", err)
	}

	st, err := openStore(opts, false)
	if err != nil {
		return err
	}
	defer st.Close()

	if n, err := st.CommitCount(ctx); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read database", err)
	} else if n > 0 {
		return f.Fail(ExitCommandError, ErrCodeStore,
			fmt.Sprintf("database %s already holds %d commits", opts.Database, n), nil)
	}
	if err := st.WriteCommits(ctx, commits); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to store commits", err)
	}
	f.VerboseLog("imported from host %s (kernel %s)", h.HostID, h.KernelVersion)

	result := ImportResult{
		HostID:  h.HostID,
		Commits: len(commits),
		Head:    head.String(),
		Hash:    state.Hash(s).String(),
	}
	if malformed != nil {
		result.MalformedAt = &malformed.Seq
		result.Error = malformed.Error()
	}
	if err := f.Emit(result, func(w io.Writer) {
		if result.MalformedAt != nil {
			fmt.Fprintf(w, "✗ Export is malformed at seq %d: %s\n", *result.MalformedAt, result.Error)
			fmt.Fprintf(w, "  Imported the valid prefix: %d of %d commits\n", result.Commits, h.Commits)
		} else {
			fmt.Fprintf(w, "✓ Imported %d commits from host %s\n", result.Commits, result.HostID)
		}
		fmt.Fprintf(w, "  Head:  %s\n  State: %s\n", result.Head, result.Hash)
	}); err != nil {
		return err
	}
	if malformed != nil {
		return NewExitError(ExitFailure,
			fmt.Sprintf("export is malformed at seq %d; imported %d commits", malformed.Seq, len(commits)))
	}
	return nil
}
