package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/axiom"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output   string
	Compress bool
}

// ExportResult describes a written export.
type ExportResult struct {
	Path       string `json:"path"`
	HostID     string `json:"host_id"`
	Commits    int    `json:"commits"`
	Head       string `json:"head"`
	Compressed bool   `json:"compressed"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the commit log to a portable file",
		Long: `Export the commit log as newline-delimited JSON: a header naming the
exporting host and the head commit, then one commit per line. With --zstd
the stream is compressed.

The chain is verified before anything is written.

Exit codes:
  0 - Export written
  1 - The stored chain is broken
  2 - Command error (database not found, unwritable output, etc.)

Examples:
  axiomctl export --db ./axiom.db -o log.jsonl
  axiomctl export --db ./axiom.db -o log.jsonl.zst --zstd`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (required)")
	cmd.Flags().BoolVar(&opts.Compress, "zstd", false, "compress the export with zstd")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) (err error) {
	f := newFormatter(opts.RootOptions, cmd)

	st, err := openStore(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer st.Close()

	commits, err := loadCommits(ctx, f, st)
	if err != nil {
		return err
	}
	hostID, err := st.HostID(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to read host id", err)
	}

	out, err := os.Create(opts.Output)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create output", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = WrapExitError(ExitCommandError, "failed to close output", cerr)
		}
	}()

	h := axiom.NewHeader(hostID, commits)
	if err := axiom.Export(out, h, commits, opts.Compress); err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "export failed", err)
	}

	result := ExportResult{
		Path:       opts.Output,
		HostID:     hostID,
		Commits:    len(commits),
		Head:       h.Head.String(),
		Compressed: opts.Compress,
	}
	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Exported %d commits to %s\n", result.Commits, result.Path)
		fmt.Fprintf(w, "  Host: %s\n  Head: %s\n", result.HostID, result.Head)
	})
}
