package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/kernel"
	"github.com/roach88/axiom/internal/manifest"
)

// BootResult reports the objects created from a manifest.
type BootResult struct {
	Processes map[string]uint64 `json:"processes"`
	Endpoints map[string]uint64 `json:"endpoints"`
	Commits   int               `json:"commits"`
	Head      string            `json:"head"`
	Hash      string            `json:"hash"`
	Session   string            `json:"session"`
}

// NewBootCommand creates the boot command.
func NewBootCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot <manifest.cue>",
		Short: "Boot a manifest into a new commit log",
		Long: `Boot the processes and endpoints described by a CUE manifest and
persist the resulting commit log and SysLog to the database.

The database must not already hold a commit log. Process binaries named in
the manifest are read relative to the manifest's directory.

Exit codes:
  0 - Boot succeeded
  2 - Command error (invalid manifest, database already initialized, etc.)

Examples:
  axiomctl boot ./system.cue --db ./axiom.db
  axiomctl boot ./system.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBoot(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runBoot(ctx context.Context, opts *RootOptions, manifestPath string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeManifest, "invalid manifest", err)
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

	k, err := kernel.New(
		kernel.WithLogger(opts.Logger),
		kernel.WithMetrics(opts.Metrics),
		kernel.WithMaxSlots(opts.Config.Kernel.MaxSlots),
		kernel.WithMaxQueue(opts.Config.Kernel.MaxQueue),
		kernel.WithCommitSink(st),
		kernel.WithEventSink(st),
	)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "failed to start kernel", err)
	}

	dir := filepath.Dir(manifestPath)
	booted, err := k.Boot(m, func(p string) ([]byte, error) {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		return os.ReadFile(p)
	})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeManifest, "boot failed", err)
	}

	result := BootResult{
		Processes: make(map[string]uint64, len(booted.PIDs)),
		Endpoints: make(map[string]uint64, len(booted.Endpoints)),
		Commits:   k.CommitLog().Len(),
		Head:      k.CommitLog().Head().ID.String(),
		Hash:      k.Hash().String(),
		Session:   k.SysLog().Session(),
	}
	for name, pid := range booted.PIDs {
		result.Processes[name] = uint64(pid)
	}
	for name, id := range booted.Endpoints {
		result.Endpoints[name] = uint64(id)
	}

	reportMetrics(f, opts)
	return f.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "Booted %d process(es), %d endpoint(s)\n", len(result.Processes), len(result.Endpoints))
		for _, name := range sortedKeys(result.Processes) {
			fmt.Fprintf(w, "  pid %d  %s\n", result.Processes[name], name)
		}
		for _, name := range sortedKeys(result.Endpoints) {
			fmt.Fprintf(w, "  endpoint %d  %s\n", result.Endpoints[name], name)
		}
		fmt.Fprintf(w, "Commits: %d\nHead: %s\nState: %s\n", result.Commits, result.Head, result.Hash)
	})
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
