package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/axiom/internal/state"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	PID uint64
}

// ProcessInfo is one row of the process table.
type ProcessInfo struct {
	PID      uint64    `json:"pid"`
	Parent   uint64    `json:"parent"`
	Name     string    `json:"name"`
	State    string    `json:"state"`
	ExitCode *int64    `json:"exit_code,omitempty"`
	Caps     []CapInfo `json:"caps"`
}

// CapInfo describes one occupied slot.
type CapInfo struct {
	Slot    uint32   `json:"slot"`
	ID      uint64   `json:"id"`
	Type    string   `json:"type"`
	Object  uint64   `json:"object"`
	Perms   string   `json:"perms"`
	Lineage []uint64 `json:"lineage,omitempty"`
	Expiry  uint64   `json:"expiry,omitempty"`
}

// EndpointInfo describes one live endpoint.
type EndpointInfo struct {
	ID    uint64 `json:"id"`
	Owner uint64 `json:"owner"`
}

// InspectResult is the replayed kernel state.
type InspectResult struct {
	Processes []ProcessInfo  `json:"processes"`
	Endpoints []EndpointInfo `json:"endpoints"`
	Hash      string         `json:"hash"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show processes, capabilities and endpoints",
		Long: `Replay the commit log and print the resulting kernel state: the process
table with each process's capability space, and the live endpoints.

Exited processes are listed with their exit code; their capabilities are
kept for audit.

Exit codes:
  0 - State printed
  1 - The chain is broken or replay failed
  2 - Command error (database not found, unknown pid, etc.)

Examples:
  axiomctl inspect --db ./axiom.db
  axiomctl inspect --db ./axiom.db --pid 2 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.PID, "pid", 0, "only show this process")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, cmd *cobra.Command) error {
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
	s, err := newEngine(opts.RootOptions).Replay(commits)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeReplay, "replay failed", err)
	}

	pids := s.PIDs()
	if opts.PID != 0 {
		if _, ok := s.Process(state.PID(opts.PID)); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("no process with pid %d", opts.PID))
		}
		pids = []state.PID{state.PID(opts.PID)}
	}

	result := InspectResult{
		Processes: make([]ProcessInfo, 0, len(pids)),
		Endpoints: []EndpointInfo{},
		Hash:      state.Hash(s).String(),
	}
	for _, pid := range pids {
		result.Processes = append(result.Processes, describeProcess(s, pid))
	}
	for _, id := range s.EndpointIDs() {
		ep, _ := s.Endpoint(id)
		if opts.PID != 0 && uint64(ep.Owner) != opts.PID {
			continue
		}
		result.Endpoints = append(result.Endpoints, EndpointInfo{ID: uint64(ep.ID), Owner: uint64(ep.Owner)})
	}

	return f.Emit(result, func(w io.Writer) {
		for _, p := range result.Processes {
			fmt.Fprintf(w, "pid %d %s (%s, parent %d)", p.PID, p.Name, p.State, p.Parent)
			if p.ExitCode != nil {
				fmt.Fprintf(w, " exit=%d", *p.ExitCode)
			}
			fmt.Fprintln(w)
			for _, c := range p.Caps {
				fmt.Fprintf(w, "  [%d] cap#%d %s:%d %s", c.Slot, c.ID, c.Type, c.Object, c.Perms)
				if len(c.Lineage) > 0 {
					fmt.Fprintf(w, " from %v", c.Lineage)
				}
				fmt.Fprintln(w)
			}
		}
		for _, e := range result.Endpoints {
			fmt.Fprintf(w, "endpoint %d owner %d\n", e.ID, e.Owner)
		}
		fmt.Fprintf(w, "State: %s\n", result.Hash)
	})
}

func describeProcess(s *state.State, pid state.PID) ProcessInfo {
	p, _ := s.Process(pid)
	info := ProcessInfo{
		PID:    uint64(p.PID),
		Parent: uint64(p.Parent),
		Name:   p.Name,
		State:  p.State.String(),
		Caps:   []CapInfo{},
	}
	if p.State == state.Zombie {
		code := p.ExitCode
		info.ExitCode = &code
	}
	for _, e := range s.Caps(pid) {
		c := CapInfo{
			Slot:   uint32(e.Slot),
			ID:     uint64(e.Cap.ID),
			Type:   e.Cap.Type.String(),
			Object: e.Cap.Object,
			Perms:  e.Cap.Perms.String(),
			Expiry: e.Cap.Expiry,
		}
		for _, a := range e.Cap.Lineage {
			c.Lineage = append(c.Lineage, uint64(a.ID))
		}
		info.Caps = append(info.Caps, c)
	}
	return info
}
