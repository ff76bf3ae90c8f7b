package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/hal"
	"github.com/roach88/axiom/internal/ir"
	"github.com/roach88/axiom/internal/kernel"
	"github.com/roach88/axiom/internal/manifest"
	"github.com/roach88/axiom/internal/replay"
	"github.com/roach88/axiom/internal/state"
	"github.com/roach88/axiom/internal/testutil"
)

var permsArg = regexp.MustCompile(`^[r-][w-][g-]$`)

// Option configures a run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
	sinks  []kernel.Option
}

// WithLogger routes kernel logs to logger. Runs are silent by default.
func WithLogger(logger *zap.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// WithCommitSink persists the run's commits, e.g. to a store.
func WithCommitSink(s axiom.Sink) Option {
	return func(c *runConfig) { c.sinks = append(c.sinks, kernel.WithCommitSink(s)) }
}

// WithEventSink persists the run's SysLog.
func WithEventSink(s axiom.EventSink) Option {
	return func(c *runConfig) { c.sinks = append(c.sinks, kernel.WithEventSink(s)) }
}

// Harness holds one scenario run.
type Harness struct {
	kernel *kernel.Kernel
	pids   map[string]state.PID
	logger *zap.Logger
}

// Run executes a scenario against a fresh kernel and returns the result.
// An error means the scenario could not be executed at all; failed
// expectations and assertions are reported in the Result.
func Run(ctx context.Context, sc *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := testutil.NewDeterministicClock()
	kopts := []kernel.Option{
		kernel.WithHAL(hal.NewFake(hal.WithClock(clock), hal.WithSeed(sc.Seed))),
		kernel.WithSession(testutil.NewFixedSessionGenerator(sc.Session)),
		kernel.WithLogger(cfg.logger),
	}
	k, err := kernel.New(append(kopts, cfg.sinks...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kernel: %w", err)
	}

	h := &Harness{
		kernel: k,
		pids:   make(map[string]state.PID),
		logger: cfg.logger,
	}
	if err := h.boot(sc); err != nil {
		return nil, fmt.Errorf("failed to set up scenario %s: %w", sc.Name, err)
	}

	result := NewResult()
	if err := h.executeSteps(ctx, sc.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute scenario %s: %w", sc.Name, err)
	}

	commits := k.Commits()
	result.Commits, err = traceCommits(commits)
	if err != nil {
		return nil, err
	}
	live := k.Hash()
	result.Hash = live.String()
	result.Events = k.SysLog().Len()

	if err := verifyReplay(commits, live); err != nil {
		result.AddError(err.Error())
	}
	for _, msg := range h.evaluate(sc.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// Kernel exposes the kernel of a finished run.
func (h *Harness) Kernel() *kernel.Kernel { return h.kernel }

func (h *Harness) boot(sc *Scenario) error {
	if sc.Manifest != "" {
		m, err := manifest.Load(sc.Manifest)
		if err != nil {
			return err
		}
		dir := filepath.Dir(sc.Manifest)
		booted, err := h.kernel.Boot(m, func(p string) ([]byte, error) {
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			return os.ReadFile(p)
		})
		if err != nil {
			return err
		}
		for name, pid := range booted.PIDs {
			h.pids[name] = pid
		}
	}

	for _, p := range sc.Processes {
		if _, dup := h.pids[p.Name]; dup {
			return fmt.Errorf("process %q already exists", p.Name)
		}
		parent := state.KernelPID
		if p.Parent != "" {
			var ok bool
			if parent, ok = h.pids[p.Parent]; !ok {
				return fmt.Errorf("process %q: unknown parent %q", p.Name, p.Parent)
			}
		}
		pid, err := h.kernel.Spawn(parent, p.Name, nil)
		if err != nil {
			return err
		}
		h.pids[p.Name] = pid
	}
	return nil
}

// executeSteps issues each step's syscall in order. The clock is the only
// source of time, so the same steps always produce the same commits.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		pid, ok := h.pids[step.As]
		if !ok {
			return fmt.Errorf("step %d: unknown process %q", i+1, step.As)
		}
		num, err := kernel.ParseNum(step.Syscall)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		args, err := h.resolveArgs(step.Args)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		want, err := parseExpect(step.Expect)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}

		res := h.kernel.Syscall(ctx, pid, uint64(num), args)
		sr := StepResult{Index: i + 1, As: step.As, Syscall: num.String(), Args: args, Result: res}
		result.Steps = append(result.Steps, sr)
		h.logger.Debug("step",
			zap.Int("index", sr.Index),
			zap.String("as", step.As),
			zap.String("syscall", sr.Syscall),
			zap.String("result", sr.Outcome()),
		)

		if !want.matches(res) {
			result.AddError(fmt.Sprintf("step %d (%s %s): expected %s, got %s",
				sr.Index, step.As, sr.Syscall, want, sr.Outcome()))
		}
	}
	return nil
}

// resolveArgs turns scenario arguments into raw syscall words.
func (h *Harness) resolveArgs(in []any) ([4]uint64, error) {
	var out [4]uint64
	if len(in) > len(out) {
		return out, fmt.Errorf("at most %d args, got %d", len(out), len(in))
	}
	for i, v := range in {
		switch a := v.(type) {
		case int:
			out[i] = uint64(int64(a))
		case int64:
			out[i] = uint64(a)
		case uint64:
			out[i] = a
		case string:
			w, err := h.resolveString(a)
			if err != nil {
				return out, fmt.Errorf("arg %d: %w", i, err)
			}
			out[i] = w
		default:
			return out, fmt.Errorf("arg %d: unsupported value %v (%T)", i, v, v)
		}
	}
	return out, nil
}

func (h *Harness) resolveString(s string) (uint64, error) {
	if len(s) > 1 && s[0] == '@' {
		pid, ok := h.pids[s[1:]]
		if !ok {
			return 0, fmt.Errorf("unknown process %q", s[1:])
		}
		return uint64(pid), nil
	}
	if permsArg.MatchString(s) {
		p, err := capability.ParsePerms(s)
		if err != nil {
			return 0, err
		}
		return uint64(p), nil
	}
	return 0, fmt.Errorf("cannot interpret %q: want an integer, @process or permissions", s)
}

func traceCommits(commits []axiom.Commit) ([]TraceCommit, error) {
	out := make([]TraceCommit, len(commits))
	for i, c := range commits {
		payload, err := ir.MarshalCanonical(c.Type.Payload())
		if err != nil {
			return nil, fmt.Errorf("commit %d payload: %w", c.Seq, err)
		}
		tc := TraceCommit{Seq: c.Seq, Kind: string(c.Type.Kind()), Payload: string(payload)}
		if c.CausedBy != nil {
			id := uint64(*c.CausedBy)
			tc.CausedBy = &id
		}
		out[i] = tc
	}
	return out, nil
}

func verifyReplay(commits []axiom.Commit, live ir.Hash) error {
	if _, err := replay.New().ReplayAndVerify(commits, live); err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}
