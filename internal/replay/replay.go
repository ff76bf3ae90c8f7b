// Package replay rebuilds kernel state from a commit log.
//
// Replay is not a separate interpreter. It drives state.Apply, the same
// function the live kernel applies commits with, so a log replayed from
// genesis reaches the state the kernel had when it wrote the log. Nothing
// outside the log (clock, randomness, scheduling) is consulted.
package replay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/ir"
	"github.com/roach88/axiom/internal/logging"
	"github.com/roach88/axiom/internal/metrics"
	"github.com/roach88/axiom/internal/state"
)

// CodeHashMismatch is reported when replayed state does not hash to the
// expected value. The other codes come from state.ApplyError.
const CodeHashMismatch state.ErrorCode = "HASH_MISMATCH"

// Error locates a replay failure.
type Error struct {
	Code state.ErrorCode
	Seq  uint64
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("replay failed at seq %d: %v", e.Seq, e.Err)
	}
	return fmt.Sprintf("replay failed at seq %d: %s", e.Seq, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Code, so errors.Is(err, ErrHashMismatch)
// works alongside the state sentinels reached through Unwrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrHashMismatch matches a replay whose final state hash differs from
// the expected one.
var ErrHashMismatch = &Error{Code: CodeHashMismatch}

// Engine replays commit logs. The zero value is not usable; call New.
type Engine struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	stateOps []state.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics records replay runs.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithStateOptions configures the empty state replay starts from. It
// must match how the live kernel was configured.
func WithStateOptions(opts ...state.Option) Option {
	return func(e *Engine) { e.stateOps = append(e.stateOps, opts...) }
}

// New returns a replay engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger).Named("replay")
	return e
}

// Replay applies commits[1:] to an empty state. commits[0] must be a
// genesis commit. The first commit that does not apply stops the replay.
func (e *Engine) Replay(commits []axiom.Commit) (*state.State, error) {
	s, err := e.replay(commits)
	if err != nil {
		e.metrics.ReplayRun("error", len(commits))
		return nil, err
	}
	e.metrics.ReplayRun("ok", len(commits))
	return s, nil
}

func (e *Engine) replay(commits []axiom.Commit) (*state.State, error) {
	if len(commits) == 0 {
		return nil, &Error{Code: state.CodeInvalidCommit, Err: errors.New("empty log")}
	}
	if !commits[0].IsGenesis() {
		return nil, &Error{Code: state.CodeInvalidCommit, Seq: commits[0].Seq, Err: errors.New("first commit is not genesis")}
	}

	s := state.New(e.stateOps...)
	for _, c := range commits[1:] {
		if err := state.Apply(s, c.Type); err != nil {
			code := state.CodeInvalidCommit
			var ae *state.ApplyError
			if errors.As(err, &ae) {
				code = ae.Code
			}
			e.logger.Warn("replay stopped", zap.Uint64("seq", c.Seq), zap.Error(err))
			return nil, &Error{Code: code, Seq: c.Seq, Err: err}
		}
	}
	e.logger.Debug("replay complete", zap.Int("commits", len(commits)))
	return s, nil
}

// ReplayAndVerify replays commits and checks the resulting state hash.
// On a mismatch no state is returned.
func (e *Engine) ReplayAndVerify(commits []axiom.Commit, expected ir.Hash) (*state.State, error) {
	s, err := e.Replay(commits)
	if err != nil {
		return nil, err
	}
	if got := state.Hash(s); got != expected {
		last := commits[len(commits)-1].Seq
		return nil, &Error{
			Code: CodeHashMismatch,
			Seq:  last,
			Err:  fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, got.Short(), expected.Short()),
		}
	}
	return s, nil
}

// VerifyDeterminism replays commits n times concurrently and requires
// every run to reach the same state hash, which it returns.
func (e *Engine) VerifyDeterminism(ctx context.Context, commits []axiom.Commit, n int) (ir.Hash, error) {
	if n < 1 {
		n = 1
	}
	hashes := make([]ir.Hash, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := e.replay(commits)
			if err != nil {
				return err
			}
			hashes[i] = state.Hash(s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.ReplayRun("error", n*len(commits))
		return ir.Hash{}, err
	}
	for i := 1; i < n; i++ {
		if hashes[i] != hashes[0] {
			e.metrics.ReplayRun("nondeterministic", n*len(commits))
			return ir.Hash{}, &Error{
				Code: CodeHashMismatch,
				Seq:  commits[len(commits)-1].Seq,
				Err:  fmt.Errorf("%w: run %d reached %s, run 0 reached %s", ErrHashMismatch, i, hashes[i].Short(), hashes[0].Short()),
			}
		}
	}
	e.metrics.ReplayRun("ok", n*len(commits))
	return hashes[0], nil
}

// Recovered is the result of Recover.
type Recovered struct {
	State *state.State
	// Commits is the verified prefix that State was built from.
	Commits []axiom.Commit
	// Dropped counts commits past the verified prefix.
	Dropped int
	// Cause is why commits were dropped; nil when the whole log held.
	Cause error
}

// Recover verifies the hash chain, cuts the log at the first commit that
// breaks it or fails to apply, and replays the remaining prefix. Only a
// log without a valid genesis cannot be recovered.
func (e *Engine) Recover(commits []axiom.Commit) (*Recovered, error) {
	n, cause := axiom.VerifyChain(commits)
	if n == 0 {
		return nil, fmt.Errorf("recover: %w", cause)
	}
	prefix := commits[:n]

	s, err := e.replay(prefix)
	var re *Error
	if errors.As(err, &re) && re.Seq > 0 {
		prefix = prefix[:re.Seq]
		cause = err
		s, err = e.replay(prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("recover: %w", err)
	}

	r := &Recovered{State: s, Commits: prefix, Dropped: len(commits) - len(prefix), Cause: cause}
	if r.Dropped > 0 {
		e.logger.Warn("log truncated during recovery",
			zap.Int("kept", len(prefix)),
			zap.Int("dropped", r.Dropped),
			zap.Error(cause),
		)
	}
	e.metrics.ReplayRun("recovered", len(prefix))
	return r, nil
}
