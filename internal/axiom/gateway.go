package axiom

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/ir"
	"github.com/roach88/axiom/internal/logging"
	"github.com/roach88/axiom/internal/metrics"
	"github.com/roach88/axiom/internal/state"
)

// Outcome is what a kernel function returns: the syscall result, the
// mutations it intends, and volatile effects.
type Outcome struct {
	Result  int64
	Commits []state.CommitType

	// Effects runs after every commit has been appended and applied, still
	// under the gateway lock. It touches only volatile runtime state (IPC
	// queues, wakeups), never anything replay reconstructs.
	Effects func()
}

// KernelFunc validates a syscall and computes its Outcome. It must not
// mutate replayable state.
type KernelFunc func() (Outcome, error)

// ApplyFunc applies one mutation to live state.
type ApplyFunc func(state.CommitType) error

// ErrorCoder maps a kernel function error to the result logged in the
// SysLog response.
type ErrorCoder func(error) int64

// Result is returned by Gateway.Syscall.
type Result struct {
	Value   int64
	Request EventID
	Commits []ir.Hash
}

// ErrDiverged is returned when a mutation was appended to the log but
// could not be applied to live state. The log stays authoritative;
// recover by replaying it.
var ErrDiverged = errors.New("live state diverged from commit log")

// Gateway sequences every privileged operation through the SysLog and the
// CommitLog. It is the single writer: syscalls never interleave.
type Gateway struct {
	mu      sync.Mutex
	syslog  *SysLog
	log     *CommitLog
	errno   ErrorCoder
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithErrorCoder sets how failed kernel functions are recorded.
func WithErrorCoder(fn ErrorCoder) GatewayOption {
	return func(g *Gateway) { g.errno = fn }
}

// WithGatewayLogger sets the logger.
func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logging.OrNop(logger) }
}

// WithGatewayMetrics records syscall counts and durations.
func WithGatewayMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway wires a SysLog and a CommitLog.
func NewGateway(syslog *SysLog, log *CommitLog, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		syslog: syslog,
		log:    log,
		errno:  func(error) int64 { return -1 },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SysLog returns the audit trail.
func (g *Gateway) SysLog() *SysLog { return g.syslog }

// CommitLog returns the commit log.
func (g *Gateway) CommitLog() *CommitLog { return g.log }

// Syscall runs fn under the gateway lock following the five-step
// contract. name labels logs and metrics.
//
// If fn fails, nothing is appended, the error response is logged and the
// error is returned. If appending or applying fails, the commits already
// appended stay applied and ErrDiverged (or the sink error) is returned.
func (g *Gateway) Syscall(name string, sender state.PID, num uint64, args [4]uint64, ts uint64, fn KernelFunc, apply ApplyFunc) (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()

	reqID := g.syslog.LogRequest(sender, num, args, ts)

	out, err := fn()
	if err != nil {
		code := g.errno(err)
		g.syslog.LogResponse(sender, reqID, code, ts)
		g.metrics.ObserveSyscall(name, "error", time.Since(start))
		g.logger.Debug("syscall rejected",
			zap.String("syscall", name),
			zap.Uint64("pid", uint64(sender)),
			zap.Int64("result", code),
			zap.Error(err),
		)
		return Result{Value: code, Request: reqID}, err
	}

	ids, err := g.commit(out.Commits, &reqID, ts, apply)
	if err != nil {
		g.syslog.LogResponse(sender, reqID, g.errno(err), ts)
		g.metrics.ObserveSyscall(name, "diverged", time.Since(start))
		g.logger.Error("syscall commit failed", zap.String("syscall", name), zap.Error(err))
		return Result{Value: g.errno(err), Request: reqID, Commits: ids}, err
	}

	if out.Effects != nil {
		out.Effects()
	}

	g.syslog.LogResponse(sender, reqID, out.Result, ts)
	g.metrics.ObserveSyscall(name, "ok", time.Since(start))
	return Result{Value: out.Result, Request: reqID, Commits: ids}, nil
}

// Internal appends and applies kernel-originated mutations (boot, process
// creation by the host) that have no triggering request. Their commits
// carry no caused_by.
func (g *Gateway) Internal(ts uint64, fn KernelFunc, apply ApplyFunc) ([]ir.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out, err := fn()
	if err != nil {
		return nil, err
	}
	ids, err := g.commit(out.Commits, nil, ts, apply)
	if err != nil {
		return ids, err
	}
	if out.Effects != nil {
		out.Effects()
	}
	return ids, nil
}

// Read runs fn under the gateway lock so that it observes live state
// between syscalls, never in the middle of one.
func (g *Gateway) Read(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn()
}

// commit appends every mutation in order, then applies them in order.
func (g *Gateway) commit(cts []state.CommitType, causedBy *EventID, ts uint64, apply ApplyFunc) ([]ir.Hash, error) {
	ids := make([]ir.Hash, 0, len(cts))
	for _, ct := range cts {
		id, err := g.log.Append(ct, causedBy, ts)
		if err != nil {
			// Keep live state in step with what did reach the log.
			if aerr := applyAll(cts[:len(ids)], apply); aerr != nil {
				return ids, fmt.Errorf("%w: %v", ErrDiverged, aerr)
			}
			return ids, err
		}
		ids = append(ids, id)
	}
	if err := applyAll(cts, apply); err != nil {
		return ids, fmt.Errorf("%w: %v", ErrDiverged, err)
	}
	return ids, nil
}

func applyAll(cts []state.CommitType, apply ApplyFunc) error {
	for _, ct := range cts {
		if err := apply(ct); err != nil {
			return fmt.Errorf("apply %s: %w", ct.Kind(), err)
		}
	}
	return nil
}
