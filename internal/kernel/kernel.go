package kernel

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/hal"
	"github.com/roach88/axiom/internal/ipc"
	"github.com/roach88/axiom/internal/ir"
	"github.com/roach88/axiom/internal/logging"
	"github.com/roach88/axiom/internal/metrics"
	"github.com/roach88/axiom/internal/replay"
	"github.com/roach88/axiom/internal/sched"
	"github.com/roach88/axiom/internal/state"
)

// Scheduler is the contract the kernel requires of the scheduler.
// Block and Unblock are called under the gateway lock; Wait is not.
type Scheduler interface {
	Current() state.PID
	Block(pid state.PID, reason string)
	Unblock(pid state.PID)
	Wait(ctx context.Context, pid state.PID) error
	Blocked(pid state.PID) (string, bool)
}

// ProcessMetrics are volatile per-process counters. They are never
// committed or hashed.
type ProcessMetrics struct {
	MemoryBytes      uint64
	Syscalls         uint64
	MessagesSent     uint64
	MessagesReceived uint64
	CallsMade        uint64
	CreatedAt        uint64
	ExitedAt         uint64
}

// ProcessInfo is a process as reported to callers: the replayable record
// with the live Blocked overlay and metrics.
type ProcessInfo struct {
	state.Process
	BlockedOn string
	Metrics   ProcessMetrics
}

// Kernel is the live kernel. All methods are safe for concurrent use;
// syscalls are serialized by the gateway.
type Kernel struct {
	gw      *axiom.Gateway
	st      *state.State
	ipc     *ipc.Table
	sched   Scheduler
	hal     hal.HAL
	logger  *zap.Logger
	metrics *metrics.Metrics
	procs   map[state.PID]*ProcessMetrics
}

type options struct {
	hal       hal.HAL
	sched     Scheduler
	logger    *zap.Logger
	metrics   *metrics.Metrics
	maxSlots  int
	maxQueue  int
	sink      axiom.Sink
	eventSink axiom.EventSink
	session   axiom.SessionGenerator
	history   []axiom.Commit
}

// Option configures a Kernel.
type Option func(*options)

// WithHAL sets the platform services. Defaults to hal.NewSystem().
func WithHAL(h hal.HAL) Option { return func(o *options) { o.hal = h } }

// WithScheduler sets the scheduler. Defaults to a sched.Cooperative.
func WithScheduler(s Scheduler) Option { return func(o *options) { o.sched = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics enables prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithMaxSlots bounds every capability space.
func WithMaxSlots(n int) Option { return func(o *options) { o.maxSlots = n } }

// WithMaxQueue bounds every endpoint queue. Zero is unbounded.
func WithMaxQueue(n int) Option { return func(o *options) { o.maxQueue = n } }

// WithCommitSink persists every commit.
func WithCommitSink(s axiom.Sink) Option { return func(o *options) { o.sink = s } }

// WithEventSink persists every SysLog event.
func WithEventSink(s axiom.EventSink) Option { return func(o *options) { o.eventSink = s } }

// WithSession names the SysLog session.
func WithSession(g axiom.SessionGenerator) Option { return func(o *options) { o.session = g } }

// WithHistory resumes from a verified commit log instead of a fresh
// genesis. The history is replayed to rebuild state; message queues start
// empty.
func WithHistory(commits []axiom.Commit) Option {
	return func(o *options) { o.history = commits }
}

// New boots a kernel.
func New(opts ...Option) (*Kernel, error) {
	o := options{maxSlots: capability.DefaultMaxSlots}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger).Named("kernel")
	if o.hal == nil {
		o.hal = hal.NewSystem()
	}
	if o.sched == nil {
		o.sched = sched.New(logger)
	}

	logOpts := []axiom.LogOption{axiom.WithLogger(logger), axiom.WithMetrics(o.metrics)}
	if o.sink != nil {
		logOpts = append(logOpts, axiom.WithSink(o.sink))
	}

	var (
		log *axiom.CommitLog
		st  *state.State
		err error
	)
	if o.history != nil {
		engine := replay.New(
			replay.WithLogger(logger),
			replay.WithMetrics(o.metrics),
			replay.WithStateOptions(state.WithMaxSlots(o.maxSlots)),
		)
		if st, err = engine.Replay(o.history); err != nil {
			return nil, fmt.Errorf("replay history: %w", err)
		}
		if log, err = axiom.Restore(o.history, logOpts...); err != nil {
			return nil, err
		}
	} else {
		st = state.New(state.WithMaxSlots(o.maxSlots))
		if log, err = axiom.NewCommitLog(logOpts...); err != nil {
			return nil, err
		}
	}

	sysOpts := []axiom.SysLogOption{axiom.WithSysLogLogger(logger), axiom.WithSysLogMetrics(o.metrics)}
	if o.eventSink != nil {
		sysOpts = append(sysOpts, axiom.WithEventSink(o.eventSink))
	}
	if o.session != nil {
		sysOpts = append(sysOpts, axiom.WithSession(o.session))
	}

	k := &Kernel{
		st:      st,
		ipc:     ipc.NewTable(o.maxQueue),
		sched:   o.sched,
		hal:     o.hal,
		logger:  logger,
		metrics: o.metrics,
		procs:   make(map[state.PID]*ProcessMetrics),
	}
	k.gw = axiom.NewGateway(axiom.NewSysLog(sysOpts...), log,
		axiom.WithErrorCoder(Errno),
		axiom.WithGatewayLogger(logger),
		axiom.WithGatewayMetrics(o.metrics),
	)
	for _, id := range st.EndpointIDs() {
		k.ipc.Create(id)
	}
	for _, pid := range st.PIDs() {
		k.procs[pid] = &ProcessMetrics{}
	}
	return k, nil
}

func (k *Kernel) apply(ct state.CommitType) error {
	return state.Apply(k.st, ct)
}

// syscall runs fn through the gateway on behalf of pid. The caller must
// be a live process.
func (k *Kernel) syscall(pid state.PID, sc Syscall, fn func(now uint64) (axiom.Outcome, error)) (int64, error) {
	now := k.hal.NowNanos()
	res, err := k.gw.Syscall(sc.Num().String(), pid, uint64(sc.Num()), sc.Args(), now, func() (axiom.Outcome, error) {
		if err := k.requireAlive(pid); err != nil {
			return axiom.Outcome{}, err
		}
		k.procs[pid].Syscalls++
		return fn(now)
	}, k.apply)
	if err != nil {
		var ae *capability.AxiomError
		if errors.As(err, &ae) {
			k.metrics.Denied(string(ae.Code))
		}
		if errors.Is(err, capability.ErrCannotAmplify) {
			k.metrics.Denied("CANNOT_AMPLIFY")
		}
	}
	return res.Value, err
}

// internal runs kernel-originated mutations that have no caller.
func (k *Kernel) internal(fn func(now uint64) (axiom.Outcome, error)) error {
	now := k.hal.NowNanos()
	_, err := k.gw.Internal(now, func() (axiom.Outcome, error) { return fn(now) }, k.apply)
	return err
}

func (k *Kernel) requireAlive(pid state.PID) error {
	p, ok := k.st.Process(pid)
	if !ok {
		return fmt.Errorf("%w: pid %d", ErrNoSuchProcess, pid)
	}
	if p.State == state.Zombie {
		return fmt.Errorf("%w: pid %d", ErrZombie, pid)
	}
	return nil
}

// space returns pid's space. Only valid after requireAlive.
func (k *Kernel) space(pid state.PID) *capability.Space {
	sp, _ := k.st.Space(pid)
	return sp
}

// check is capability.Check against pid's space and the revocation table.
func (k *Kernel) check(pid state.PID, slot capability.Slot, required capability.Perms, typ capability.ObjectType, now uint64) (capability.Capability, error) {
	return capability.Check(k.space(pid), k.st, slot, required, typ, now)
}

// checkAny is check for operations that accept any object type.
func (k *Kernel) checkAny(pid state.PID, slot capability.Slot, required capability.Perms, now uint64) (capability.Capability, error) {
	c, ok := k.space(pid).Get(slot)
	if !ok {
		return capability.Capability{}, &capability.AxiomError{Code: capability.CodeInvalidSlot, Slot: slot}
	}
	return k.check(pid, slot, required, c.Type, now)
}

// Commits returns a copy of the commit log.
func (k *Kernel) Commits() []axiom.Commit {
	return k.gw.CommitLog().Commits()
}

// CommitLog returns the live commit log.
func (k *Kernel) CommitLog() *axiom.CommitLog {
	return k.gw.CommitLog()
}

// SysLog returns the audit trail.
func (k *Kernel) SysLog() *axiom.SysLog {
	return k.gw.SysLog()
}

// Hash returns the state hash of live state.
func (k *Kernel) Hash() ir.Hash {
	var h ir.Hash
	k.gw.Read(func() { h = state.Hash(k.st) })
	return h
}

// State returns a deep copy of live replayable state.
func (k *Kernel) State() *state.State {
	var s *state.State
	k.gw.Read(func() { s = k.st.Clone() })
	return s
}

// Process reports pid with the live Blocked overlay.
func (k *Kernel) Process(pid state.PID) (ProcessInfo, bool) {
	var (
		info ProcessInfo
		ok   bool
	)
	k.gw.Read(func() {
		var p *state.Process
		if p, ok = k.st.Process(pid); !ok {
			return
		}
		info.Process = *p
		if reason, blocked := k.sched.Blocked(pid); blocked && p.State == state.Running {
			info.State = state.Blocked
			info.BlockedOn = reason
		}
		if m, found := k.procs[pid]; found {
			info.Metrics = *m
		}
	})
	return info, ok
}

// Processes lists every process in pid order.
func (k *Kernel) Processes() []ProcessInfo {
	var pids []state.PID
	k.gw.Read(func() { pids = k.st.PIDs() })
	out := make([]ProcessInfo, 0, len(pids))
	for _, pid := range pids {
		if info, ok := k.Process(pid); ok {
			out = append(out, info)
		}
	}
	return out
}

// EndpointStats returns the runtime counters of endpoint id.
func (k *Kernel) EndpointStats(id state.EndpointID) (ipc.Stats, bool) {
	return k.ipc.Stats(id)
}

// ListCaps returns pid's capabilities in slot order.
func (k *Kernel) ListCaps(pid state.PID) []state.CapEntry {
	var out []state.CapEntry
	k.gw.Read(func() { out = k.st.Caps(pid) })
	return out
}

func (k *Kernel) block(pid state.PID, reason string) {
	k.sched.Block(pid, reason)
	if k.metrics != nil {
		k.metrics.SetBlocked(k.blockedCount())
	}
}

func (k *Kernel) wake(pids ...state.PID) {
	for _, pid := range pids {
		k.sched.Unblock(pid)
	}
	if k.metrics != nil {
		k.metrics.SetBlocked(k.blockedCount())
	}
}

func (k *Kernel) blockedCount() int {
	n := 0
	for _, pid := range k.st.PIDs() {
		if _, ok := k.sched.Blocked(pid); ok {
			n++
		}
	}
	return n
}
