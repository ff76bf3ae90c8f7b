// Package sched is a minimal cooperative scheduler: it tracks which
// process is current and parks blocked processes on wake channels. It
// makes no fairness or real-time promises.
package sched

import (
	"context"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/logging"
	"github.com/roach88/axiom/internal/state"
)

// Cooperative implements kernel.Scheduler.
//
// Block and Unblock are called by the kernel while it holds the gateway
// lock; Wait is called after the lock is released. A wake that happens
// between Block and Wait is not lost: Unblock closes the channel that Wait
// later selects on.
type Cooperative struct {
	mu      sync.Mutex
	current state.PID
	blocked map[state.PID]string
	wake    map[state.PID]chan struct{}
	logger  *zap.Logger
}

// New returns a scheduler with the kernel as the current process.
func New(logger *zap.Logger) *Cooperative {
	return &Cooperative{
		current: state.KernelPID,
		blocked: make(map[state.PID]string),
		wake:    make(map[state.PID]chan struct{}),
		logger:  logging.OrNop(logger).Named("sched"),
	}
}

// Current returns the process on whose behalf the kernel is running.
func (c *Cooperative) Current() state.PID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Switch makes pid current.
func (c *Cooperative) Switch(pid state.PID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = pid
}

// Block parks pid. Blocking an already blocked process replaces its
// reason and keeps its wake channel.
func (c *Cooperative) Block(pid state.PID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blocked[pid]; !ok {
		c.wake[pid] = make(chan struct{})
	}
	c.blocked[pid] = reason
	c.logger.Debug("block", zap.Uint64("pid", uint64(pid)), zap.String("reason", reason))
}

// Unblock wakes pid. Unblocking a running process is a no-op.
func (c *Cooperative) Unblock(pid state.PID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.blocked[pid]; !ok {
		return
	}
	delete(c.blocked, pid)
	if ch, ok := c.wake[pid]; ok {
		close(ch)
	}
	c.logger.Debug("unblock", zap.Uint64("pid", uint64(pid)))
}

// Wait returns once pid has been unblocked, or with ctx's error. A
// process that is not blocked returns immediately.
func (c *Cooperative) Wait(ctx context.Context, pid state.PID) error {
	c.mu.Lock()
	ch, ok := c.wake[pid]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-ch:
		c.mu.Lock()
		if c.wake[pid] == ch {
			delete(c.wake, pid)
		}
		c.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Blocked reports whether pid is blocked and why.
func (c *Cooperative) Blocked(pid state.PID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reason, ok := c.blocked[pid]
	return reason, ok
}

// BlockedPIDs returns every blocked pid in ascending order.
func (c *Cooperative) BlockedPIDs() []state.PID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.blocked))
}
