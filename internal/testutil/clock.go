package testutil

import "sync"

// Tick is the interval, in nanoseconds, between successive readings of a
// DeterministicClock.
const Tick uint64 = 1000

// DeterministicClock is a logical clock for tests and scenarios. Every
// reading advances it by one Tick, so the same sequence of kernel calls
// always observes the same timestamps.
//
// Unlike hal.Fake's built-in clock, a DeterministicClock can be shared
// across kernels and reset between runs.
type DeterministicClock struct {
	mu  sync.Mutex
	seq uint64
}

// NewDeterministicClock creates a clock whose first reading is Tick.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock by one tick and returns the tick count.
func (c *DeterministicClock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// NowNanos advances the clock and returns the new time in nanoseconds.
func (c *DeterministicClock) NowNanos() uint64 {
	return c.Next() * Tick
}

// Current returns the tick count without advancing.
func (c *DeterministicClock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock. The next reading is Tick again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
