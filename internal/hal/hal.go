// Package hal provides the hardware abstraction services the kernel
// consumes opaquely: a nanosecond clock, a random source, and process
// spawning.
package hal

import (
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// HAL is the contract the kernel requires of the platform.
type HAL interface {
	NowNanos() uint64
	RandomBytes(buf []byte) error
	SpawnProcess(name string, binary []byte) error
}

// ErrEmptyName is returned by SpawnProcess for an unnamed process.
var ErrEmptyName = errors.New("process name is empty")

// System is the host implementation. Time is monotonic nanoseconds since
// the System was created.
type System struct {
	boot time.Time
}

// NewSystem returns a System whose clock starts now.
func NewSystem() *System {
	return &System{boot: time.Now()}
}

// NowNanos returns monotonic nanoseconds since boot.
func (s *System) NowNanos() uint64 {
	return uint64(time.Since(s.boot).Nanoseconds())
}

// RandomBytes fills buf from the operating system's CSPRNG.
func (s *System) RandomBytes(buf []byte) error {
	if _, err := cryptorand.Read(buf); err != nil {
		return fmt.Errorf("random bytes: %w", err)
	}
	return nil
}

// SpawnProcess accepts any named image. Loading executable images is the
// loader's job and happens outside this core.
func (s *System) SpawnProcess(name string, binary []byte) error {
	if name == "" {
		return ErrEmptyName
	}
	return nil
}

// Fake is a deterministic HAL for tests and replayable scenarios. Its
// clock only moves when told to, and its random stream is seeded.
type Fake struct {
	mu      sync.Mutex
	now     uint64
	step    uint64
	rng     *rand.ChaCha8
	spawned []string
	spawnFn func(name string) error
	clock   Clock
}

// Clock supplies time to a Fake in place of its own counter.
type Clock interface {
	NowNanos() uint64
}

// FakeOption configures a Fake.
type FakeOption func(*Fake)

// WithStart sets the initial clock value.
func WithStart(ns uint64) FakeOption {
	return func(f *Fake) { f.now = ns }
}

// WithStep makes every NowNanos call advance the clock by ns afterwards.
func WithStep(ns uint64) FakeOption {
	return func(f *Fake) { f.step = ns }
}

// WithSeed seeds the random stream.
func WithSeed(seed uint64) FakeOption {
	return func(f *Fake) {
		var s [32]byte
		for i := range 8 {
			s[i] = byte(seed >> (8 * i))
		}
		f.rng = rand.NewChaCha8(s)
	}
}

// WithClock delegates NowNanos to c. Start, step, Advance and Set are
// then ignored.
func WithClock(c Clock) FakeOption {
	return func(f *Fake) { f.clock = c }
}

// WithSpawnError makes SpawnProcess fail for names that fn rejects.
func WithSpawnError(fn func(name string) error) FakeOption {
	return func(f *Fake) { f.spawnFn = fn }
}

// NewFake returns a Fake at time zero with a zero seed.
func NewFake(opts ...FakeOption) *Fake {
	f := &Fake{rng: rand.NewChaCha8([32]byte{})}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NowNanos returns the current fake time, then advances it by the step.
func (f *Fake) NowNanos() uint64 {
	if f.clock != nil {
		return f.clock.NowNanos()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now
	f.now += f.step
	return now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += uint64(d.Nanoseconds())
}

// Set moves the clock to ns.
func (f *Fake) Set(ns uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = ns
}

// RandomBytes fills buf from the seeded stream.
func (f *Fake) RandomBytes(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.rng.Read(buf)
	return err
}

// SpawnProcess records name.
func (f *Fake) SpawnProcess(name string, binary []byte) error {
	if name == "" {
		return ErrEmptyName
	}
	if f.spawnFn != nil {
		if err := f.spawnFn(name); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, name)
	return nil
}

// Spawned returns the names passed to SpawnProcess, in order.
func (f *Fake) Spawned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spawned...)
}
