package hal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_Clock(t *testing.T) {
	f := NewFake(WithStart(100), WithStep(10))
	assert.Equal(t, uint64(100), f.NowNanos())
	assert.Equal(t, uint64(110), f.NowNanos())

	f.Advance(time.Microsecond)
	assert.Equal(t, uint64(1120), f.NowNanos())

	f.Set(5)
	assert.Equal(t, uint64(5), f.NowNanos())
}

func TestFake_RandomIsSeeded(t *testing.T) {
	a, b := NewFake(WithSeed(7)), NewFake(WithSeed(7))
	bufA, bufB := make([]byte, 16), make([]byte, 16)
	require.NoError(t, a.RandomBytes(bufA))
	require.NoError(t, b.RandomBytes(bufB))
	assert.Equal(t, bufA, bufB)

	c := NewFake(WithSeed(8))
	bufC := make([]byte, 16)
	require.NoError(t, c.RandomBytes(bufC))
	assert.NotEqual(t, bufA, bufC)
}

func TestFake_Spawn(t *testing.T) {
	boom := errors.New("no image")
	f := NewFake(WithSpawnError(func(name string) error {
		if name == "broken" {
			return boom
		}
		return nil
	}))

	require.NoError(t, f.SpawnProcess("init", nil))
	assert.ErrorIs(t, f.SpawnProcess("broken", nil), boom)
	assert.ErrorIs(t, f.SpawnProcess("", nil), ErrEmptyName)
	assert.Equal(t, []string{"init"}, f.Spawned())
}

func TestSystem(t *testing.T) {
	s := NewSystem()
	first := s.NowNanos()
	assert.GreaterOrEqual(t, s.NowNanos(), first)

	buf := make([]byte, 8)
	require.NoError(t, s.RandomBytes(buf))
	assert.ErrorIs(t, s.SpawnProcess("", nil), ErrEmptyName)
}

type countingClock struct{ n uint64 }

func (c *countingClock) NowNanos() uint64 {
	c.n += 3
	return c.n
}

func TestFake_WithClock(t *testing.T) {
	c := &countingClock{}
	f := NewFake(WithClock(c), WithStart(500))
	assert.Equal(t, uint64(3), f.NowNanos())
	f.Set(1)
	assert.Equal(t, uint64(6), f.NowNanos())
}
