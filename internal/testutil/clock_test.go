package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtZero(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, uint64(0), clock.Current())
}

func TestDeterministicClock_NextIncrementsMonotonically(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, uint64(1), clock.Next())
	assert.Equal(t, uint64(1), clock.Current())

	assert.Equal(t, uint64(2), clock.Next())
	assert.Equal(t, uint64(3), clock.Next())
	assert.Equal(t, uint64(3), clock.Current())
}

func TestDeterministicClock_NowNanos(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, Tick, clock.NowNanos())
	assert.Equal(t, 2*Tick, clock.NowNanos())
	assert.Equal(t, uint64(2), clock.Current())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Next()
	clock.Next()
	clock.Next()
	assert.Equal(t, uint64(3), clock.Current())

	clock.Reset()
	assert.Equal(t, uint64(0), clock.Current())
	assert.Equal(t, Tick, clock.NowNanos())
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const numGoroutines = 100
	const callsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]uint64, numGoroutines)
	for i := range numGoroutines {
		results[i] = make([]uint64, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := range callsPerGoroutine {
				results[idx][j] = clock.Next()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, r := range results {
		for _, val := range r {
			require.False(t, seen[val], "duplicate value %d", val)
			seen[val] = true
		}
	}

	total := numGoroutines * callsPerGoroutine
	assert.Len(t, seen, total)
	for i := uint64(1); i <= uint64(total); i++ {
		assert.True(t, seen[i], "missing value %d", i)
	}
}

func TestDeterministicClock_Deterministic(t *testing.T) {
	clock1 := NewDeterministicClock()
	clock2 := NewDeterministicClock()

	for range 100 {
		assert.Equal(t, clock1.NowNanos(), clock2.NowNanos())
	}
}
