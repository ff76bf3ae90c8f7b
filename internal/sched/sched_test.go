package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/axiom/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCooperative_Current(t *testing.T) {
	c := New(nil)
	assert.Equal(t, state.KernelPID, c.Current())
	c.Switch(3)
	assert.Equal(t, state.PID(3), c.Current())
}

func TestCooperative_WakeBeforeWait(t *testing.T) {
	c := New(nil)
	c.Block(1, "recv")
	reason, ok := c.Blocked(1)
	require.True(t, ok)
	assert.Equal(t, "recv", reason)

	c.Unblock(1)
	_, ok = c.Blocked(1)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Wait(ctx, 1))
}

func TestCooperative_WaitThenWake(t *testing.T) {
	c := New(nil)
	c.Block(2, "call")

	done := make(chan error, 1)
	go func() {
		done <- c.Wait(context.Background(), 2)
	}()

	c.Unblock(2)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestCooperative_WaitCancelled(t *testing.T) {
	c := New(nil)
	c.Block(4, "recv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Wait(ctx, 4), context.Canceled)
	assert.Equal(t, []state.PID{4}, c.BlockedPIDs())
	c.Unblock(4)
	assert.Empty(t, c.BlockedPIDs())
}

func TestCooperative_WaitNotBlocked(t *testing.T) {
	c := New(nil)
	assert.NoError(t, c.Wait(context.Background(), 9))
	c.Unblock(9)
}
