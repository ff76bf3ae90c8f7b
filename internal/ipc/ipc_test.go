package ipc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func msg(from state.PID, tag uint64) Message {
	return Message{From: from, Tag: tag, Data: []uint64{tag * 10}}
}

func TestTable_FIFO(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)

	for tag := uint64(1); tag <= 3; tag++ {
		_, fast, err := tbl.Send(1, msg(2, tag))
		require.NoError(t, err)
		assert.False(t, fast)
	}
	for tag := uint64(1); tag <= 3; tag++ {
		m, err := tbl.Receive(1, 3)
		require.NoError(t, err)
		assert.Equal(t, tag, m.Tag)
	}
	_, err := tbl.Receive(1, 3)
	assert.ErrorIs(t, err, ErrWouldBlock)

	st, ok := tbl.Stats(1)
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.Sent)
	assert.Equal(t, uint64(3), st.Received)
	assert.Equal(t, 3, st.QueuedPeak)
	assert.Equal(t, 1, st.Waiting)
}

func TestTable_FastPath(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)

	_, err := tbl.Receive(1, 5)
	require.ErrorIs(t, err, ErrWouldBlock)
	_, err = tbl.Receive(1, 5)
	require.ErrorIs(t, err, ErrWouldBlock, "still waiting")

	woken, fast, err := tbl.Send(1, msg(2, 7))
	require.NoError(t, err)
	assert.True(t, fast)
	assert.Equal(t, state.PID(5), woken)

	m, err := tbl.Receive(1, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), m.Tag)

	st, _ := tbl.Stats(1)
	assert.Equal(t, uint64(1), st.FastPath)
	assert.Equal(t, 0, st.Queued)
}

func TestTable_WaitersServedInOrder(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)
	_, _ = tbl.Receive(1, 4)
	_, _ = tbl.Receive(1, 5)

	first, _, _ := tbl.Send(1, msg(2, 1))
	second, _, _ := tbl.Send(1, msg(2, 2))
	assert.Equal(t, state.PID(4), first)
	assert.Equal(t, state.PID(5), second)
}

func TestTable_CancelRequeuesDelivered(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)
	_, _ = tbl.Receive(1, 5)
	_, _, _ = tbl.Send(1, msg(2, 1))
	_, _, _ = tbl.Send(1, msg(2, 2))

	tbl.Cancel(5)

	m, err := tbl.Receive(1, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Tag, "delivered message returns to the front")
}

func TestTable_Requeue(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)
	_, _, _ = tbl.Send(1, msg(2, 1))
	m, err := tbl.Receive(1, 3)
	require.NoError(t, err)

	tbl.Requeue(1, m)
	again, err := tbl.Receive(1, 3)
	require.NoError(t, err)
	assert.Equal(t, m.Tag, again.Tag)
}

func TestTable_QueueFull(t *testing.T) {
	tbl := NewTable(1)
	tbl.Create(1)
	_, _, err := tbl.Send(1, msg(2, 1))
	require.NoError(t, err)
	_, _, err = tbl.Send(1, msg(2, 2))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestTable_InvalidEndpoint(t *testing.T) {
	tbl := NewTable(0)
	_, _, err := tbl.Send(9, msg(1, 1))
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	_, err = tbl.Receive(9, 1)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	assert.False(t, tbl.Exists(9))
}

func TestTable_DestroyWakesWaiters(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)
	_, _, _ = tbl.Send(1, msg(2, 1))
	_, err := tbl.Receive(1, 3)
	require.NoError(t, err)
	_, err = tbl.Receive(1, 4)
	require.ErrorIs(t, err, ErrWouldBlock)
	_, _, _ = tbl.Send(1, msg(2, 2))
	_, _, _ = tbl.Send(1, msg(2, 3))
	_, err = tbl.Receive(1, 5)
	require.NoError(t, err)
	_, err = tbl.Receive(1, 6)
	require.ErrorIs(t, err, ErrWouldBlock)

	wake, dropped := tbl.Destroy(1)
	assert.Equal(t, []state.PID{6}, wake)
	assert.Len(t, dropped, 1, "message handed to 4 but never collected")

	_, err = tbl.Receive(1, 6)
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestTable_DestroyDisconnects(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)
	tbl.Create(2)

	_, err := tbl.Receive(1, 5)
	require.ErrorIs(t, err, ErrWouldBlock)
	_, _, err = tbl.Call(1, 6, 77, msg(6, 1))
	require.NoError(t, err)
	_, _, err = tbl.Call(2, 7, 78, msg(7, 1))
	require.NoError(t, err)

	wake, dropped := tbl.Destroy(1)
	assert.Equal(t, []state.PID{6}, wake, "receiver 5 was already woken by the send")
	require.Len(t, dropped, 1, "the uncollected call message is dropped")
	assert.Equal(t, CallID(77), dropped[0].CallID)

	_, err = tbl.Receive(1, 5)
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = tbl.AwaitReply(77, 6)
	assert.ErrorIs(t, err, ErrDisconnected)
	_, err = tbl.AwaitReply(78, 7)
	assert.ErrorIs(t, err, ErrWouldBlock, "calls on other endpoints are untouched")
}

func TestTable_CallReply(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)

	_, _, err := tbl.Call(1, 2, 55, msg(2, 9))
	require.NoError(t, err)
	_, err = tbl.AwaitReply(55, 2)
	require.ErrorIs(t, err, ErrWouldBlock)

	_, err = tbl.Reply(55, 3, 0, nil)
	assert.ErrorIs(t, err, ErrNoCall, "the call has not been received yet")

	m, err := tbl.Receive(1, 3)
	require.NoError(t, err)
	assert.Equal(t, CallID(55), m.CallID)

	_, err = tbl.Reply(55, 4, 0, nil)
	assert.ErrorIs(t, err, ErrNoCall, "only the receiver may reply")

	caller, err := tbl.Reply(55, 3, 1, []uint64{42})
	require.NoError(t, err)
	assert.Equal(t, state.PID(2), caller)

	r, err := tbl.AwaitReply(55, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, r.Data)
	assert.Equal(t, 0, tbl.Pending())

	_, err = tbl.Reply(55, 3, 1, nil)
	assert.ErrorIs(t, err, ErrNoCall)
}

func TestTable_CallErrors(t *testing.T) {
	tbl := NewTable(0)
	_, _, err := tbl.Call(1, 2, 5, msg(2, 1))
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	assert.Equal(t, 0, tbl.Pending())

	tbl.Create(1)
	_, _, err = tbl.Call(1, 2, 0, msg(2, 1))
	assert.ErrorIs(t, err, ErrNoCall)
}

func TestTable_ProcessExited(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)
	_, _, _ = tbl.Call(1, 2, 10, msg(2, 1))
	_, err := tbl.Receive(1, 3)
	require.NoError(t, err)

	wake := tbl.ProcessExited(3)
	assert.Equal(t, []state.PID{2}, wake)
	_, err = tbl.AwaitReply(10, 2)
	assert.ErrorIs(t, err, ErrDisconnected)

	_, _, _ = tbl.Call(1, 4, 11, msg(4, 1))
	tbl.ProcessExited(4)
	assert.Equal(t, 0, tbl.Pending())
}

func TestTable_CapsTravelWithMessage(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)
	c := capability.Capability{ID: 3, Type: capability.TypeEndpoint, Object: 1, Perms: capability.PermRead}
	_, _, err := tbl.Send(1, Message{From: 1, Caps: []capability.Capability{c}})
	require.NoError(t, err)

	m, err := tbl.Receive(1, 2)
	require.NoError(t, err)
	require.Len(t, m.Caps, 1)
	assert.True(t, m.Caps[0].Equal(c))
}

func TestTable_ConcurrentSenders(t *testing.T) {
	tbl := NewTable(0)
	tbl.Create(1)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(from state.PID) {
			defer wg.Done()
			for tag := range uint64(50) {
				_, _, _ = tbl.Send(1, msg(from, tag))
			}
		}(state.PID(i + 1))
	}
	wg.Wait()

	last := make(map[state.PID]uint64)
	for range 400 {
		m, err := tbl.Receive(1, 99)
		require.NoError(t, err)
		if prev, ok := last[m.From]; ok {
			assert.Greater(t, m.Tag, prev, "per-sender order is preserved")
		}
		last[m.From] = m.Tag
	}
}

func TestError_PermissionDeniedUnwraps(t *testing.T) {
	err := PermissionDenied(capability.ErrInsufficientRights)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, capability.ErrInsufficientRights)
	assert.NotErrorIs(t, err, ErrDisconnected)
}

func TestTable_CanSend(t *testing.T) {
	tbl := NewTable(1)
	assert.ErrorIs(t, tbl.CanSend(1), ErrInvalidEndpoint)

	tbl.Create(1)
	require.NoError(t, tbl.CanSend(1))
	_, _, _ = tbl.Send(1, msg(2, 1))
	assert.ErrorIs(t, tbl.CanSend(1), ErrQueueFull)
}
