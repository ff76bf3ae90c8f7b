package kernel

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/hal"
	"github.com/roach88/axiom/internal/ipc"
	"github.com/roach88/axiom/internal/metrics"
	"github.com/roach88/axiom/internal/replay"
	"github.com/roach88/axiom/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	permR   = capability.PermRead
	permW   = capability.PermWrite
	permRW  = capability.PermRead | capability.PermWrite
	permRG  = capability.PermRead | capability.PermGrant
	permAll = capability.PermAll
)

func newKernel(t *testing.T, opts ...Option) (*Kernel, *hal.Fake) {
	t.Helper()
	fake := hal.NewFake(hal.WithStart(1_000), hal.WithStep(10), hal.WithSeed(7))
	k, err := New(append([]Option{WithHAL(fake)}, opts...)...)
	require.NoError(t, err)
	return k, fake
}

func spawn(t *testing.T, k *Kernel, name string) state.PID {
	t.Helper()
	pid, err := k.Spawn(state.KernelPID, name, nil)
	require.NoError(t, err)
	return pid
}

// serverClient returns an endpoint owner and a client holding an
// attenuated copy of the owner's endpoint capability in its slot 0.
func serverClient(t *testing.T, k *Kernel, clientPerms capability.Perms) (server, client state.PID) {
	t.Helper()
	server = spawn(t, k, "server")
	client = spawn(t, k, "client")
	_, slot, err := k.CreateEndpoint(server)
	require.NoError(t, err)
	require.Equal(t, capability.Slot(0), slot)
	dst, err := k.Grant(server, 0, client, clientPerms)
	require.NoError(t, err)
	require.Equal(t, capability.Slot(0), dst)
	return server, client
}

func waitBlocked(t *testing.T, k *Kernel, pid state.PID) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, ok := k.Process(pid)
		return ok && p.State == state.Blocked
	}, 2*time.Second, time.Millisecond)
}

func TestSpawn(t *testing.T) {
	k, fake := newKernel(t)

	pid := spawn(t, k, "init")
	assert.Equal(t, state.PID(1), pid)
	assert.Equal(t, []string{"init"}, fake.Spawned())

	commits := k.Commits()
	require.Len(t, commits, 2)
	assert.Equal(t, state.ProcessCreated{PID: 1, Parent: state.KernelPID, Name: "init"}, commits[1].Type)
	assert.Nil(t, commits[1].CausedBy, "host-initiated commits have no cause")

	p, ok := k.Process(pid)
	require.True(t, ok)
	assert.Equal(t, state.Running, p.State)
	assert.Equal(t, "init", p.Name)

	child, err := k.Spawn(pid, "child", []byte("image"))
	require.NoError(t, err)
	info, _ := k.Process(child)
	assert.Equal(t, pid, info.Parent)
	assert.Equal(t, uint64(5), info.Metrics.MemoryBytes)
}

func TestSpawn_RefusedImageCommitsNothing(t *testing.T) {
	fake := hal.NewFake(hal.WithSpawnError(func(name string) error {
		if name == "bad" {
			return assert.AnError
		}
		return nil
	}))
	k, err := New(WithHAL(fake))
	require.NoError(t, err)

	_, err = k.Spawn(state.KernelPID, "bad", nil)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, k.CommitLog().Len())

	_, err = k.Spawn(42, "orphan", nil)
	assert.ErrorIs(t, err, ErrNoSuchProcess)
}

func TestCreateEndpoint(t *testing.T) {
	k, _ := newKernel(t)
	pid := spawn(t, k, "owner")

	id, slot, err := k.CreateEndpoint(pid)
	require.NoError(t, err)
	assert.Equal(t, state.EndpointID(1), id)
	assert.Equal(t, capability.Slot(0), slot)

	caps := k.ListCaps(pid)
	require.Len(t, caps, 1)
	assert.Equal(t, capability.TypeEndpoint, caps[0].Cap.Type)
	assert.Equal(t, uint64(id), caps[0].Cap.Object)
	assert.Equal(t, permAll, caps[0].Cap.Perms)

	commits := k.Commits()
	require.Len(t, commits, 4)
	assert.Equal(t, state.EndpointCreated{ID: 1, Owner: pid}, commits[2].Type)
	require.NotNil(t, commits[2].CausedBy)
	require.NotNil(t, commits[3].CausedBy)
	assert.Equal(t, *commits[2].CausedBy, *commits[3].CausedBy, "one syscall, one cause")

	events := k.SysLog().Events()
	require.Len(t, events, 2)
	assert.Equal(t, *commits[2].CausedBy, events[0].ID)
	require.NotNil(t, events[1].Response)
	assert.Equal(t, int64(0), events[1].Response.Result)

	stats, ok := k.EndpointStats(id)
	require.True(t, ok)
	assert.Zero(t, stats.Queued)
}

func TestGrantChain_Attenuates(t *testing.T) {
	k, _ := newKernel(t)
	a := spawn(t, k, "a")
	b := spawn(t, k, "b")
	c := spawn(t, k, "c")
	_, _, err := k.CreateEndpoint(a)
	require.NoError(t, err)

	bSlot, err := k.Grant(a, 0, b, permRG)
	require.NoError(t, err)
	cSlot, err := k.Grant(b, bSlot, c, permR)
	require.NoError(t, err)

	cap0, err := k.Inspect(a, 0)
	require.NoError(t, err)
	cap1, err := k.Inspect(b, bSlot)
	require.NoError(t, err)
	cap2, err := k.Inspect(c, cSlot)
	require.NoError(t, err)

	assert.True(t, cap2.Perms.SubsetOf(cap1.Perms))
	assert.True(t, cap1.Perms.SubsetOf(cap0.Perms))
	assert.Equal(t, []capability.Ancestor{{ID: cap0.ID}, {ID: cap1.ID}}, cap2.Lineage)
	assert.Equal(t, cap0.Object, cap2.Object)

	granted, ok := k.Commits()[len(k.Commits())-1].Type.(state.CapGranted)
	require.True(t, ok)
	assert.Equal(t, b, granted.From)
	assert.Equal(t, c, granted.To)
}

func TestGrant_CannotAmplify(t *testing.T) {
	k, _ := newKernel(t)
	a := spawn(t, k, "a")
	b := spawn(t, k, "b")
	c := spawn(t, k, "c")
	_, _, err := k.CreateEndpoint(a)
	require.NoError(t, err)
	bSlot, err := k.Grant(a, 0, b, permRG)
	require.NoError(t, err)

	before := k.CommitLog().Len()
	_, err = k.Grant(b, bSlot, c, permRW)
	require.ErrorIs(t, err, capability.ErrCannotAmplify)
	assert.Equal(t, EAMPLIFY, Errno(err))
	assert.Equal(t, before, k.CommitLog().Len(), "a rejected grant appends nothing")
	assert.Empty(t, k.ListCaps(c))

	_, err = k.Derive(b, bSlot, permAll)
	assert.ErrorIs(t, err, capability.ErrCannotAmplify)
	assert.Equal(t, before, k.CommitLog().Len())
}

func TestGrant_RequiresGrantBit(t *testing.T) {
	k, _ := newKernel(t)
	_, b := serverClient(t, k, permRW)
	c := spawn(t, k, "c")

	before := k.CommitLog().Len()
	_, err := k.Grant(b, 0, c, permR)
	require.ErrorIs(t, err, capability.ErrInsufficientRights)
	assert.Equal(t, before, k.CommitLog().Len())

	events := k.SysLog().Events()
	last := events[len(events)-1]
	require.NotNil(t, last.Response)
	assert.Equal(t, EINSUFFICIENT, last.Response.Result, "the rejection is audited")
}

func TestGrant_TargetMustBeAlive(t *testing.T) {
	k, _ := newKernel(t)
	a := spawn(t, k, "a")
	b := spawn(t, k, "b")
	_, _, err := k.CreateEndpoint(a)
	require.NoError(t, err)
	require.NoError(t, k.Exit(b, 0))

	_, err = k.Grant(a, 0, b, permR)
	assert.ErrorIs(t, err, ErrNoSuchProcess)
	_, err = k.Grant(a, 0, 99, permR)
	assert.ErrorIs(t, err, ErrNoSuchProcess)
}

func TestDerive(t *testing.T) {
	k, _ := newKernel(t)
	a := spawn(t, k, "a")
	_, _, err := k.CreateEndpoint(a)
	require.NoError(t, err)

	slot, err := k.Derive(a, 0, permR)
	require.NoError(t, err)
	assert.Equal(t, capability.Slot(1), slot)
	c, err := k.Inspect(a, slot)
	require.NoError(t, err)
	assert.Equal(t, permR, c.Perms)

	n, err := k.CapCount(a)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSendReceive_FIFO(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permW)

	before := k.CommitLog().Len()
	require.NoError(t, k.Send(client, 0, 1, 10, 11))
	require.NoError(t, k.Send(client, 0, 2))
	assert.Equal(t, before, k.CommitLog().Len(), "plain messages are volatile")

	m1, err := k.Receive(server, 0)
	require.NoError(t, err)
	m2, err := k.Receive(server, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), m1.Tag)
	assert.Equal(t, []uint64{10, 11}, m1.Data)
	assert.Equal(t, client, m1.From)
	assert.Equal(t, uint64(2), m2.Tag)

	stats, _ := k.EndpointStats(1)
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Equal(t, uint64(2), stats.Received)
	assert.Equal(t, 2, stats.QueuedPeak)

	info, _ := k.Process(client)
	assert.Equal(t, uint64(2), info.Metrics.MessagesSent)
}

func TestSend_Errors(t *testing.T) {
	k, _ := newKernel(t, WithMaxQueue(1))
	server, client := serverClient(t, k, permR)

	err := k.Send(client, 0, 1)
	require.ErrorIs(t, err, ipc.ErrPermissionDenied)
	assert.ErrorIs(t, err, capability.ErrInsufficientRights)
	assert.Equal(t, EPERM, Errno(err))

	assert.ErrorIs(t, k.Send(server, 0, 1, 1, 2, 3), ErrInvalidArgument)
	assert.ErrorIs(t, k.Send(server, 5, 1), capability.ErrInvalidSlot)

	require.NoError(t, k.Send(server, 0, 1))
	err = k.Send(server, 0, 2)
	assert.ErrorIs(t, err, ipc.ErrQueueFull)
	assert.Equal(t, EQUEUEFULL, Errno(err))

	_, err = k.Receive(client, 0)
	require.NoError(t, err, "read-only holders can receive")
}

func TestSend_TagLimit(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permRW)
	before := k.CommitLog().Len()

	assert.ErrorIs(t, k.Send(client, 0, 1<<63), ErrInvalidArgument)
	assert.ErrorIs(t, k.SendCap(server, 0, math.MaxUint64, 1, 0), ErrInvalidArgument)
	_, err := k.StartCall(client, 0, 1<<63)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, k.Reply(server, 1, 1<<63), ErrInvalidArgument)
	assert.Equal(t, before, k.CommitLog().Len())

	require.NoError(t, k.Send(client, 0, math.MaxInt64))
	got, err := k.Receive(server, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxInt64), got.Tag)
}

func TestSend_WrongType(t *testing.T) {
	k, _ := newKernel(t)
	pid := spawn(t, k, "a")
	slot, err := k.MintRoot(pid, capability.TypeConsole, 0, permRW)
	require.NoError(t, err)

	err = k.Send(pid, slot, 1)
	assert.ErrorIs(t, err, capability.ErrWrongType)
	assert.Equal(t, EWRONGTYPE, Errno(err))
}

func TestReceive_WouldBlock(t *testing.T) {
	k, _ := newKernel(t)
	server, _ := serverClient(t, k, permW)

	_, err := k.Receive(server, 0)
	require.ErrorIs(t, err, ipc.ErrWouldBlock)
	info, _ := k.Process(server)
	assert.Equal(t, state.Blocked, info.State)
	assert.Contains(t, info.BlockedOn, "recv")

	st := k.State()
	p, _ := st.Process(server)
	assert.Equal(t, state.Running, p.State, "blocking is not replayable state")
}

func TestReceiveWait_WakesOnSend(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permW)

	type result struct {
		msg Received
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := k.ReceiveWait(context.Background(), server, 0)
		done <- result{m, err}
	}()

	waitBlocked(t, k, server)
	require.NoError(t, k.Send(client, 0, 42, 7))

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, uint64(42), r.msg.Tag)
	assert.Equal(t, []uint64{7}, r.msg.Data)

	info, _ := k.Process(server)
	assert.Equal(t, state.Running, info.State)
	stats, _ := k.EndpointStats(1)
	assert.Equal(t, uint64(1), stats.FastPath)
}

func TestReceiveWait_Canceled(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permW)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := k.ReceiveWait(ctx, server, 0)
		done <- err
	}()
	waitBlocked(t, k, server)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, EINTR, Errno(err))
	info, _ := k.Process(server)
	assert.Equal(t, state.Running, info.State)

	require.NoError(t, k.Send(client, 0, 3))
	m, err := k.Receive(server, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.Tag, "a cancelled receiver does not swallow messages")
}

func TestReceiveWait_DisconnectedOnDelete(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permR)

	done := make(chan error, 1)
	go func() {
		_, err := k.ReceiveWait(context.Background(), client, 0)
		done <- err
	}()
	waitBlocked(t, k, client)

	require.NoError(t, k.DeleteEndpoint(server, 0))
	err := <-done
	require.ErrorIs(t, err, ipc.ErrDisconnected)
	assert.Equal(t, EDISCONNECTED, Errno(err))

	assert.Empty(t, k.ListCaps(server), "the deleter's capability is removed")
	err = k.Send(client, 0, 1)
	assert.Error(t, err)

	_, err = k.Receive(client, 0)
	assert.ErrorIs(t, err, ipc.ErrInvalidEndpoint)
}

func TestDeleteEndpoint_RequiresGrantBit(t *testing.T) {
	k, _ := newKernel(t)
	_, client := serverClient(t, k, permRW)

	err := k.DeleteEndpoint(client, 0)
	assert.ErrorIs(t, err, capability.ErrInsufficientRights)
	_, ok := k.State().Endpoint(1)
	assert.True(t, ok)
}

func TestCall_Reply(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permW)

	serverErr := make(chan error, 1)
	go func() {
		got, err := k.ReceiveWait(context.Background(), server, 0)
		if err != nil {
			serverErr <- err
			return
		}
		serverErr <- k.Reply(server, got.CallID, 99, got.Data[0]+1)
	}()

	r, err := k.Call(context.Background(), client, 0, 5, 41)
	require.NoError(t, err)
	require.NoError(t, <-serverErr)
	assert.Equal(t, uint64(99), r.Tag)
	assert.Equal(t, []uint64{42}, r.Data)
	assert.Equal(t, server, r.From)

	info, _ := k.Process(client)
	assert.Equal(t, uint64(1), info.Metrics.CallsMade)
}

func TestCall_DisconnectedOnDelete(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permW)

	id, err := k.StartCall(client, 0, 1)
	require.NoError(t, err)
	assert.NotZero(t, id)
	info, _ := k.Process(client)
	assert.Equal(t, state.Blocked, info.State)

	require.NoError(t, k.DeleteEndpoint(server, 0))

	_, err = k.AwaitReply(context.Background(), client, id)
	assert.ErrorIs(t, err, ipc.ErrDisconnected)
}

func TestCall_ReceiverExits(t *testing.T) {
	k, _ := newKernel(t)
	a := spawn(t, k, "owner")
	server := spawn(t, k, "server")
	client := spawn(t, k, "client")
	_, _, err := k.CreateEndpoint(a)
	require.NoError(t, err)
	_, err = k.Grant(a, 0, server, permR)
	require.NoError(t, err)
	_, err = k.Grant(a, 0, client, permW)
	require.NoError(t, err)

	id, err := k.StartCall(client, 0, 1)
	require.NoError(t, err)
	_, err = k.Receive(server, 0)
	require.NoError(t, err)
	require.NoError(t, k.Exit(server, 0))

	_, err = k.AwaitReply(context.Background(), client, id)
	assert.ErrorIs(t, err, ipc.ErrDisconnected)
}

func TestReply_NoCall(t *testing.T) {
	k, _ := newKernel(t)
	server, _ := serverClient(t, k, permW)

	err := k.Reply(server, 12345, 1)
	assert.ErrorIs(t, err, ipc.ErrNoCall)
	assert.Equal(t, ENOCALL, Errno(err))
}

func TestSendCap_MovesCapability(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permW)

	clientEP, clientSlot, err := k.CreateEndpoint(client)
	require.NoError(t, err)
	require.Equal(t, capability.Slot(1), clientSlot)
	moved, err := k.Inspect(client, clientSlot)
	require.NoError(t, err)

	before := k.CommitLog().Len()
	require.NoError(t, k.SendCap(client, 0, 7, clientSlot, 1))
	assert.Equal(t, before+1, k.CommitLog().Len())
	assert.Equal(t, state.CapRemoved{PID: client, Slot: clientSlot}, k.CommitLog().Head().Type)
	_, err = k.Inspect(client, clientSlot)
	assert.ErrorIs(t, err, capability.ErrInvalidSlot, "the capability left the sender")

	got, err := k.Receive(server, 0)
	require.NoError(t, err)
	assert.Equal(t, []capability.Slot{1}, got.Slots)
	installed, err := k.Inspect(server, 1)
	require.NoError(t, err)
	assert.Equal(t, moved, installed)
	assert.Equal(t, uint64(clientEP), installed.Object)

	assert.ErrorIs(t, k.SendCap(client, 0, 7, 0, 1), ErrInvalidArgument)
}

func TestSendCap_SpaceFullRequeues(t *testing.T) {
	k, _ := newKernel(t, WithMaxSlots(2))
	server, client := serverClient(t, k, permW)
	_, slot, err := k.CreateEndpoint(client)
	require.NoError(t, err)
	require.NoError(t, k.SendCap(client, 0, 1, slot, 0))

	_, err = k.Derive(server, 0, permR)
	require.NoError(t, err)

	_, err = k.Receive(server, 0)
	require.ErrorIs(t, err, capability.ErrSpaceFull)

	require.NoError(t, k.Delete(server, 1))
	got, err := k.Receive(server, 0)
	require.NoError(t, err, "the message survived the failed receive")
	assert.Equal(t, []capability.Slot{1}, got.Slots)
}

func TestRevoke_Cascades(t *testing.T) {
	k, _ := newKernel(t)
	a := spawn(t, k, "a")
	b := spawn(t, k, "b")
	c := spawn(t, k, "c")
	_, _, err := k.CreateEndpoint(a)
	require.NoError(t, err)
	bSlot, err := k.Grant(a, 0, b, permAll)
	require.NoError(t, err)
	cSlot, err := k.Grant(b, bSlot, c, permR)
	require.NoError(t, err)
	dSlot, err := k.Derive(a, 0, permRW)
	require.NoError(t, err)

	require.NoError(t, k.Revoke(b, bSlot))

	_, err = k.Inspect(b, bSlot)
	assert.ErrorIs(t, err, capability.ErrInvalidSlot, "the revoked capability is removed")
	_, err = k.Inspect(c, cSlot)
	assert.ErrorIs(t, err, capability.ErrRevoked)
	assert.Equal(t, EREVOKED, k.Syscall(context.Background(), c, uint64(SysCapInspect), [4]uint64{uint64(cSlot)}))

	_, err = k.Inspect(a, 0)
	assert.NoError(t, err, "ancestors are unaffected")
	_, err = k.Inspect(a, dSlot)
	assert.NoError(t, err, "siblings are unaffected")

	require.NoError(t, k.Revoke(a, 0))
	_, err = k.Inspect(a, dSlot)
	assert.ErrorIs(t, err, capability.ErrRevoked)
}

func TestDelete_DoesNotCascade(t *testing.T) {
	k, _ := newKernel(t)
	a := spawn(t, k, "a")
	b := spawn(t, k, "b")
	_, _, err := k.CreateEndpoint(a)
	require.NoError(t, err)
	_, err = k.Grant(a, 0, b, permR)
	require.NoError(t, err)

	require.NoError(t, k.Delete(a, 0))
	_, err = k.Inspect(b, 0)
	assert.NoError(t, err)

	assert.ErrorIs(t, k.Delete(a, 0), capability.ErrInvalidSlot)
}

func TestRevoke_RequiresGrantBit(t *testing.T) {
	k, _ := newKernel(t)
	_, client := serverClient(t, k, permRW)
	assert.ErrorIs(t, k.Revoke(client, 0), capability.ErrInsufficientRights)
}

func TestExit(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permR)

	done := make(chan error, 1)
	go func() {
		_, err := k.ReceiveWait(context.Background(), client, 0)
		done <- err
	}()
	waitBlocked(t, k, client)

	require.NoError(t, k.Exit(server, 3))
	assert.ErrorIs(t, <-done, ipc.ErrDisconnected)

	info, ok := k.Process(server)
	require.True(t, ok, "zombies stay addressable")
	assert.Equal(t, state.Zombie, info.State)
	assert.Equal(t, int64(3), info.ExitCode)
	assert.NotEmpty(t, k.ListCaps(server), "a zombie's space is kept for audit")

	head := k.CommitLog().Head()
	assert.Equal(t, state.ProcessExited{PID: server, Code: 3}, head.Type)
	prev, _ := k.CommitLog().At(head.Seq - 1)
	assert.Equal(t, state.EndpointDestroyed{ID: 1}, prev.Type)

	assert.ErrorIs(t, k.Debug(server, 1), ErrZombie)
	assert.ErrorIs(t, k.Debug(99, 1), ErrNoSuchProcess)
	assert.ErrorIs(t, k.Kill(server, 1), ErrZombie)
}

func TestKill(t *testing.T) {
	k, _ := newKernel(t)
	pid := spawn(t, k, "victim")
	require.NoError(t, k.Kill(pid, -9))
	info, _ := k.Process(pid)
	assert.Equal(t, state.Zombie, info.State)
	assert.Nil(t, k.CommitLog().Head().CausedBy)
}

func TestTimeAndYield(t *testing.T) {
	fake := hal.NewFake(hal.WithStart(5_000))
	k, err := New(WithHAL(fake))
	require.NoError(t, err)
	pid := spawn(t, k, "a")

	now, err := k.Time(pid)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), now)

	fake.Advance(time.Microsecond)
	now, err = k.Time(pid)
	require.NoError(t, err)
	assert.Equal(t, uint64(6_000), now)

	before := k.CommitLog().Len()
	require.NoError(t, k.Yield(pid))
	require.NoError(t, k.Debug(pid, 1))
	assert.Equal(t, before, k.CommitLog().Len())
}

func TestReplay_MatchesLiveKernel(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permAll)
	other := spawn(t, k, "other")
	_, slot, err := k.CreateEndpoint(client)
	require.NoError(t, err)
	require.NoError(t, k.SendCap(client, 0, 1, slot, 0))
	_, err = k.Receive(server, 0)
	require.NoError(t, err)
	_, err = k.Grant(client, 0, other, permR)
	require.NoError(t, err)
	require.NoError(t, k.Revoke(client, 0))
	_, err = k.Derive(server, 0, permR)
	require.NoError(t, err)
	require.NoError(t, k.Exit(other, 0))

	commits := k.Commits()
	n, err := axiom.VerifyChain(commits)
	require.NoError(t, err)
	assert.Equal(t, len(commits), n)

	replayed, err := replay.New().ReplayAndVerify(commits, k.Hash())
	require.NoError(t, err)
	if diff := cmp.Diff(state.Snapshot(k.State()), state.Snapshot(replayed)); diff != "" {
		t.Errorf("replay diverged from live state (-live +replay):\n%s", diff)
	}
}

func TestWithHistory_Resumes(t *testing.T) {
	k, _ := newKernel(t)
	server, client := serverClient(t, k, permW)

	resumed, err := New(WithHAL(hal.NewFake()), WithHistory(k.Commits()))
	require.NoError(t, err)
	assert.Equal(t, k.Hash(), resumed.Hash())
	assert.Equal(t, k.CommitLog().Head().ID, resumed.CommitLog().Head().ID)

	require.NoError(t, resumed.Send(client, 0, 9))
	got, err := resumed.Receive(server, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Tag)

	pid := spawn(t, resumed, "late")
	assert.Equal(t, state.PID(3), pid)

	_, err = New(WithHistory(k.Commits()[1:]))
	assert.Error(t, err)
}

func TestDenialMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	k, _ := newKernel(t, WithMetrics(m))
	_, client := serverClient(t, k, permR)
	c := spawn(t, k, "c")

	_, err := k.Grant(client, 0, c, permR)
	require.Error(t, err)
	_, err = k.Derive(client, 0, permAll)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Denials.WithLabelValues(string(capability.CodeInsufficientRights))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Denials.WithLabelValues("CANNOT_AMPLIFY")))
}
