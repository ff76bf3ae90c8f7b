package kernel

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/ipc"
	"github.com/roach88/axiom/internal/state"
)

// Received is a message together with the slots its capabilities were
// installed into, in message order.
type Received struct {
	ipc.Message
	Slots []capability.Slot
}

// words packs message data into the two argument words a syscall
// carries. Tags are limited to 63 bits: a raw RECV or CALL returns the
// tag as its result, where a set sign bit would read as an errno.
func words(tag uint64, data []uint64) ([2]uint64, error) {
	var d [2]uint64
	if len(data) > len(d) {
		return d, fmt.Errorf("%w: %d data words, at most %d", ErrInvalidArgument, len(data), len(d))
	}
	copy(d[:], data)
	return d, checkTag(tag)
}

func checkTag(tag uint64) error {
	if tag > math.MaxInt64 {
		return fmt.Errorf("%w: tag %#x exceeds 63 bits", ErrInvalidArgument, tag)
	}
	return nil
}

func invalidEndpoint(id state.EndpointID) error {
	return fmt.Errorf("%w: endpoint %d", ipc.ErrInvalidEndpoint, id)
}

// endpointFor checks that slot holds an endpoint capability with required
// and that the endpoint is live.
func (k *Kernel) endpointFor(pid state.PID, slot capability.Slot, required capability.Perms, now uint64) (state.EndpointID, error) {
	id, err := k.endpointCap(pid, slot, required, now)
	if err != nil {
		return 0, err
	}
	if _, ok := k.st.Endpoint(id); !ok {
		return 0, invalidEndpoint(id)
	}
	return id, nil
}

// endpointCap resolves slot to the endpoint it designates. A missing read
// or write bit is reported as PermissionDenied.
func (k *Kernel) endpointCap(pid state.PID, slot capability.Slot, required capability.Perms, now uint64) (state.EndpointID, error) {
	c, err := k.check(pid, slot, required, capability.TypeEndpoint, now)
	if errors.Is(err, capability.ErrInsufficientRights) {
		return 0, ipc.PermissionDenied(err)
	}
	if err != nil {
		return 0, err
	}
	return state.EndpointID(c.Object), nil
}

// Send queues a message on the endpoint in slot, or hands it directly to
// a blocked receiver. It never blocks. At most two data words are
// carried.
func (k *Kernel) Send(pid state.PID, slot capability.Slot, tag uint64, data ...uint64) error {
	d, derr := words(tag, data)
	_, err := k.syscall(pid, Send{Slot: slot, Tag: tag, Data: d}, func(now uint64) (axiom.Outcome, error) {
		if derr != nil {
			return axiom.Outcome{}, derr
		}
		return k.send(pid, slot, ipc.Message{From: pid, Tag: tag, Data: data}, nil, now)
	})
	return err
}

// SendCap sends a message carrying the capability in capSlot. The
// capability leaves the sender's space, recorded as a commit, before the
// message becomes visible.
func (k *Kernel) SendCap(pid state.PID, slot capability.Slot, tag uint64, capSlot capability.Slot, data uint64) error {
	sc := SendCap{Slot: slot, Tag: tag, CapSlot: capSlot, Data: data}
	_, err := k.syscall(pid, sc, func(now uint64) (axiom.Outcome, error) {
		if err := checkTag(tag); err != nil {
			return axiom.Outcome{}, err
		}
		if capSlot == slot {
			return axiom.Outcome{}, fmt.Errorf("%w: cannot send the capability being sent through", ErrInvalidArgument)
		}
		return k.send(pid, slot, ipc.Message{From: pid, Tag: tag, Data: []uint64{data}}, []capability.Slot{capSlot}, now)
	})
	return err
}

func (k *Kernel) send(pid state.PID, slot capability.Slot, msg ipc.Message, transfer []capability.Slot, now uint64) (axiom.Outcome, error) {
	id, err := k.endpointFor(pid, slot, capability.PermWrite, now)
	if err != nil {
		return axiom.Outcome{}, err
	}
	if err := k.ipc.CanSend(id); err != nil {
		return axiom.Outcome{}, err
	}

	var commits []state.CommitType
	for _, ts := range transfer {
		c, err := k.checkAny(pid, ts, capability.PermNone, now)
		if err != nil {
			return axiom.Outcome{}, err
		}
		msg.Caps = append(msg.Caps, c.Clone())
		commits = append(commits, state.CapRemoved{PID: pid, Slot: ts})
	}

	return axiom.Outcome{
		Commits: commits,
		Effects: func() {
			woken, fast, err := k.ipc.Send(id, msg)
			if err != nil {
				// CanSend held under the same lock; this is a bug.
				k.logger.Error("send after successful check", zap.Uint64("endpoint", uint64(id)), zap.Error(err))
				return
			}
			k.procs[pid].MessagesSent++
			if fast {
				k.metrics.Message("send", "fast")
				k.wake(woken)
			} else {
				k.metrics.Message("send", "queued")
			}
		},
	}, nil
}

// Receive takes the oldest message from the endpoint in slot and installs
// its capabilities into the caller's lowest free slots. If nothing is
// pending the caller is registered as waiting, blocked, and
// ipc.ErrWouldBlock is returned.
func (k *Kernel) Receive(pid state.PID, slot capability.Slot) (Received, error) {
	var got Received
	_, err := k.syscall(pid, Recv{Slot: slot}, func(now uint64) (axiom.Outcome, error) {
		// The endpoint may already be gone: a receiver woken by its
		// destruction collects Disconnected here.
		id, err := k.endpointCap(pid, slot, capability.PermRead, now)
		if err != nil {
			return axiom.Outcome{}, err
		}
		msg, err := k.ipc.Receive(id, pid)
		if errors.Is(err, ipc.ErrInvalidEndpoint) {
			return axiom.Outcome{}, invalidEndpoint(id)
		}
		if errors.Is(err, ipc.ErrWouldBlock) {
			k.block(pid, fmt.Sprintf("recv endpoint %d", id))
			return axiom.Outcome{}, err
		}
		if err != nil {
			return axiom.Outcome{}, err
		}

		slots, err := k.space(pid).FreeSlots(len(msg.Caps))
		if err != nil {
			k.ipc.Requeue(id, msg)
			return axiom.Outcome{}, err
		}
		commits := make([]state.CommitType, len(msg.Caps))
		for i, c := range msg.Caps {
			commits[i] = state.CapInserted{PID: pid, Slot: slots[i], Cap: c}
		}
		got = Received{Message: msg, Slots: slots}
		return axiom.Outcome{
			Result:  int64(msg.Tag),
			Commits: commits,
			Effects: func() {
				k.procs[pid].MessagesReceived++
				k.metrics.Message("recv", "")
			},
		}, nil
	})
	return got, err
}

// ReceiveWait is Receive that blocks until a message arrives, the
// endpoint is destroyed, or ctx ends. There is no built-in timeout.
func (k *Kernel) ReceiveWait(ctx context.Context, pid state.PID, slot capability.Slot) (Received, error) {
	for {
		got, err := k.Receive(pid, slot)
		if !errors.Is(err, ipc.ErrWouldBlock) {
			return got, err
		}
		if err := k.sched.Wait(ctx, pid); err != nil {
			k.gw.Read(func() {
				k.ipc.Cancel(pid)
				k.wake(pid)
			})
			return Received{}, err
		}
	}
}

// Call sends a message through the endpoint in slot and blocks until the
// receiver replies, the endpoint is destroyed, or ctx ends.
func (k *Kernel) Call(ctx context.Context, pid state.PID, slot capability.Slot, tag uint64, data ...uint64) (ipc.Reply, error) {
	id, err := k.StartCall(pid, slot, tag, data...)
	if err != nil {
		return ipc.Reply{}, err
	}
	return k.AwaitReply(ctx, pid, id)
}

// StartCall is the non-blocking half of Call: it sends the request, blocks
// the caller in the scheduler, and returns the call id to wait on.
func (k *Kernel) StartCall(pid state.PID, slot capability.Slot, tag uint64, data ...uint64) (ipc.CallID, error) {
	d, derr := words(tag, data)
	var cid ipc.CallID
	_, err := k.syscall(pid, Call{Slot: slot, Tag: tag, Data: d}, func(now uint64) (axiom.Outcome, error) {
		if derr != nil {
			return axiom.Outcome{}, derr
		}
		id, err := k.endpointFor(pid, slot, capability.PermWrite, now)
		if err != nil {
			return axiom.Outcome{}, err
		}
		if err := k.ipc.CanSend(id); err != nil {
			return axiom.Outcome{}, err
		}
		if cid, err = k.newCallID(); err != nil {
			return axiom.Outcome{}, err
		}
		msg := ipc.Message{From: pid, Tag: tag, Data: data}
		return axiom.Outcome{
			Result: int64(cid),
			Effects: func() {
				woken, fast, err := k.ipc.Call(id, pid, cid, msg)
				if err != nil {
					k.logger.Error("call after successful check", zap.Uint64("endpoint", uint64(id)), zap.Error(err))
					return
				}
				k.procs[pid].CallsMade++
				k.procs[pid].MessagesSent++
				k.block(pid, fmt.Sprintf("call %d", cid))
				if fast {
					k.metrics.Message("call", "fast")
					k.wake(woken)
				} else {
					k.metrics.Message("call", "queued")
				}
			},
		}, nil
	})
	return cid, err
}

// AwaitReply blocks until call id completes.
func (k *Kernel) AwaitReply(ctx context.Context, pid state.PID, id ipc.CallID) (ipc.Reply, error) {
	for {
		var (
			r   ipc.Reply
			err error
		)
		k.gw.Read(func() {
			r, err = k.ipc.AwaitReply(id, pid)
			if errors.Is(err, ipc.ErrWouldBlock) {
				k.block(pid, fmt.Sprintf("call %d", id))
			}
		})
		if !errors.Is(err, ipc.ErrWouldBlock) {
			return r, err
		}
		if werr := k.sched.Wait(ctx, pid); werr != nil {
			k.gw.Read(func() {
				k.ipc.AbandonCall(id)
				k.wake(pid)
			})
			return ipc.Reply{}, werr
		}
	}
}

// newCallID draws a non-zero id that fits in a positive int64 result.
func (k *Kernel) newCallID() (ipc.CallID, error) {
	var buf [8]byte
	for {
		if err := k.hal.RandomBytes(buf[:]); err != nil {
			return 0, err
		}
		id := binary.LittleEndian.Uint64(buf[:]) &^ (1 << 63)
		if id != 0 {
			return ipc.CallID(id), nil
		}
	}
}

// Reply completes call id, which pid must have received. Replies carry
// data only.
func (k *Kernel) Reply(pid state.PID, id ipc.CallID, tag uint64, data ...uint64) error {
	d, derr := words(tag, data)
	_, err := k.syscall(pid, Reply{CallID: id, Tag: tag, Data: d}, func(uint64) (axiom.Outcome, error) {
		if derr != nil {
			return axiom.Outcome{}, derr
		}
		caller, err := k.ipc.Reply(id, pid, tag, data)
		if err != nil {
			return axiom.Outcome{}, err
		}
		return axiom.Outcome{Effects: func() {
			k.metrics.Message("reply", "")
			k.wake(caller)
		}}, nil
	})
	return err
}
