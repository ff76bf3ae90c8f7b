// Package ipc is the volatile half of the endpoint model: FIFO message
// queues, blocked receivers and outstanding calls. Nothing here is
// replayed. Endpoint identity and ownership are replayable and live in
// the state package; capability transfer is recorded by the kernel as
// commits before a message becomes visible here.
//
// The kernel drives a Table while holding the gateway lock. The Table
// has its own lock so that the kernel's blocking helpers can read a
// waiter's delivery after the gateway lock is released.
package ipc

import (
	"maps"
	"slices"
	"sync"

	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/state"
)

// CallID names one outstanding call. Zero means "not a call".
type CallID uint64

// Message is one queued or delivered message. Caps are in flight: they
// have already left the sender's space and are installed on receipt.
type Message struct {
	From   state.PID
	Tag    uint64
	Data   []uint64
	Caps   []capability.Capability
	CallID CallID
}

// Reply completes a call. Replies carry data only.
type Reply struct {
	From state.PID
	Tag  uint64
	Data []uint64
}

// Stats are per-endpoint counters.
type Stats struct {
	Sent       uint64
	Received   uint64
	FastPath   uint64
	QueuedPeak int
	Queued     int
	Waiting    int
}

type endpoint struct {
	id      state.EndpointID
	queue   []Message
	waiters []*waiter
	stats   Stats
}

type waiter struct {
	pid      state.PID
	endpoint state.EndpointID
	done     bool
	msg      Message
	err      error
}

type call struct {
	id       CallID
	caller   state.PID
	endpoint state.EndpointID
	receiver state.PID
	done     bool
	reply    Reply
	err      error
}

// Table holds every live endpoint's runtime state.
type Table struct {
	mu        sync.Mutex
	endpoints map[state.EndpointID]*endpoint
	receivers map[state.PID]*waiter
	calls     map[CallID]*call
	maxQueue  int
}

// NewTable returns an empty Table. maxQueue bounds each endpoint's queue;
// zero means unbounded.
func NewTable(maxQueue int) *Table {
	return &Table{
		endpoints: make(map[state.EndpointID]*endpoint),
		receivers: make(map[state.PID]*waiter),
		calls:     make(map[CallID]*call),
		maxQueue:  maxQueue,
	}
}

// Create registers runtime state for a new endpoint.
func (t *Table) Create(id state.EndpointID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.endpoints[id]; !ok {
		t.endpoints[id] = &endpoint{id: id}
	}
}

// Exists reports whether id has runtime state.
func (t *Table) Exists(id state.EndpointID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.endpoints[id]
	return ok
}

// Destroy drops an endpoint. Receivers registered on it and pending calls
// through it fail with ErrDisconnected; the returned pids must be woken.
// Undelivered messages, including ones handed to a receiver that has not
// yet collected them, are returned so the caller can account for
// in-flight caps.
func (t *Table) Destroy(id state.EndpointID) (wake []state.PID, dropped []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep, ok := t.endpoints[id]
	if !ok {
		return nil, nil
	}
	delete(t.endpoints, id)

	dropped = ep.queue
	for _, pid := range slices.Sorted(maps.Keys(t.receivers)) {
		w := t.receivers[pid]
		if w.endpoint != id {
			continue
		}
		if w.done && w.err == nil {
			dropped = append(dropped, w.msg)
		} else if !w.done {
			wake = append(wake, pid)
		}
		w.done = true
		w.msg = Message{}
		w.err = ErrDisconnected
	}
	for _, cid := range slices.Sorted(maps.Keys(t.calls)) {
		c := t.calls[cid]
		if c.endpoint == id && !c.done {
			c.done = true
			c.err = ErrDisconnected
			wake = append(wake, c.caller)
		}
	}
	return wake, dropped
}

// CanSend reports whether a Send to id would be accepted right now.
func (t *Table) CanSend(id state.EndpointID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[id]
	if !ok {
		return ErrInvalidEndpoint
	}
	if len(ep.waiters) == 0 && t.maxQueue > 0 && len(ep.queue) >= t.maxQueue {
		return ErrQueueFull
	}
	return nil
}

// Send delivers msg. If a receiver is blocked on the endpoint the message
// goes straight to it and its pid is returned for waking (fast path);
// otherwise the message is queued.
func (t *Table) Send(id state.EndpointID, msg Message) (woken state.PID, fast bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ep, ok := t.endpoints[id]
	if !ok {
		return 0, false, ErrInvalidEndpoint
	}
	if len(ep.waiters) > 0 {
		w := ep.waiters[0]
		ep.waiters[0] = nil
		ep.waiters = ep.waiters[1:]
		w.done = true
		w.msg = msg
		ep.stats.Sent++
		ep.stats.FastPath++
		return w.pid, true, nil
	}
	if t.maxQueue > 0 && len(ep.queue) >= t.maxQueue {
		return 0, false, ErrQueueFull
	}
	ep.queue = append(ep.queue, msg)
	ep.stats.Sent++
	ep.stats.QueuedPeak = max(ep.stats.QueuedPeak, len(ep.queue))
	return 0, false, nil
}

// Receive returns the oldest message for pid on id. A message delivered
// directly to pid while it was blocked takes precedence over the queue.
// With nothing available, pid is registered as a waiting receiver and
// ErrWouldBlock is returned; the caller must block it.
func (t *Table) Receive(id state.EndpointID, pid state.PID) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if w, ok := t.receivers[pid]; ok {
		switch {
		case w.endpoint != id:
			t.dropWaiter(w)
		case !w.done:
			return Message{}, ErrWouldBlock
		case w.err != nil:
			delete(t.receivers, pid)
			return Message{}, w.err
		default:
			delete(t.receivers, pid)
			t.received(id, pid, w.msg)
			return w.msg, nil
		}
	}

	ep, ok := t.endpoints[id]
	if !ok {
		return Message{}, ErrInvalidEndpoint
	}
	if len(ep.queue) > 0 {
		msg := ep.queue[0]
		ep.queue[0] = Message{}
		if len(ep.queue) == 1 {
			ep.queue = ep.queue[:0]
		} else {
			ep.queue = ep.queue[1:]
		}
		t.received(id, pid, msg)
		return msg, nil
	}

	w := &waiter{pid: pid, endpoint: id}
	ep.waiters = append(ep.waiters, w)
	t.receivers[pid] = w
	return Message{}, ErrWouldBlock
}

func (t *Table) received(id state.EndpointID, pid state.PID, msg Message) {
	if ep, ok := t.endpoints[id]; ok {
		ep.stats.Received++
	}
	if msg.CallID != 0 {
		if c, ok := t.calls[msg.CallID]; ok {
			c.receiver = pid
		}
	}
}

// Cancel withdraws pid's receive registration. A message already handed
// to it goes back to the front of its endpoint's queue.
func (t *Table) Cancel(pid state.PID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.receivers[pid]; ok {
		t.dropWaiter(w)
	}
}

func (t *Table) dropWaiter(w *waiter) {
	delete(t.receivers, w.pid)
	ep, ok := t.endpoints[w.endpoint]
	if !ok {
		return
	}
	if w.done {
		if w.err == nil {
			ep.queue = append([]Message{w.msg}, ep.queue...)
			ep.stats.QueuedPeak = max(ep.stats.QueuedPeak, len(ep.queue))
		}
		return
	}
	ep.waiters = slices.DeleteFunc(ep.waiters, func(x *waiter) bool { return x == w })
}

// Requeue puts msg back at the front of id's queue. Used when a received
// message could not be completed (for example, no room for its caps).
func (t *Table) Requeue(id state.EndpointID, msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[id]
	if !ok {
		return
	}
	ep.queue = append([]Message{msg}, ep.queue...)
	ep.stats.Received--
	ep.stats.QueuedPeak = max(ep.stats.QueuedPeak, len(ep.queue))
}

// Call registers an outstanding call from caller and sends msg tagged
// with id. On error the call is not registered.
func (t *Table) Call(ep state.EndpointID, caller state.PID, id CallID, msg Message) (woken state.PID, fast bool, err error) {
	t.mu.Lock()
	if _, dup := t.calls[id]; dup || id == 0 {
		t.mu.Unlock()
		return 0, false, ErrNoCall
	}
	t.calls[id] = &call{id: id, caller: caller, endpoint: ep}
	t.mu.Unlock()

	msg.CallID = id
	woken, fast, err = t.Send(ep, msg)
	if err != nil {
		t.mu.Lock()
		delete(t.calls, id)
		t.mu.Unlock()
	}
	return woken, fast, err
}

// Reply completes call id. Only the process that received the call may
// reply. The caller's pid is returned for waking.
func (t *Table) Reply(id CallID, from state.PID, tag uint64, data []uint64) (state.PID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.calls[id]
	if !ok || c.done || c.receiver != from {
		return 0, ErrNoCall
	}
	c.done = true
	c.reply = Reply{From: from, Tag: tag, Data: data}
	return c.caller, nil
}

// AwaitReply returns the reply to call id once it has arrived.
// ErrWouldBlock means the caller must keep waiting.
func (t *Table) AwaitReply(id CallID, caller state.PID) (Reply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.calls[id]
	if !ok || c.caller != caller {
		return Reply{}, ErrNoCall
	}
	if !c.done {
		return Reply{}, ErrWouldBlock
	}
	delete(t.calls, id)
	return c.reply, c.err
}

// AbandonCall forgets call id. A late reply then fails with ErrNoCall.
func (t *Table) AbandonCall(id CallID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.calls, id)
}

// ProcessExited forgets pid's receive registration and calls. Calls that
// pid had received but not answered fail with ErrDisconnected; their
// callers are returned for waking.
func (t *Table) ProcessExited(pid state.PID) []state.PID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if w, ok := t.receivers[pid]; ok {
		t.dropWaiter(w)
	}
	var wake []state.PID
	for _, cid := range slices.Sorted(maps.Keys(t.calls)) {
		c := t.calls[cid]
		switch {
		case c.caller == pid:
			delete(t.calls, cid)
		case c.receiver == pid && !c.done:
			c.done = true
			c.err = ErrDisconnected
			wake = append(wake, c.caller)
		}
	}
	return wake
}

// Stats returns a snapshot of id's counters.
func (t *Table) Stats(id state.EndpointID) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ep, ok := t.endpoints[id]
	if !ok {
		return Stats{}, false
	}
	s := ep.stats
	s.Queued = len(ep.queue)
	s.Waiting = len(ep.waiters)
	return s, true
}

// Pending returns the number of outstanding calls.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
