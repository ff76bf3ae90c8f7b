package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/state"
)

// CreateEndpoint mints an endpoint owned by pid and a full-permission
// capability to it in pid's lowest free slot.
func (k *Kernel) CreateEndpoint(pid state.PID) (state.EndpointID, capability.Slot, error) {
	var (
		id   state.EndpointID
		slot capability.Slot
	)
	_, err := k.syscall(pid, CreateEndpoint{}, func(uint64) (axiom.Outcome, error) {
		out, err := k.createEndpoint(pid, &id, &slot)
		if err != nil {
			return axiom.Outcome{}, err
		}
		out.Result = int64(slot)
		return out, nil
	})
	return id, slot, err
}

func (k *Kernel) createEndpoint(owner state.PID, id *state.EndpointID, slot *capability.Slot) (axiom.Outcome, error) {
	free, err := k.space(owner).FreeSlot()
	if err != nil {
		return axiom.Outcome{}, err
	}
	*id = k.st.NextEndpointID()
	*slot = free
	epID := *id
	c := capability.Capability{
		ID:     k.st.NextCapID(),
		Type:   capability.TypeEndpoint,
		Object: uint64(epID),
		Perms:  capability.PermAll,
	}
	return axiom.Outcome{
		Commits: []state.CommitType{
			state.EndpointCreated{ID: epID, Owner: owner},
			state.CapInserted{PID: owner, Slot: free, Cap: c},
		},
		Effects: func() { k.ipc.Create(epID) },
	}, nil
}

// DeleteEndpoint destroys the endpoint designated by slot. It requires
// the Grant bit. Waiting receivers and pending calls fail with
// Disconnected; the caller's capability is removed.
func (k *Kernel) DeleteEndpoint(pid state.PID, slot capability.Slot) error {
	_, err := k.syscall(pid, DeleteEndpoint{Slot: slot}, func(now uint64) (axiom.Outcome, error) {
		c, err := k.check(pid, slot, capability.PermGrant, capability.TypeEndpoint, now)
		if err != nil {
			return axiom.Outcome{}, err
		}
		id := state.EndpointID(c.Object)
		if _, ok := k.st.Endpoint(id); !ok {
			return axiom.Outcome{}, invalidEndpoint(id)
		}
		return axiom.Outcome{
			Commits: []state.CommitType{
				state.EndpointDestroyed{ID: id},
				state.CapRemoved{PID: pid, Slot: slot},
			},
			Effects: func() { k.destroyEndpoint(id) },
		}, nil
	})
	return err
}

func (k *Kernel) destroyEndpoint(id state.EndpointID) {
	wake, dropped := k.ipc.Destroy(id)
	lost := 0
	for _, m := range dropped {
		lost += len(m.Caps)
	}
	if len(dropped) > 0 {
		k.logger.Warn("endpoint destroyed with undelivered messages",
			zap.Uint64("endpoint", uint64(id)),
			zap.Int("messages", len(dropped)),
			zap.Int("caps", lost),
		)
	}
	k.wake(wake...)
}

// Grant inserts an attenuated copy of the capability in slot into
// target's space. It requires the Grant bit; perms must be a subset of
// the held permissions. Nothing is removed from the holder.
func (k *Kernel) Grant(pid state.PID, slot capability.Slot, target state.PID, perms capability.Perms) (capability.Slot, error) {
	var dst capability.Slot
	_, err := k.syscall(pid, CapGrant{Slot: slot, Target: target, Perms: perms}, func(now uint64) (axiom.Outcome, error) {
		return k.grant(pid, slot, target, perms, &dst, now)
	})
	return dst, err
}

func (k *Kernel) grant(pid state.PID, slot capability.Slot, target state.PID, perms capability.Perms, dst *capability.Slot, now uint64) (axiom.Outcome, error) {
	src, err := k.checkAny(pid, slot, capability.PermGrant, now)
	if err != nil {
		return axiom.Outcome{}, err
	}
	if !k.st.Alive(target) {
		return axiom.Outcome{}, fmt.Errorf("%w: grant target %d", ErrNoSuchProcess, target)
	}
	derived, err := src.Derive(k.st.NextCapID(), perms, k.st.Generation(src.ID))
	if err != nil {
		return axiom.Outcome{}, err
	}
	if *dst, err = k.space(target).FreeSlot(); err != nil {
		return axiom.Outcome{}, err
	}
	return axiom.Outcome{
		Result:  int64(*dst),
		Commits: []state.CommitType{state.CapGranted{From: pid, FromSlot: slot, To: target, Slot: *dst, Cap: derived}},
	}, nil
}

// Derive inserts an attenuated copy of the capability in slot into the
// caller's own space.
func (k *Kernel) Derive(pid state.PID, slot capability.Slot, perms capability.Perms) (capability.Slot, error) {
	var dst capability.Slot
	_, err := k.syscall(pid, CapDerive{Slot: slot, Perms: perms}, func(now uint64) (axiom.Outcome, error) {
		src, err := k.checkAny(pid, slot, capability.PermNone, now)
		if err != nil {
			return axiom.Outcome{}, err
		}
		derived, err := src.Derive(k.st.NextCapID(), perms, k.st.Generation(src.ID))
		if err != nil {
			return axiom.Outcome{}, err
		}
		if dst, err = k.space(pid).FreeSlot(); err != nil {
			return axiom.Outcome{}, err
		}
		return axiom.Outcome{
			Result:  int64(dst),
			Commits: []state.CommitType{state.CapInserted{PID: pid, Slot: dst, Cap: derived}},
		}, nil
	})
	return dst, err
}

// Revoke removes the capability in slot and invalidates every capability
// derived from it, wherever they are held. It requires the Grant bit.
func (k *Kernel) Revoke(pid state.PID, slot capability.Slot) error {
	_, err := k.syscall(pid, CapRevoke{Slot: slot}, func(now uint64) (axiom.Outcome, error) {
		if _, err := k.checkAny(pid, slot, capability.PermGrant, now); err != nil {
			return axiom.Outcome{}, err
		}
		return axiom.Outcome{
			Commits: []state.CommitType{state.CapRemoved{PID: pid, Slot: slot, Revoke: true}},
		}, nil
	})
	return err
}

// Delete removes the capability in slot. Capabilities derived from it are
// unaffected.
func (k *Kernel) Delete(pid state.PID, slot capability.Slot) error {
	_, err := k.syscall(pid, CapDelete{Slot: slot}, func(uint64) (axiom.Outcome, error) {
		if _, ok := k.space(pid).Get(slot); !ok {
			return axiom.Outcome{}, &capability.AxiomError{Code: capability.CodeInvalidSlot, Slot: slot}
		}
		return axiom.Outcome{
			Commits: []state.CommitType{state.CapRemoved{PID: pid, Slot: slot}},
		}, nil
	})
	return err
}

// Inspect returns the capability in slot if it passes every check.
func (k *Kernel) Inspect(pid state.PID, slot capability.Slot) (capability.Capability, error) {
	var c capability.Capability
	_, err := k.syscall(pid, CapInspect{Slot: slot}, func(now uint64) (axiom.Outcome, error) {
		var err error
		if c, err = k.checkAny(pid, slot, capability.PermNone, now); err != nil {
			return axiom.Outcome{}, err
		}
		return axiom.Outcome{Result: InspectWord(c)}, nil
	})
	return c, err
}

// InspectWord packs a capability's type and permissions into one result
// word: type in bits 8..15, permissions in bits 0..7.
func InspectWord(c capability.Capability) int64 {
	return int64(c.Type)<<8 | int64(c.Perms)
}

// CapCount returns the number of occupied slots in the caller's space.
func (k *Kernel) CapCount(pid state.PID) (int, error) {
	var n int
	_, err := k.syscall(pid, CapList{}, func(uint64) (axiom.Outcome, error) {
		n = k.space(pid).Len()
		return axiom.Outcome{Result: int64(n)}, nil
	})
	return n, err
}

// MintRoot gives pid a root capability over a kernel object on behalf of
// the host. Used at boot to hand out consoles, interrupts and I/O ports.
func (k *Kernel) MintRoot(pid state.PID, typ capability.ObjectType, object uint64, perms capability.Perms) (capability.Slot, error) {
	var slot capability.Slot
	err := k.internal(func(uint64) (axiom.Outcome, error) {
		if err := k.requireAlive(pid); err != nil {
			return axiom.Outcome{}, err
		}
		if !perms.Valid() {
			return axiom.Outcome{}, fmt.Errorf("%w: permissions %#x", ErrInvalidArgument, uint8(perms))
		}
		var err error
		if slot, err = k.space(pid).FreeSlot(); err != nil {
			return axiom.Outcome{}, err
		}
		c := capability.Capability{ID: k.st.NextCapID(), Type: typ, Object: object, Perms: perms}
		return axiom.Outcome{Commits: []state.CommitType{state.CapInserted{PID: pid, Slot: slot, Cap: c}}}, nil
	})
	return slot, err
}
