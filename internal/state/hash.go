package state

import (
	"maps"
	"slices"

	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/ir"
)

// Hash returns the deterministic digest of s.
//
// Covered: the process table (pid, name, state), every capability space
// (pid, slot, cap id, type, object, permissions), the endpoint table (id,
// owner) and the revocation table (cap id, generation). Every section is
// emitted in ascending key order. Message queues, counters and timestamps
// live outside State and are never hashed.
func Hash(s *State) ir.Hash {
	h, err := ir.StateHash(Snapshot(s))
	if err != nil {
		// Snapshot only emits canonical value types.
		panic(err)
	}
	return h
}

// Snapshot returns the canonical object that Hash digests.
func Snapshot(s *State) ir.Object {
	procs := ir.Array{}
	spaces := ir.Array{}
	for _, pid := range s.PIDs() {
		p := s.Processes[pid]
		procs = append(procs, ir.Obj(
			ir.O("pid", ir.Uint(p.PID)),
			ir.O("name", ir.String(p.Name)),
			ir.O("state", ir.String(p.State.String())),
		))

		space := s.Spaces[pid]
		caps := ir.Array{}
		for _, slot := range space.Slots() {
			c, _ := space.Get(slot)
			caps = append(caps, ir.Obj(
				ir.O("slot", ir.Uint(slot)),
				ir.O("id", ir.Uint(c.ID)),
				ir.O("type", ir.String(c.Type.String())),
				ir.O("object", ir.Uint(c.Object)),
				ir.O("perms", ir.Uint(c.Perms)),
			))
		}
		spaces = append(spaces, ir.Obj(ir.O("pid", ir.Uint(pid)), ir.O("caps", caps)))
	}

	endpoints := ir.Array{}
	for _, id := range s.EndpointIDs() {
		ep := s.Endpoints[id]
		endpoints = append(endpoints, ir.Obj(ir.O("id", ir.Uint(ep.ID)), ir.O("owner", ir.Uint(ep.Owner))))
	}

	revocations := ir.Array{}
	for _, id := range slices.Sorted(maps.Keys(s.Revocations)) {
		revocations = append(revocations, ir.Obj(
			ir.O("id", ir.Uint(id)),
			ir.O("generation", ir.Uint(s.Revocations[id])),
		))
	}

	return ir.Obj(
		ir.O("processes", procs),
		ir.O("spaces", spaces),
		ir.O("endpoints", endpoints),
		ir.O("revocations", revocations),
	)
}

// CapEntry is one occupied slot, for listings.
type CapEntry struct {
	PID  PID
	Slot capability.Slot
	Cap  capability.Capability
}

// Caps lists the capabilities of pid in slot order.
func (s *State) Caps(pid PID) []CapEntry {
	space, ok := s.Spaces[pid]
	if !ok {
		return nil
	}
	out := make([]CapEntry, 0, space.Len())
	for _, slot := range space.Slots() {
		c, _ := space.Get(slot)
		out = append(out, CapEntry{PID: pid, Slot: slot, Cap: c})
	}
	return out
}
