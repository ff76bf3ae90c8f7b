package capability

import (
	"maps"
	"slices"
)

// DefaultMaxSlots bounds a Space unless the kernel configures otherwise.
const DefaultMaxSlots = 4096

// Space is one process's slot → Capability table. It is owned by the
// kernel; user code never mutates it directly.
type Space struct {
	caps     map[Slot]Capability
	maxSlots int
}

// NewSpace creates an empty space bounded at maxSlots (<= 0 selects the
// default).
func NewSpace(maxSlots int) *Space {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxSlots
	}
	return &Space{caps: make(map[Slot]Capability), maxSlots: maxSlots}
}

// Get returns the capability at slot.
func (s *Space) Get(slot Slot) (Capability, bool) {
	c, ok := s.caps[slot]
	return c, ok
}

// Insert places c at slot. The slot must be free.
func (s *Space) Insert(slot Slot, c Capability) error {
	if _, ok := s.caps[slot]; ok {
		return ErrSlotOccupied
	}
	if int(slot) >= s.maxSlots {
		return ErrSpaceFull
	}
	s.caps[slot] = c.Clone()
	return nil
}

// Remove deletes and returns the capability at slot.
func (s *Space) Remove(slot Slot) (Capability, bool) {
	c, ok := s.caps[slot]
	if ok {
		delete(s.caps, slot)
	}
	return c, ok
}

// Len returns the number of occupied slots.
func (s *Space) Len() int {
	return len(s.caps)
}

// Slots returns occupied slots in ascending order.
func (s *Space) Slots() []Slot {
	return slices.Sorted(maps.Keys(s.caps))
}

// FreeSlots returns the n lowest free slots, treating reserved as taken.
// Kernel operations that install several capabilities in one syscall
// compute all slots up front, before any commit is applied.
func (s *Space) FreeSlots(n int, reserved ...Slot) ([]Slot, error) {
	out := make([]Slot, 0, n)
	for slot := Slot(0); len(out) < n; slot++ {
		if int(slot) >= s.maxSlots {
			return nil, ErrSpaceFull
		}
		if _, taken := s.caps[slot]; taken || slices.Contains(reserved, slot) {
			continue
		}
		out = append(out, slot)
	}
	return out, nil
}

// FreeSlot returns the lowest free slot.
func (s *Space) FreeSlot(reserved ...Slot) (Slot, error) {
	slots, err := s.FreeSlots(1, reserved...)
	if err != nil {
		return 0, err
	}
	return slots[0], nil
}

// Clone returns a deep copy.
func (s *Space) Clone() *Space {
	out := NewSpace(s.maxSlots)
	for slot, c := range s.caps {
		out.caps[slot] = c.Clone()
	}
	return out
}
