package state

import (
	"fmt"

	"github.com/roach88/axiom/internal/capability"
)

// Apply interprets one mutation against s. Every case validates before
// mutating, so a failed Apply leaves s unchanged.
func Apply(s *State, ct CommitType) error {
	switch c := ct.(type) {
	case Genesis:
		return nil

	case ProcessCreated:
		if c.PID == KernelPID {
			return newApplyError(CodeInvalidCommit, c, "pid 0 is reserved for the kernel")
		}
		if _, exists := s.Processes[c.PID]; exists {
			return newApplyError(CodeInvalidCommit, c, fmt.Sprintf("pid %d already exists", c.PID))
		}
		if c.Parent != KernelPID {
			if _, ok := s.Processes[c.Parent]; !ok {
				return newApplyError(CodeProcessNotFound, c, fmt.Sprintf("parent %d", c.Parent))
			}
		}
		s.Processes[c.PID] = &Process{PID: c.PID, Parent: c.Parent, Name: c.Name, State: Running}
		s.Spaces[c.PID] = capability.NewSpace(s.maxSlots)
		if c.PID >= s.nextPID {
			s.nextPID = c.PID + 1
		}
		return nil

	case ProcessExited:
		p, ok := s.Processes[c.PID]
		if !ok {
			return newApplyError(CodeProcessNotFound, c, fmt.Sprintf("pid %d", c.PID))
		}
		if p.State == Zombie {
			return newApplyError(CodeInvalidCommit, c, fmt.Sprintf("pid %d already exited", c.PID))
		}
		p.State = Zombie
		p.ExitCode = c.Code
		return nil

	case CapInserted:
		space, ok := s.Spaces[c.PID]
		if !ok {
			return newApplyError(CodeProcessNotFound, c, fmt.Sprintf("pid %d", c.PID))
		}
		if err := space.Insert(c.Slot, c.Cap); err != nil {
			return newApplyError(CodeCapability, c, err.Error())
		}
		s.observeCap(c.Cap.ID)
		return nil

	case CapRemoved:
		space, ok := s.Spaces[c.PID]
		if !ok {
			return newApplyError(CodeProcessNotFound, c, fmt.Sprintf("pid %d", c.PID))
		}
		removed, ok := space.Remove(c.Slot)
		if !ok {
			return newApplyError(CodeCapability, c, fmt.Sprintf("pid %d slot %d is empty", c.PID, c.Slot))
		}
		if c.Revoke {
			s.Revocations[removed.ID]++
		}
		return nil

	case CapGranted:
		from, ok := s.Spaces[c.From]
		if !ok {
			return newApplyError(CodeProcessNotFound, c, fmt.Sprintf("holder pid %d", c.From))
		}
		to, ok := s.Spaces[c.To]
		if !ok {
			return newApplyError(CodeProcessNotFound, c, fmt.Sprintf("target pid %d", c.To))
		}
		source, ok := from.Get(c.FromSlot)
		if !ok {
			return newApplyError(CodeCapability, c, fmt.Sprintf("holder slot %d is empty", c.FromSlot))
		}
		if parent, ok := c.Cap.Parent(); !ok || parent != source.ID {
			return newApplyError(CodeCapability, c, "granted capability does not descend from the holder's")
		}
		if !c.Cap.Perms.SubsetOf(source.Perms) {
			return newApplyError(CodeCapability, c, "granted capability amplifies the holder's")
		}
		if err := to.Insert(c.Slot, c.Cap); err != nil {
			return newApplyError(CodeCapability, c, err.Error())
		}
		s.observeCap(c.Cap.ID)
		return nil

	case EndpointCreated:
		if _, exists := s.Endpoints[c.ID]; exists {
			return newApplyError(CodeInvalidCommit, c, fmt.Sprintf("endpoint %d already exists", c.ID))
		}
		if _, ok := s.Processes[c.Owner]; !ok {
			return newApplyError(CodeProcessNotFound, c, fmt.Sprintf("owner %d", c.Owner))
		}
		s.Endpoints[c.ID] = &Endpoint{ID: c.ID, Owner: c.Owner}
		if c.ID >= s.nextEndpoint {
			s.nextEndpoint = c.ID + 1
		}
		return nil

	case EndpointDestroyed:
		if _, ok := s.Endpoints[c.ID]; !ok {
			return newApplyError(CodeEndpointNotFound, c, fmt.Sprintf("endpoint %d", c.ID))
		}
		delete(s.Endpoints, c.ID)
		return nil

	case nil:
		return newApplyError(CodeInvalidCommit, nil, "nil commit type")

	default:
		return newApplyError(CodeInvalidCommit, ct, fmt.Sprintf("unhandled commit type %T", ct))
	}
}
