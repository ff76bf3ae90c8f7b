package state

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/axiom/internal/capability"
)

// PID identifies a process. Pid 0 is the kernel itself.
type PID uint64

// KernelPID is the parent of boot processes and the sender of
// kernel-internal operations.
const KernelPID PID = 0

// EndpointID identifies an IPC endpoint.
type EndpointID uint64

// ProcState is a process lifecycle state.
type ProcState uint8

const (
	Running ProcState = iota + 1
	Blocked
	Zombie
)

// String returns the state name.
func (s ProcState) String() string {
	switch s {
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Zombie:
		return "Zombie"
	default:
		return fmt.Sprintf("ProcState(%d)", uint8(s))
	}
}

// Process is the replayable part of a process record. Zombie processes
// stay in the table so that they remain addressable for audit.
type Process struct {
	PID      PID
	Parent   PID
	Name     string
	State    ProcState
	ExitCode int64
}

// Endpoint is the replayable part of an endpoint: its identity and owner.
// Queues live in the ipc package and are never replayed.
type Endpoint struct {
	ID    EndpointID
	Owner PID
}

// State is the kernel aggregate rebuilt by replay. It is passed by
// pointer into every operation; there is no global instance.
type State struct {
	Processes   map[PID]*Process
	Spaces      map[PID]*capability.Space
	Endpoints   map[EndpointID]*Endpoint
	Revocations map[capability.ID]uint64

	maxSlots     int
	nextPID      PID
	nextCap      capability.ID
	nextEndpoint EndpointID
}

// Option configures a State.
type Option func(*State)

// WithMaxSlots bounds every capability space created by Apply.
func WithMaxSlots(n int) Option {
	return func(s *State) {
		s.maxSlots = n
	}
}

// New returns the empty state that precedes Genesis.
func New(opts ...Option) *State {
	s := &State{
		Processes:    make(map[PID]*Process),
		Spaces:       make(map[PID]*capability.Space),
		Endpoints:    make(map[EndpointID]*Endpoint),
		Revocations:  make(map[capability.ID]uint64),
		nextPID:      1,
		nextCap:      1,
		nextEndpoint: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generation implements capability.Generations.
func (s *State) Generation(id capability.ID) uint64 {
	return s.Revocations[id]
}

// Process returns the process record for pid.
func (s *State) Process(pid PID) (*Process, bool) {
	p, ok := s.Processes[pid]
	return p, ok
}

// Alive reports whether pid exists and has not exited.
func (s *State) Alive(pid PID) bool {
	p, ok := s.Processes[pid]
	return ok && p.State != Zombie
}

// Space returns the capability space of pid.
func (s *State) Space(pid PID) (*capability.Space, bool) {
	sp, ok := s.Spaces[pid]
	return sp, ok
}

// Endpoint returns the live endpoint with the given id.
func (s *State) Endpoint(id EndpointID) (*Endpoint, bool) {
	ep, ok := s.Endpoints[id]
	return ep, ok
}

// NextPID is the pid the next ProcessCreated must carry.
func (s *State) NextPID() PID { return s.nextPID }

// NextCapID is the id the next minted capability must carry.
func (s *State) NextCapID() capability.ID { return s.nextCap }

// NextEndpointID is the id the next EndpointCreated must carry.
func (s *State) NextEndpointID() EndpointID { return s.nextEndpoint }

// PIDs returns all pids in ascending order.
func (s *State) PIDs() []PID {
	return slices.Sorted(maps.Keys(s.Processes))
}

// EndpointIDs returns all live endpoint ids in ascending order.
func (s *State) EndpointIDs() []EndpointID {
	return slices.Sorted(maps.Keys(s.Endpoints))
}

// EndpointsOwnedBy returns the live endpoints owned by pid, ascending.
func (s *State) EndpointsOwnedBy(pid PID) []EndpointID {
	var out []EndpointID
	for _, id := range s.EndpointIDs() {
		if s.Endpoints[id].Owner == pid {
			out = append(out, id)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		Processes:    make(map[PID]*Process, len(s.Processes)),
		Spaces:       make(map[PID]*capability.Space, len(s.Spaces)),
		Endpoints:    make(map[EndpointID]*Endpoint, len(s.Endpoints)),
		Revocations:  maps.Clone(s.Revocations),
		maxSlots:     s.maxSlots,
		nextPID:      s.nextPID,
		nextCap:      s.nextCap,
		nextEndpoint: s.nextEndpoint,
	}
	for pid, p := range s.Processes {
		cp := *p
		out.Processes[pid] = &cp
	}
	for pid, sp := range s.Spaces {
		out.Spaces[pid] = sp.Clone()
	}
	for id, ep := range s.Endpoints {
		cp := *ep
		out.Endpoints[id] = &cp
	}
	return out
}

// observeCap advances the id counter past a capability id seen in a
// mutation, so that counters are recoverable from the log alone.
func (s *State) observeCap(id capability.ID) {
	if id >= s.nextCap {
		s.nextCap = id + 1
	}
}
