package state

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/ir"
)

// Kind names a CommitType variant on the wire and in hashes.
type Kind string

const (
	KindGenesis           Kind = "Genesis"
	KindProcessCreated    Kind = "ProcessCreated"
	KindProcessExited     Kind = "ProcessExited"
	KindCapInserted       Kind = "CapInserted"
	KindCapRemoved        Kind = "CapRemoved"
	KindCapGranted        Kind = "CapGranted"
	KindEndpointCreated   Kind = "EndpointCreated"
	KindEndpointDestroyed Kind = "EndpointDestroyed"
)

// CommitType is the closed set of state mutations. Kernel operations
// return CommitTypes describing intended mutations; Apply interprets
// them. The interface is sealed.
type CommitType interface {
	Kind() Kind
	// Payload is the canonical form hashed into the commit id.
	Payload() ir.Object
	commitType()
}

// Genesis is commit 0 of every log. Applying it is a no-op.
type Genesis struct{}

// ProcessCreated inserts a process record and an empty capability space.
type ProcessCreated struct {
	PID    PID    `json:"pid"`
	Parent PID    `json:"parent"`
	Name   string `json:"name"`
}

// ProcessExited marks a process Zombie.
type ProcessExited struct {
	PID  PID   `json:"pid"`
	Code int64 `json:"code"`
}

// CapInserted places a capability in a process's space.
type CapInserted struct {
	PID  PID                   `json:"pid"`
	Slot capability.Slot       `json:"slot"`
	Cap  capability.Capability `json:"cap"`
}

// CapRemoved removes a capability. Revoke additionally bumps the removed
// capability's generation, invalidating everything derived from it.
type CapRemoved struct {
	PID    PID             `json:"pid"`
	Slot   capability.Slot `json:"slot"`
	Revoke bool            `json:"revoke,omitempty"`
}

// CapGranted inserts an attenuated copy of From's capability into To's
// space. Nothing is removed from the holder.
type CapGranted struct {
	From     PID                   `json:"from"`
	FromSlot capability.Slot       `json:"from_slot"`
	To       PID                   `json:"to"`
	Slot     capability.Slot       `json:"slot"`
	Cap      capability.Capability `json:"cap"`
}

// EndpointCreated adds an endpoint to the endpoint table.
type EndpointCreated struct {
	ID    EndpointID `json:"id"`
	Owner PID        `json:"owner"`
}

// EndpointDestroyed removes an endpoint from the endpoint table.
type EndpointDestroyed struct {
	ID EndpointID `json:"id"`
}

func (Genesis) commitType()           {}
func (ProcessCreated) commitType()    {}
func (ProcessExited) commitType()     {}
func (CapInserted) commitType()       {}
func (CapRemoved) commitType()        {}
func (CapGranted) commitType()        {}
func (EndpointCreated) commitType()   {}
func (EndpointDestroyed) commitType() {}

func (Genesis) Kind() Kind           { return KindGenesis }
func (ProcessCreated) Kind() Kind    { return KindProcessCreated }
func (ProcessExited) Kind() Kind     { return KindProcessExited }
func (CapInserted) Kind() Kind       { return KindCapInserted }
func (CapRemoved) Kind() Kind        { return KindCapRemoved }
func (CapGranted) Kind() Kind        { return KindCapGranted }
func (EndpointCreated) Kind() Kind   { return KindEndpointCreated }
func (EndpointDestroyed) Kind() Kind { return KindEndpointDestroyed }

func (Genesis) Payload() ir.Object { return ir.Object{} }

func (c ProcessCreated) Payload() ir.Object {
	return ir.Obj(ir.O("pid", ir.Uint(c.PID)), ir.O("parent", ir.Uint(c.Parent)), ir.O("name", ir.String(c.Name)))
}

func (c ProcessExited) Payload() ir.Object {
	return ir.Obj(ir.O("pid", ir.Uint(c.PID)), ir.O("code", ir.Int(c.Code)))
}

func (c CapInserted) Payload() ir.Object {
	return ir.Obj(ir.O("pid", ir.Uint(c.PID)), ir.O("slot", ir.Uint(c.Slot)), ir.O("cap", capValue(c.Cap)))
}

func (c CapRemoved) Payload() ir.Object {
	return ir.Obj(ir.O("pid", ir.Uint(c.PID)), ir.O("slot", ir.Uint(c.Slot)), ir.O("revoke", ir.Bool(c.Revoke)))
}

func (c CapGranted) Payload() ir.Object {
	return ir.Obj(
		ir.O("from", ir.Uint(c.From)),
		ir.O("from_slot", ir.Uint(c.FromSlot)),
		ir.O("to", ir.Uint(c.To)),
		ir.O("slot", ir.Uint(c.Slot)),
		ir.O("cap", capValue(c.Cap)),
	)
}

func (c EndpointCreated) Payload() ir.Object {
	return ir.Obj(ir.O("id", ir.Uint(c.ID)), ir.O("owner", ir.Uint(c.Owner)))
}

func (c EndpointDestroyed) Payload() ir.Object {
	return ir.Obj(ir.O("id", ir.Uint(c.ID)))
}

func capValue(c capability.Capability) ir.Object {
	lineage := make(ir.Array, len(c.Lineage))
	for i, a := range c.Lineage {
		lineage[i] = ir.Obj(ir.O("id", ir.Uint(a.ID)), ir.O("generation", ir.Uint(a.Generation)))
	}
	return ir.Obj(
		ir.O("id", ir.Uint(c.ID)),
		ir.O("type", ir.String(c.Type.String())),
		ir.O("object", ir.Uint(c.Object)),
		ir.O("perms", ir.Uint(c.Perms)),
		ir.O("lineage", lineage),
		ir.O("expiry", ir.Uint(c.Expiry)),
	)
}

// DecodeCommitType rebuilds a CommitType from its kind and JSON payload.
// Unknown kinds and malformed payloads return an error; callers attach
// the sequence number.
func DecodeCommitType(kind Kind, raw json.RawMessage) (CommitType, error) {
	var (
		ct  CommitType
		err error
	)
	switch kind {
	case KindGenesis:
		return Genesis{}, nil
	case KindProcessCreated:
		ct, err = decodeAs[ProcessCreated](raw)
	case KindProcessExited:
		ct, err = decodeAs[ProcessExited](raw)
	case KindCapInserted:
		ct, err = decodeAs[CapInserted](raw)
	case KindCapRemoved:
		ct, err = decodeAs[CapRemoved](raw)
	case KindCapGranted:
		ct, err = decodeAs[CapGranted](raw)
	case KindEndpointCreated:
		ct, err = decodeAs[EndpointCreated](raw)
	case KindEndpointDestroyed:
		ct, err = decodeAs[EndpointDestroyed](raw)
	default:
		return nil, fmt.Errorf("unknown commit kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ct, nil
}

func decodeAs[T CommitType](raw json.RawMessage) (CommitType, error) {
	var v T
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
