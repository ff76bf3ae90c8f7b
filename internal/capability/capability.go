package capability

import (
	"fmt"
	"slices"
	"strings"
)

// ID identifies a capability globally. IDs are minted by the kernel and
// never reused.
type ID uint64

// Slot indexes a capability within one process's Space.
type Slot uint32

// ObjectType is the kind of kernel object a capability designates.
type ObjectType uint8

const (
	TypeEndpoint ObjectType = iota + 1
	TypeProcess
	TypeMemory
	TypeIrq
	TypeIoPort
	TypeConsole
)

var objectTypeNames = map[ObjectType]string{
	TypeEndpoint: "endpoint",
	TypeProcess:  "process",
	TypeMemory:   "memory",
	TypeIrq:      "irq",
	TypeIoPort:   "ioport",
	TypeConsole:  "console",
}

// String returns the lowercase type name.
func (t ObjectType) String() string {
	if name, ok := objectTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseObjectType is the inverse of ObjectType.String.
func ParseObjectType(s string) (ObjectType, error) {
	for t, name := range objectTypeNames {
		if name == strings.ToLower(s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown object type %q", s)
}

// Perms is a permission bit set.
type Perms uint8

const (
	PermRead Perms = 1 << iota
	PermWrite
	PermGrant

	PermNone Perms = 0
	PermAll        = PermRead | PermWrite | PermGrant
)

// Has reports whether every bit in required is present in p.
func (p Perms) Has(required Perms) bool {
	return p&required == required
}

// SubsetOf reports whether p grants nothing that other does not.
func (p Perms) SubsetOf(other Perms) bool {
	return p&^other == 0
}

// Valid reports whether p uses only defined bits.
func (p Perms) Valid() bool {
	return p&^PermAll == 0
}

// String renders p as "rwg" with dashes for missing bits.
func (p Perms) String() string {
	b := []byte("---")
	if p.Has(PermRead) {
		b[0] = 'r'
	}
	if p.Has(PermWrite) {
		b[1] = 'w'
	}
	if p.Has(PermGrant) {
		b[2] = 'g'
	}
	return string(b)
}

// ParsePerms accepts "rwg"-style strings; dashes and order are ignored.
func ParsePerms(s string) (Perms, error) {
	var p Perms
	for _, r := range s {
		switch r {
		case 'r':
			p |= PermRead
		case 'w':
			p |= PermWrite
		case 'g':
			p |= PermGrant
		case '-':
		default:
			return 0, fmt.Errorf("invalid permission %q in %q", r, s)
		}
	}
	return p, nil
}

// Ancestor is one link of a capability's derivation chain.
type Ancestor struct {
	ID         ID     `json:"id"`
	Generation uint64 `json:"generation"`
}

// Capability grants Perms over one kernel object.
type Capability struct {
	ID      ID         `json:"id"`
	Type    ObjectType `json:"type"`
	Object  uint64     `json:"object"`
	Perms   Perms      `json:"perms"`
	Lineage []Ancestor `json:"lineage,omitempty"`
	// Expiry is a deadline in kernel nanoseconds; zero means never.
	Expiry uint64 `json:"expiry,omitempty"`
}

// Parent returns the direct source of c, if any.
func (c Capability) Parent() (ID, bool) {
	if len(c.Lineage) == 0 {
		return 0, false
	}
	return c.Lineage[len(c.Lineage)-1].ID, true
}

// Derive mints an attenuated copy of c under a new id. The source's
// current generation is appended to the copy's lineage.
// Returns ErrCannotAmplify if perms is not a subset of c.Perms.
func (c Capability) Derive(id ID, perms Perms, sourceGen uint64) (Capability, error) {
	if !perms.Valid() || !perms.SubsetOf(c.Perms) {
		return Capability{}, &CapError{Source: c.ID, Held: c.Perms, Requested: perms}
	}
	lineage := make([]Ancestor, 0, len(c.Lineage)+1)
	lineage = append(lineage, c.Lineage...)
	lineage = append(lineage, Ancestor{ID: c.ID, Generation: sourceGen})
	return Capability{
		ID:      id,
		Type:    c.Type,
		Object:  c.Object,
		Perms:   perms,
		Lineage: lineage,
		Expiry:  c.Expiry,
	}, nil
}

// Equal reports deep equality, including lineage.
func (c Capability) Equal(o Capability) bool {
	return c.ID == o.ID && c.Type == o.Type && c.Object == o.Object &&
		c.Perms == o.Perms && c.Expiry == o.Expiry && slices.Equal(c.Lineage, o.Lineage)
}

// Clone returns a copy that shares no memory with c.
func (c Capability) Clone() Capability {
	c.Lineage = slices.Clone(c.Lineage)
	return c
}

// String is used in logs and CLI listings.
func (c Capability) String() string {
	return fmt.Sprintf("cap#%d{%s:%d %s}", c.ID, c.Type, c.Object, c.Perms)
}
