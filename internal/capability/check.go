package capability

// Generations reports the current revocation generation of a capability
// id. Ids that were never revoked are at generation zero.
type Generations interface {
	Generation(id ID) uint64
}

// Check is the single gate every privileged operation calls before
// acting. Lookup order: slot exists, object type matches, every required
// permission bit is present, not expired, lineage not revoked.
//
// now is kernel time in nanoseconds.
func Check(space *Space, gens Generations, slot Slot, required Perms, expected ObjectType, now uint64) (Capability, error) {
	c, ok := space.Get(slot)
	if !ok {
		return Capability{}, &AxiomError{Code: CodeInvalidSlot, Slot: slot}
	}
	if c.Type != expected {
		return Capability{}, &AxiomError{Code: CodeWrongType, Slot: slot, Detail: "have " + c.Type.String() + ", want " + expected.String()}
	}
	if !c.Perms.Has(required) {
		return Capability{}, &AxiomError{Code: CodeInsufficientRights, Slot: slot, Detail: "have " + c.Perms.String() + ", need " + required.String()}
	}
	if c.Expiry != 0 && now >= c.Expiry {
		return Capability{}, &AxiomError{Code: CodeExpired, Slot: slot}
	}
	if Revoked(c, gens) {
		return Capability{}, &AxiomError{Code: CodeRevoked, Slot: slot}
	}
	return c, nil
}

// Revoked reports whether any ancestor of c has been revoked since c was
// derived.
func Revoked(c Capability, gens Generations) bool {
	for _, a := range c.Lineage {
		if gens.Generation(a.ID) != a.Generation {
			return true
		}
	}
	return false
}
