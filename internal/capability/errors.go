package capability

import (
	"errors"
	"fmt"
)

// AxiomCode categorizes Check failures.
type AxiomCode string

const (
	CodeInvalidSlot        AxiomCode = "INVALID_SLOT"
	CodeWrongType          AxiomCode = "WRONG_TYPE"
	CodeInsufficientRights AxiomCode = "INSUFFICIENT_RIGHTS"
	CodeExpired            AxiomCode = "EXPIRED"
	CodeRevoked            AxiomCode = "REVOKED"
)

// AxiomError is returned by Check. Match with errors.Is against the
// sentinels below; the slot and detail are for diagnostics only.
type AxiomError struct {
	Code   AxiomCode
	Slot   Slot
	Detail string
}

func (e *AxiomError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: slot %d: %s", e.Code, e.Slot, e.Detail)
	}
	return fmt.Sprintf("%s: slot %d", e.Code, e.Slot)
}

// Is matches on Code so wrapped errors compare equal to the sentinels.
func (e *AxiomError) Is(target error) bool {
	var t *AxiomError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrInvalidSlot        = &AxiomError{Code: CodeInvalidSlot}
	ErrWrongType          = &AxiomError{Code: CodeWrongType}
	ErrInsufficientRights = &AxiomError{Code: CodeInsufficientRights}
	ErrExpired            = &AxiomError{Code: CodeExpired}
	ErrRevoked            = &AxiomError{Code: CodeRevoked}
)

// CapError reports an attempted amplification.
type CapError struct {
	Source    ID
	Held      Perms
	Requested Perms
}

func (e *CapError) Error() string {
	return fmt.Sprintf("CANNOT_AMPLIFY: cap#%d holds %s, requested %s", e.Source, e.Held, e.Requested)
}

// Is matches ErrCannotAmplify.
func (e *CapError) Is(target error) bool {
	_, ok := target.(*CapError)
	return ok
}

// ErrCannotAmplify matches any *CapError.
var ErrCannotAmplify = &CapError{}

var (
	// ErrSlotOccupied is returned by Space.Insert for a taken slot.
	ErrSlotOccupied = errors.New("capability slot occupied")

	// ErrSpaceFull is returned when no slot below the bound is free.
	ErrSpaceFull = errors.New("capability space full")
)
