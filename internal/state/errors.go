package state

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes Apply failures.
type ErrorCode string

const (
	CodeInvalidCommit    ErrorCode = "INVALID_COMMIT"
	CodeProcessNotFound  ErrorCode = "PROCESS_NOT_FOUND"
	CodeEndpointNotFound ErrorCode = "ENDPOINT_NOT_FOUND"
	CodeCapability       ErrorCode = "CAPABILITY_ERROR"
)

// ApplyError reports a mutation that cannot be applied to the state.
type ApplyError struct {
	Code   ErrorCode
	Kind   Kind
	Detail string
}

func newApplyError(code ErrorCode, ct CommitType, detail string) *ApplyError {
	e := &ApplyError{Code: code, Detail: detail}
	if ct != nil {
		e.Kind = ct.Kind()
	}
	return e
}

func (e *ApplyError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Is matches on Code.
func (e *ApplyError) Is(target error) bool {
	var t *ApplyError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrInvalidCommit    = &ApplyError{Code: CodeInvalidCommit}
	ErrProcessNotFound  = &ApplyError{Code: CodeProcessNotFound}
	ErrEndpointNotFound = &ApplyError{Code: CodeEndpointNotFound}
	ErrCapability       = &ApplyError{Code: CodeCapability}
)
