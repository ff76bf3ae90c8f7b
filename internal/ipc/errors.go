package ipc

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes IPC failures.
type ErrorCode string

const (
	CodeInvalidEndpoint  ErrorCode = "INVALID_ENDPOINT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeDisconnected     ErrorCode = "DISCONNECTED"
	CodeWouldBlock       ErrorCode = "WOULD_BLOCK"
	CodeNoCall           ErrorCode = "NO_CALL"
	CodeQueueFull        ErrorCode = "QUEUE_FULL"
)

// Error is an IPC failure. Err, when set, is the underlying cause (for
// PermissionDenied, the capability check failure).
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrInvalidEndpoint  = &Error{Code: CodeInvalidEndpoint}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrDisconnected     = &Error{Code: CodeDisconnected}
	ErrWouldBlock       = &Error{Code: CodeWouldBlock}
	ErrNoCall           = &Error{Code: CodeNoCall}
	ErrQueueFull        = &Error{Code: CodeQueueFull}
)

// PermissionDenied wraps a failed read or write check.
func PermissionDenied(cause error) error {
	return &Error{Code: CodePermissionDenied, Err: cause}
}
