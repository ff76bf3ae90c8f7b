package kernel

import (
	"context"
	"errors"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/ipc"
)

var (
	// ErrNoSuchProcess is returned for an unknown or exited target pid.
	ErrNoSuchProcess = errors.New("no such process")

	// ErrZombie is returned when an exited process issues a syscall.
	ErrZombie = errors.New("process has exited")

	// ErrUnknownSyscall is returned by Decode for an unknown opcode.
	ErrUnknownSyscall = errors.New("unknown syscall")

	// ErrInvalidArgument is returned for out-of-range syscall arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Errno values returned by the raw syscall surface. Zero and positive
// results are success.
const (
	EINVALIDSLOT     int64 = -1
	EWRONGTYPE       int64 = -2
	EINSUFFICIENT    int64 = -3
	EEXPIRED         int64 = -4
	EREVOKED         int64 = -5
	EAMPLIFY         int64 = -6
	EINVALIDENDPOINT int64 = -7
	EPERM            int64 = -8
	EDISCONNECTED    int64 = -9
	EWOULDBLOCK      int64 = -10
	ENOCALL          int64 = -11
	ENOPROC          int64 = -12
	ESPACEFULL       int64 = -13
	EQUEUEFULL       int64 = -14
	ENOSYS           int64 = -15
	EINVAL           int64 = -16
	EZOMBIE          int64 = -17
	EINTR            int64 = -18
	EIO              int64 = -19
)

var errnoNames = map[int64]string{
	EINVALIDSLOT:     "EINVALIDSLOT",
	EWRONGTYPE:       "EWRONGTYPE",
	EINSUFFICIENT:    "EINSUFFICIENT",
	EEXPIRED:         "EEXPIRED",
	EREVOKED:         "EREVOKED",
	EAMPLIFY:         "EAMPLIFY",
	EINVALIDENDPOINT: "EINVALIDENDPOINT",
	EPERM:            "EPERM",
	EDISCONNECTED:    "EDISCONNECTED",
	EWOULDBLOCK:      "EWOULDBLOCK",
	ENOCALL:          "ENOCALL",
	ENOPROC:          "ENOPROC",
	ESPACEFULL:       "ESPACEFULL",
	EQUEUEFULL:       "EQUEUEFULL",
	ENOSYS:           "ENOSYS",
	EINVAL:           "EINVAL",
	EZOMBIE:          "EZOMBIE",
	EINTR:            "EINTR",
	EIO:              "EIO",
}

// ErrnoName returns the symbolic name of a negative result.
func ErrnoName(code int64) string {
	if name, ok := errnoNames[code]; ok {
		return name
	}
	return "EUNKNOWN"
}

// ParseErrno is the inverse of ErrnoName.
func ParseErrno(name string) (int64, bool) {
	for code, n := range errnoNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// Errno maps an error to its syscall result code. IPC errors are matched
// first: PermissionDenied wraps a capability error.
func Errno(err error) int64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ipc.ErrPermissionDenied):
		return EPERM
	case errors.Is(err, ipc.ErrInvalidEndpoint):
		return EINVALIDENDPOINT
	case errors.Is(err, ipc.ErrDisconnected):
		return EDISCONNECTED
	case errors.Is(err, ipc.ErrWouldBlock):
		return EWOULDBLOCK
	case errors.Is(err, ipc.ErrNoCall):
		return ENOCALL
	case errors.Is(err, ipc.ErrQueueFull):
		return EQUEUEFULL
	case errors.Is(err, capability.ErrInvalidSlot):
		return EINVALIDSLOT
	case errors.Is(err, capability.ErrWrongType):
		return EWRONGTYPE
	case errors.Is(err, capability.ErrInsufficientRights):
		return EINSUFFICIENT
	case errors.Is(err, capability.ErrExpired):
		return EEXPIRED
	case errors.Is(err, capability.ErrRevoked):
		return EREVOKED
	case errors.Is(err, capability.ErrCannotAmplify):
		return EAMPLIFY
	case errors.Is(err, capability.ErrSpaceFull):
		return ESPACEFULL
	case errors.Is(err, ErrNoSuchProcess):
		return ENOPROC
	case errors.Is(err, ErrZombie):
		return EZOMBIE
	case errors.Is(err, ErrUnknownSyscall):
		return ENOSYS
	case errors.Is(err, ErrInvalidArgument):
		return EINVAL
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return EINTR
	case errors.Is(err, axiom.ErrDiverged):
		return EIO
	default:
		return EIO
	}
}
