package kernel

import (
	"fmt"
	"math"

	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/ipc"
	"github.com/roach88/axiom/internal/state"
)

// Num is a syscall opcode.
type Num uint64

const (
	SysDebug Num = iota
	SysYield
	SysExit
	SysTime
	SysCreateEndpoint
	SysDeleteEndpoint
	SysSend
	SysRecv
	SysCall
	SysReply
	SysSendCap
	SysCapGrant
	SysCapRevoke
	SysCapDelete
	SysCapInspect
	SysCapDerive
	SysCapList
)

var numNames = [...]string{
	SysDebug:          "DEBUG",
	SysYield:          "YIELD",
	SysExit:           "EXIT",
	SysTime:           "TIME",
	SysCreateEndpoint: "CREATE_ENDPOINT",
	SysDeleteEndpoint: "DELETE_ENDPOINT",
	SysSend:           "SEND",
	SysRecv:           "RECV",
	SysCall:           "CALL",
	SysReply:          "REPLY",
	SysSendCap:        "SEND_CAP",
	SysCapGrant:       "CAP_GRANT",
	SysCapRevoke:      "CAP_REVOKE",
	SysCapDelete:      "CAP_DELETE",
	SysCapInspect:     "CAP_INSPECT",
	SysCapDerive:      "CAP_DERIVE",
	SysCapList:        "CAP_LIST",
}

func (n Num) String() string {
	if int(n) < len(numNames) {
		return numNames[n]
	}
	return fmt.Sprintf("SYS(%d)", uint64(n))
}

// ParseNum accepts a name with or without the SYS_ prefix.
func ParseNum(s string) (Num, error) {
	if len(s) > 4 && s[:4] == "SYS_" {
		s = s[4:]
	}
	for i, name := range numNames {
		if name == s {
			return Num(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSyscall, s)
}

// Syscall is a decoded syscall. The set of variants is closed.
type Syscall interface {
	Num() Num
	// Args re-encodes the variant as raw words, for the SysLog.
	Args() [4]uint64
	syscall()
}

type (
	Debug          struct{ Value uint64 }
	Yield          struct{}
	Exit           struct{ Code int64 }
	Time           struct{}
	CreateEndpoint struct{}
	DeleteEndpoint struct{ Slot capability.Slot }
	Send           struct {
		Slot capability.Slot
		Tag  uint64
		Data [2]uint64
	}
	Recv struct{ Slot capability.Slot }
	Call struct {
		Slot capability.Slot
		Tag  uint64
		Data [2]uint64
	}
	Reply struct {
		CallID ipc.CallID
		Tag    uint64
		Data   [2]uint64
	}
	SendCap struct {
		Slot    capability.Slot
		Tag     uint64
		CapSlot capability.Slot
		Data    uint64
	}
	CapGrant struct {
		Slot   capability.Slot
		Target state.PID
		Perms  capability.Perms
	}
	CapRevoke  struct{ Slot capability.Slot }
	CapDelete  struct{ Slot capability.Slot }
	CapInspect struct{ Slot capability.Slot }
	CapDerive  struct {
		Slot  capability.Slot
		Perms capability.Perms
	}
	CapList struct{}
)

func (Debug) Num() Num          { return SysDebug }
func (Yield) Num() Num          { return SysYield }
func (Exit) Num() Num           { return SysExit }
func (Time) Num() Num           { return SysTime }
func (CreateEndpoint) Num() Num { return SysCreateEndpoint }
func (DeleteEndpoint) Num() Num { return SysDeleteEndpoint }
func (Send) Num() Num           { return SysSend }
func (Recv) Num() Num           { return SysRecv }
func (Call) Num() Num           { return SysCall }
func (Reply) Num() Num          { return SysReply }
func (SendCap) Num() Num        { return SysSendCap }
func (CapGrant) Num() Num       { return SysCapGrant }
func (CapRevoke) Num() Num      { return SysCapRevoke }
func (CapDelete) Num() Num      { return SysCapDelete }
func (CapInspect) Num() Num     { return SysCapInspect }
func (CapDerive) Num() Num      { return SysCapDerive }
func (CapList) Num() Num        { return SysCapList }

func (s Debug) Args() [4]uint64          { return [4]uint64{s.Value} }
func (Yield) Args() [4]uint64            { return [4]uint64{} }
func (s Exit) Args() [4]uint64           { return [4]uint64{uint64(s.Code)} }
func (Time) Args() [4]uint64             { return [4]uint64{} }
func (CreateEndpoint) Args() [4]uint64   { return [4]uint64{} }
func (s DeleteEndpoint) Args() [4]uint64 { return [4]uint64{uint64(s.Slot)} }
func (s Send) Args() [4]uint64           { return [4]uint64{uint64(s.Slot), s.Tag, s.Data[0], s.Data[1]} }
func (s Recv) Args() [4]uint64           { return [4]uint64{uint64(s.Slot)} }
func (s Call) Args() [4]uint64           { return [4]uint64{uint64(s.Slot), s.Tag, s.Data[0], s.Data[1]} }
func (s Reply) Args() [4]uint64          { return [4]uint64{uint64(s.CallID), s.Tag, s.Data[0], s.Data[1]} }
func (s SendCap) Args() [4]uint64 {
	return [4]uint64{uint64(s.Slot), s.Tag, uint64(s.CapSlot), s.Data}
}
func (s CapGrant) Args() [4]uint64 {
	return [4]uint64{uint64(s.Slot), uint64(s.Target), uint64(s.Perms)}
}
func (s CapRevoke) Args() [4]uint64  { return [4]uint64{uint64(s.Slot)} }
func (s CapDelete) Args() [4]uint64  { return [4]uint64{uint64(s.Slot)} }
func (s CapInspect) Args() [4]uint64 { return [4]uint64{uint64(s.Slot)} }
func (s CapDerive) Args() [4]uint64  { return [4]uint64{uint64(s.Slot), uint64(s.Perms)} }
func (CapList) Args() [4]uint64      { return [4]uint64{} }

func (Debug) syscall()          {}
func (Yield) syscall()          {}
func (Exit) syscall()           {}
func (Time) syscall()           {}
func (CreateEndpoint) syscall() {}
func (DeleteEndpoint) syscall() {}
func (Send) syscall()           {}
func (Recv) syscall()           {}
func (Call) syscall()           {}
func (Reply) syscall()          {}
func (SendCap) syscall()        {}
func (CapGrant) syscall()       {}
func (CapRevoke) syscall()      {}
func (CapDelete) syscall()      {}
func (CapInspect) syscall()     {}
func (CapDerive) syscall()      {}
func (CapList) syscall()        {}

// Decode turns a raw opcode and argument words into a typed Syscall.
// Slots must fit in 32 bits and permission words must be valid.
func Decode(num uint64, args [4]uint64) (Syscall, error) {
	sc, err := decode(num, args)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func decode(num uint64, args [4]uint64) (Syscall, error) {
	slot := func(i int) (capability.Slot, error) {
		if args[i] > math.MaxUint32 {
			return 0, fmt.Errorf("%w: slot %d out of range", ErrInvalidArgument, args[i])
		}
		return capability.Slot(args[i]), nil
	}
	perms := func(i int) (capability.Perms, error) {
		p := capability.Perms(args[i])
		if args[i] > math.MaxUint8 || !p.Valid() {
			return 0, fmt.Errorf("%w: permissions %#x", ErrInvalidArgument, args[i])
		}
		return p, nil
	}

	switch Num(num) {
	case SysDebug:
		return Debug{Value: args[0]}, nil
	case SysYield:
		return Yield{}, nil
	case SysExit:
		return Exit{Code: int64(args[0])}, nil
	case SysTime:
		return Time{}, nil
	case SysCreateEndpoint:
		return CreateEndpoint{}, nil
	case SysDeleteEndpoint:
		s, err := slot(0)
		return DeleteEndpoint{Slot: s}, err
	case SysSend:
		s, err := slot(0)
		return Send{Slot: s, Tag: args[1], Data: [2]uint64{args[2], args[3]}}, err
	case SysRecv:
		s, err := slot(0)
		return Recv{Slot: s}, err
	case SysCall:
		s, err := slot(0)
		return Call{Slot: s, Tag: args[1], Data: [2]uint64{args[2], args[3]}}, err
	case SysReply:
		return Reply{CallID: ipc.CallID(args[0]), Tag: args[1], Data: [2]uint64{args[2], args[3]}}, nil
	case SysSendCap:
		s, err := slot(0)
		if err != nil {
			return nil, err
		}
		cs, err := slot(2)
		return SendCap{Slot: s, Tag: args[1], CapSlot: cs, Data: args[3]}, err
	case SysCapGrant:
		s, err := slot(0)
		if err != nil {
			return nil, err
		}
		p, err := perms(2)
		return CapGrant{Slot: s, Target: state.PID(args[1]), Perms: p}, err
	case SysCapRevoke:
		s, err := slot(0)
		return CapRevoke{Slot: s}, err
	case SysCapDelete:
		s, err := slot(0)
		return CapDelete{Slot: s}, err
	case SysCapInspect:
		s, err := slot(0)
		return CapInspect{Slot: s}, err
	case SysCapDerive:
		s, err := slot(0)
		if err != nil {
			return nil, err
		}
		p, err := perms(1)
		return CapDerive{Slot: s, Perms: p}, err
	case SysCapList:
		return CapList{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownSyscall, num)
	}
}
