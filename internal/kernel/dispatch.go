package kernel

import (
	"context"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/state"
)

// Syscall is the raw entry point: an opcode and four argument words in,
// one result word out. Negative results are errno codes. Requests that do
// not decode are still recorded in the SysLog.
func (k *Kernel) Syscall(ctx context.Context, pid state.PID, num uint64, args [4]uint64) int64 {
	sc, derr := Decode(num, args)
	if derr != nil {
		res, err := k.gw.Syscall(Num(num).String(), pid, num, args, k.hal.NowNanos(), func() (axiom.Outcome, error) {
			if aerr := k.requireAlive(pid); aerr != nil {
				return axiom.Outcome{}, aerr
			}
			return axiom.Outcome{}, derr
		}, k.apply)
		return result(res.Value, err)
	}
	return k.Dispatch(ctx, pid, sc)
}

// Dispatch executes a decoded syscall. RECV and CALL block until they
// complete or ctx ends.
func (k *Kernel) Dispatch(ctx context.Context, pid state.PID, sc Syscall) int64 {
	switch s := sc.(type) {
	case Debug:
		return result(0, k.Debug(pid, s.Value))
	case Yield:
		return result(0, k.Yield(pid))
	case Exit:
		return result(0, k.Exit(pid, s.Code))
	case Time:
		t, err := k.Time(pid)
		return result(int64(t), err)
	case CreateEndpoint:
		_, slot, err := k.CreateEndpoint(pid)
		return result(int64(slot), err)
	case DeleteEndpoint:
		return result(0, k.DeleteEndpoint(pid, s.Slot))
	case Send:
		return result(0, k.Send(pid, s.Slot, s.Tag, s.Data[:]...))
	case Recv:
		got, err := k.ReceiveWait(ctx, pid, s.Slot)
		return result(int64(got.Tag), err)
	case Call:
		r, err := k.Call(ctx, pid, s.Slot, s.Tag, s.Data[:]...)
		return result(int64(r.Tag), err)
	case Reply:
		return result(0, k.Reply(pid, s.CallID, s.Tag, s.Data[:]...))
	case SendCap:
		return result(0, k.SendCap(pid, s.Slot, s.Tag, s.CapSlot, s.Data))
	case CapGrant:
		slot, err := k.Grant(pid, s.Slot, s.Target, s.Perms)
		return result(int64(slot), err)
	case CapRevoke:
		return result(0, k.Revoke(pid, s.Slot))
	case CapDelete:
		return result(0, k.Delete(pid, s.Slot))
	case CapInspect:
		c, err := k.Inspect(pid, s.Slot)
		if err != nil {
			return Errno(err)
		}
		return InspectWord(c)
	case CapDerive:
		slot, err := k.Derive(pid, s.Slot, s.Perms)
		return result(int64(slot), err)
	case CapList:
		n, err := k.CapCount(pid)
		return result(int64(n), err)
	default:
		return ENOSYS
	}
}

func result(v int64, err error) int64 {
	if err != nil {
		return Errno(err)
	}
	return v
}
