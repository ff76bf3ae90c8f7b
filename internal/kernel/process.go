package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/state"
)

// Spawn creates a process on behalf of the host. parent is KernelPID for
// boot processes. The HAL is asked to load binary before anything is
// committed; a refused image produces no commits.
func (k *Kernel) Spawn(parent state.PID, name string, binary []byte) (state.PID, error) {
	var pid state.PID
	err := k.internal(func(now uint64) (axiom.Outcome, error) {
		if parent != state.KernelPID {
			if err := k.requireAlive(parent); err != nil {
				return axiom.Outcome{}, err
			}
		}
		if err := k.hal.SpawnProcess(name, binary); err != nil {
			return axiom.Outcome{}, fmt.Errorf("spawn %q: %w", name, err)
		}
		pid = k.st.NextPID()
		return axiom.Outcome{
			Commits: []state.CommitType{state.ProcessCreated{PID: pid, Parent: parent, Name: name}},
			Effects: func() {
				k.procs[pid] = &ProcessMetrics{MemoryBytes: uint64(len(binary)), CreatedAt: now}
				k.logger.Info("process created", zap.Uint64("pid", uint64(pid)), zap.String("name", name))
			},
		}, nil
	})
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// Debug writes value to the kernel log.
func (k *Kernel) Debug(pid state.PID, value uint64) error {
	_, err := k.syscall(pid, Debug{Value: value}, func(uint64) (axiom.Outcome, error) {
		return axiom.Outcome{Effects: func() {
			k.logger.Info("debug", zap.Uint64("pid", uint64(pid)), zap.Uint64("value", value))
		}}, nil
	})
	return err
}

// Yield gives up the processor. The cooperative scheduler has nothing
// else to run, so it returns immediately.
func (k *Kernel) Yield(pid state.PID) error {
	_, err := k.syscall(pid, Yield{}, func(uint64) (axiom.Outcome, error) {
		return axiom.Outcome{}, nil
	})
	return err
}

// Time returns kernel time in nanoseconds.
func (k *Kernel) Time(pid state.PID) (uint64, error) {
	var t uint64
	_, err := k.syscall(pid, Time{}, func(now uint64) (axiom.Outcome, error) {
		t = now
		return axiom.Outcome{Result: int64(now)}, nil
	})
	return t, err
}

// Exit terminates pid. Endpoints it owns are destroyed first, which
// disconnects their waiters. The process stays in the table as a zombie;
// its capability space is kept for audit.
func (k *Kernel) Exit(pid state.PID, code int64) error {
	_, err := k.syscall(pid, Exit{Code: code}, func(now uint64) (axiom.Outcome, error) {
		return k.exitOutcome(pid, code, now), nil
	})
	return err
}

func (k *Kernel) exitOutcome(pid state.PID, code int64, now uint64) axiom.Outcome {
	owned := k.st.EndpointsOwnedBy(pid)
	commits := make([]state.CommitType, 0, len(owned)+1)
	for _, id := range owned {
		commits = append(commits, state.EndpointDestroyed{ID: id})
	}
	commits = append(commits, state.ProcessExited{PID: pid, Code: code})

	return axiom.Outcome{
		Commits: commits,
		Effects: func() {
			for _, id := range owned {
				k.destroyEndpoint(id)
			}
			k.wake(k.ipc.ProcessExited(pid)...)
			k.wake(pid)
			if m, ok := k.procs[pid]; ok {
				m.ExitedAt = now
			}
			k.logger.Info("process exited", zap.Uint64("pid", uint64(pid)), zap.Int64("code", code))
		},
	}
}

// Kill terminates pid on behalf of the host, as if it had called Exit.
func (k *Kernel) Kill(pid state.PID, code int64) error {
	return k.internal(func(now uint64) (axiom.Outcome, error) {
		if err := k.requireAlive(pid); err != nil {
			return axiom.Outcome{}, err
		}
		return k.exitOutcome(pid, code, now), nil
	})
}
