package kernel

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/axiom/internal/axiom"
	"github.com/roach88/axiom/internal/capability"
	"github.com/roach88/axiom/internal/manifest"
	"github.com/roach88/axiom/internal/state"
)

// ImageLoader reads a process binary named in a manifest.
type ImageLoader func(path string) ([]byte, error)

// Booted maps manifest names to the kernel objects created for them.
type Booted struct {
	PIDs      map[string]state.PID
	Endpoints map[string]state.EndpointID
	// Slots holds each endpoint's slot in its owner's space.
	Slots map[string]capability.Slot
}

// Boot brings up the processes and endpoints in m, in manifest order.
// load may be nil, in which case every process gets an empty image.
func (k *Kernel) Boot(m *manifest.Manifest, load ImageLoader) (*Booted, error) {
	b := &Booted{
		PIDs:      make(map[string]state.PID, len(m.Processes)),
		Endpoints: make(map[string]state.EndpointID, len(m.Endpoints)),
		Slots:     make(map[string]capability.Slot, len(m.Endpoints)),
	}

	for _, p := range m.Processes {
		var image []byte
		if load != nil && p.Binary != "" {
			var err error
			if image, err = load(p.Binary); err != nil {
				return nil, fmt.Errorf("load %q: %w", p.Binary, err)
			}
		}
		pid, err := k.Spawn(state.KernelPID, p.Name, image)
		if err != nil {
			return nil, err
		}
		b.PIDs[p.Name] = pid
		if p.Memory > 0 {
			k.gw.Read(func() { k.procs[pid].MemoryBytes = p.Memory })
		}
		for _, c := range p.Caps {
			if _, err := k.MintRoot(pid, c.Type, c.Object, c.Perms); err != nil {
				return nil, fmt.Errorf("mint %s for %q: %w", c.Type, p.Name, err)
			}
		}
	}

	for _, e := range m.Endpoints {
		owner := b.PIDs[e.Owner]
		var (
			id   state.EndpointID
			slot capability.Slot
		)
		if err := k.internal(func(uint64) (axiom.Outcome, error) {
			return k.createEndpoint(owner, &id, &slot)
		}); err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", e.Name, err)
		}
		b.Endpoints[e.Name] = id
		b.Slots[e.Name] = slot

		for _, g := range e.Grants {
			var dst capability.Slot
			if err := k.internal(func(now uint64) (axiom.Outcome, error) {
				return k.grant(owner, slot, b.PIDs[g.To], g.Perms, &dst, now)
			}); err != nil {
				return nil, fmt.Errorf("grant %q to %q: %w", e.Name, g.To, err)
			}
		}
	}

	k.logger.Info("boot complete",
		zap.Int("processes", len(b.PIDs)),
		zap.Int("endpoints", len(b.Endpoints)),
		zap.Stringer("head", k.gw.CommitLog().Head().ID),
	)
	return b, nil
}
