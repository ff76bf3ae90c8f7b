// Package manifest compiles CUE boot manifests: the processes to spawn at
// boot, the root capabilities they start with, and the endpoints wired
// between them.
//
//	processes: [
//		{name: "init", caps: [{type: "console", object: 0, perms: "rw-"}]},
//		{name: "logger"},
//	]
//	endpoints: [
//		{name: "log", owner: "logger", grants: [{to: "init", perms: "-w-"}]},
//	]
//
// Processes are spawned in list order, so a manifest always boots to the
// same commit sequence.
package manifest

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/axiom/internal/capability"
)

//go:embed schema.cue
var schemaSource string

// Manifest is a compiled boot manifest.
type Manifest struct {
	Processes []Process
	Endpoints []Endpoint
}

// Process is one boot process.
type Process struct {
	Name   string
	Binary string
	Memory uint64
	Caps   []Cap
}

// Cap is a root capability minted for a boot process.
type Cap struct {
	Type   capability.ObjectType
	Object uint64
	Perms  capability.Perms
}

// Endpoint is created at boot, owned by Owner, with attenuated copies
// granted to other processes.
type Endpoint struct {
	Name   string
	Owner  string
	Grants []Grant
}

// Grant hands a copy of an endpoint capability to a process.
type Grant struct {
	To    string
	Perms capability.Perms
}

// CompileError locates a manifest error.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load compiles the manifest at path.
func Load(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Compile(src, path)
}

// Compile checks src against the manifest schema and converts it.
func Compile(src []byte, filename string) (*Manifest, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("manifest schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = schema.LookupPath(cue.ParsePath("#Manifest")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	m := &Manifest{}
	var err error
	if m.Processes, err = parseProcesses(v.LookupPath(cue.ParsePath("processes"))); err != nil {
		return nil, err
	}
	if m.Endpoints, err = parseEndpoints(v.LookupPath(cue.ParsePath("endpoints"))); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseProcesses(v cue.Value) ([]Process, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []Process
	for iter.Next() {
		pv := iter.Value()
		p := Process{}
		if p.Name, err = pv.LookupPath(cue.ParsePath("name")).String(); err != nil {
			return nil, formatCUEError(err)
		}
		if b := pv.LookupPath(cue.ParsePath("binary")); b.Exists() {
			if p.Binary, err = b.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
		if p.Memory, err = pv.LookupPath(cue.ParsePath("memory")).Uint64(); err != nil {
			return nil, formatCUEError(err)
		}
		if p.Caps, err = parseCaps(pv.LookupPath(cue.ParsePath("caps"))); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseCaps(v cue.Value) ([]Cap, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []Cap
	for iter.Next() {
		cv := iter.Value()
		typeName, err := cv.LookupPath(cue.ParsePath("type")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		typ, err := capability.ParseObjectType(typeName)
		if err != nil {
			return nil, &CompileError{Field: "type", Message: err.Error(), Pos: cv.Pos()}
		}
		object, err := cv.LookupPath(cue.ParsePath("object")).Uint64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		perms, err := parsePerms(cv)
		if err != nil {
			return nil, err
		}
		out = append(out, Cap{Type: typ, Object: object, Perms: perms})
	}
	return out, nil
}

func parseEndpoints(v cue.Value) ([]Endpoint, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []Endpoint
	for iter.Next() {
		ev := iter.Value()
		e := Endpoint{}
		if e.Name, err = ev.LookupPath(cue.ParsePath("name")).String(); err != nil {
			return nil, formatCUEError(err)
		}
		if e.Owner, err = ev.LookupPath(cue.ParsePath("owner")).String(); err != nil {
			return nil, formatCUEError(err)
		}
		grants := ev.LookupPath(cue.ParsePath("grants"))
		if grants.Exists() {
			gi, err := grants.List()
			if err != nil {
				return nil, formatCUEError(err)
			}
			for gi.Next() {
				gv := gi.Value()
				to, err := gv.LookupPath(cue.ParsePath("to")).String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				perms, err := parsePerms(gv)
				if err != nil {
					return nil, err
				}
				e.Grants = append(e.Grants, Grant{To: to, Perms: perms})
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func parsePerms(v cue.Value) (capability.Perms, error) {
	s, err := v.LookupPath(cue.ParsePath("perms")).String()
	if err != nil {
		return 0, formatCUEError(err)
	}
	p, err := capability.ParsePerms(s)
	if err != nil {
		return 0, &CompileError{Field: "perms", Message: err.Error(), Pos: v.Pos()}
	}
	return p, nil
}

// Validate checks cross references: process names are unique, and every
// endpoint owner and grant target names a process.
func (m *Manifest) Validate() error {
	names := make(map[string]bool, len(m.Processes))
	for _, p := range m.Processes {
		if names[p.Name] {
			return &CompileError{Field: "processes", Message: fmt.Sprintf("duplicate process %q", p.Name)}
		}
		names[p.Name] = true
	}
	endpoints := make(map[string]bool, len(m.Endpoints))
	for _, e := range m.Endpoints {
		if endpoints[e.Name] {
			return &CompileError{Field: "endpoints", Message: fmt.Sprintf("duplicate endpoint %q", e.Name)}
		}
		endpoints[e.Name] = true
		if !names[e.Owner] {
			return &CompileError{Field: "endpoints." + e.Name, Message: fmt.Sprintf("owner %q is not a process", e.Owner)}
		}
		for _, g := range e.Grants {
			if !names[g.To] {
				return &CompileError{Field: "endpoints." + e.Name, Message: fmt.Sprintf("grant target %q is not a process", g.To)}
			}
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
