// Package kernel owns live kernel state and routes every privileged
// operation through the axiom Gateway.
//
// Each operation is written as a kernel function: it validates the
// caller's capabilities against the current state and returns the
// mutations it intends as state.CommitTypes, plus volatile IPC effects.
// The Gateway appends the mutations and applies them with state.Apply,
// the same function replay uses.
//
// Two surfaces are offered. The typed methods (CreateEndpoint, Send,
// Grant, ...) return rich results and Go errors. Syscall is the raw trap
// entry: an opcode and four words in, a signed result out, negative
// results being Errno codes.
package kernel
