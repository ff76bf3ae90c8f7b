// Package store provides SQLite-backed durability for the CommitLog and
// the SysLog.
//
// A Store is the kernel's durability collaborator: it implements
// axiom.Sink and axiom.EventSink, so every commit is on disk before the
// in-memory head advances. Commits are keyed by seq and read back in seq
// order; a chain that no longer verifies is cut at the last good commit
// by Recover, never repaired.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: an acknowledged commit survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Payloads are stored as the JSON encoding of the commit type; the id is
// recomputed from them on load, so a tampered row breaks the chain.
package store
