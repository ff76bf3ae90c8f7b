// Package axiom is the verification layer: the SysLog audit trail, the
// hash-chained CommitLog that is the sole source of truth for kernel
// state, and the Gateway that sequences every privileged operation
// through both.
//
// # Gateway contract
//
// For each syscall the Gateway, holding its single-writer lock:
//
//  1. logs the request to the SysLog
//  2. runs the kernel function, which validates capabilities and returns
//     the mutations it intends, without applying them
//  3. appends one Commit per mutation, tagged with the request's EventID
//  4. applies each mutation to live state
//  5. logs the response
//
// A kernel function that fails produces zero commits. No other path
// mutates process, capability or endpoint state.
//
// # Commit ids
//
// A commit's id is the domain-separated blake2b-256 digest of the
// canonical JSON of {prev, seq, timestamp, kind, payload}. caused_by is
// audit metadata and is not hashed: two hosts replaying the same
// mutations converge even though their SysLogs differ.
package axiom
