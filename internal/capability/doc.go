// Package capability implements unforgeable capabilities, per-process
// capability spaces, and the single access gate (Check) that every
// privileged kernel operation calls before acting.
//
// Capabilities are minted only by the kernel. A capability derived from
// another, by grant or derive, carries a permission set that is a
// non-strict subset of its source; Derive refuses anything else, so
// amplification is impossible by construction.
//
// # Revocation
//
// Every derived capability records its Lineage: for each ancestor from
// the root down to its direct source, the ancestor's revocation generation
// at the time of derivation. Revoking a capability bumps its generation in
// the kernel's revocation table, an O(1) operation. Check walks the
// lineage and rejects any capability whose recorded generation no longer
// matches, which invalidates the whole subtree at once.
package capability
