// Package state holds the replayable kernel aggregate (process table,
// capability spaces, endpoint table, revocation table), the closed set of
// CommitType mutations, and Apply: the single function that interprets a
// mutation, used identically by the live kernel and by replay.
//
// Apply is pure with respect to its arguments. It performs no I/O, reads
// no clock and draws no randomness, so applying the same sequence of
// mutations always yields the same Hash.
package state
