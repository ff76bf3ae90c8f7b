// Package ir provides the canonical value representation and content
// hashing used by the Axiom commit log and state hashing.
//
// This package imports nothing internal. Every other package that needs a
// stable byte encoding goes through MarshalCanonical, and every identity
// that must survive export, import and replay is computed here.
//
// Key constraints:
//   - NO float types anywhere; integers are int64 or uint64
//   - Object keys are ordered by UTF-16 code units (RFC 8785)
//   - Strings are NFC normalized before encoding
//   - Hashes are blake2b-256 with a versioned domain prefix
package ir
