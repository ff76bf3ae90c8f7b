package ir

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the byte length of every Axiom hash.
const HashSize = 32

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainCommit = "axiom/commit/v1"
	DomainState  = "axiom/state/v1"
)

// Hash is a blake2b-256 digest. The zero value is the "no previous
// commit" marker carried by Genesis.
type Hash [HashSize]byte

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex characters, for logs and CLI output.
func (h Hash) Short() string {
	return h.String()[:12]
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(HashSize) {
		return h, fmt.Errorf("hash must be %d hex chars, got %d", hex.EncodedLen(HashSize), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	return h, nil
}

// hashWithDomain computes blake2b-256(domain || 0x00 || data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) Hash {
	buf := make([]byte, 0, len(domain)+1+len(data))
	buf = append(buf, domain...)
	buf = append(buf, 0x00)
	buf = append(buf, data...)
	return blake2b.Sum256(buf)
}

// CommitID computes the identity of a commit from its chained fields.
// CausedBy is excluded: two hosts replaying the same mutations converge to
// the same chain regardless of which syscall produced them.
func CommitID(prev Hash, seq, timestamp uint64, kind string, payload Object) (Hash, error) {
	obj := Obj(
		O("prev", String(prev.String())),
		O("seq", Uint(seq)),
		O("timestamp", Uint(timestamp)),
		O("kind", String(kind)),
		O("payload", payload),
	)
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return Hash{}, fmt.Errorf("CommitID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCommit, canonical), nil
}

// StateHash computes the digest of a canonical state snapshot.
func StateHash(snapshot Object) (Hash, error) {
	canonical, err := MarshalCanonical(snapshot)
	if err != nil {
		return Hash{}, fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}
