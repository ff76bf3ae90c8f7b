package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitID_Deterministic(t *testing.T) {
	payload := Obj(O("pid", Uint(1)), O("name", String("init")))

	a, err := CommitID(Hash{}, 1, 100, "ProcessCreated", payload)
	require.NoError(t, err)
	b, err := CommitID(Hash{}, 1, 100, "ProcessCreated", payload)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestCommitID_FieldSensitivity(t *testing.T) {
	payload := Obj(O("pid", Uint(1)))
	base, err := CommitID(Hash{}, 1, 100, "ProcessExited", payload)
	require.NoError(t, err)

	tests := []struct {
		name string
		prev Hash
		seq  uint64
		ts   uint64
		kind string
	}{
		{"prev", Hash{1}, 1, 100, "ProcessExited"},
		{"seq", Hash{}, 2, 100, "ProcessExited"},
		{"timestamp", Hash{}, 1, 101, "ProcessExited"},
		{"kind", Hash{}, 1, 100, "ProcessCreated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CommitID(tt.prev, tt.seq, tt.ts, tt.kind, payload)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestDomainSeparation(t *testing.T) {
	obj := Obj(O("x", Int(1)))
	canonical, err := MarshalCanonical(obj)
	require.NoError(t, err)

	state, err := StateHash(obj)
	require.NoError(t, err)
	assert.Equal(t, hashWithDomain(DomainState, canonical), state)
	assert.NotEqual(t, hashWithDomain(DomainCommit, canonical), state)
}

func TestHash_TextRoundTrip(t *testing.T) {
	h := hashWithDomain(DomainState, []byte("abc"))
	text, err := h.MarshalText()
	require.NoError(t, err)

	var back Hash
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, h, back)
	assert.Len(t, h.Short(), 12)
}

func TestParseHash_Invalid(t *testing.T) {
	_, err := ParseHash("abc")
	require.Error(t, err)

	_, err = ParseHash("zz" + Hash{}.String()[2:])
	require.Error(t, err)
}
