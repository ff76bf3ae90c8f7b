package capability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gens is a map-backed Generations for tests.
type gens map[ID]uint64

func (g gens) Generation(id ID) uint64 { return g[id] }

func rootEndpointCap() Capability {
	return Capability{ID: 1, Type: TypeEndpoint, Object: 7, Perms: PermAll}
}

func TestPerms_SubsetAndString(t *testing.T) {
	assert.True(t, PermRead.SubsetOf(PermAll))
	assert.True(t, PermNone.SubsetOf(PermRead))
	assert.False(t, PermAll.SubsetOf(PermRead|PermWrite))
	assert.Equal(t, "rw-", (PermRead | PermWrite).String())
	assert.Equal(t, "--g", PermGrant.String())

	p, err := ParsePerms("r-g")
	require.NoError(t, err)
	assert.Equal(t, PermRead|PermGrant, p)

	_, err = ParsePerms("rx")
	require.Error(t, err)
}

func TestDerive_Attenuates(t *testing.T) {
	root := rootEndpointCap()

	child, err := root.Derive(2, PermRead|PermWrite, 0)
	require.NoError(t, err)
	assert.Equal(t, PermRead|PermWrite, child.Perms)
	assert.Equal(t, []Ancestor{{ID: 1, Generation: 0}}, child.Lineage)

	grandchild, err := child.Derive(3, PermRead, 0)
	require.NoError(t, err)
	assert.True(t, grandchild.Perms.SubsetOf(child.Perms))
	assert.True(t, child.Perms.SubsetOf(root.Perms))
	parent, ok := grandchild.Parent()
	require.True(t, ok)
	assert.Equal(t, ID(2), parent)
	assert.Len(t, grandchild.Lineage, 2)
}

func TestDerive_CannotAmplify(t *testing.T) {
	readOnly := Capability{ID: 5, Type: TypeEndpoint, Object: 1, Perms: PermRead}

	_, err := readOnly.Derive(6, PermRead|PermWrite, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCannotAmplify))

	_, err = readOnly.Derive(6, Perms(0x80), 0)
	assert.True(t, errors.Is(err, ErrCannotAmplify))
}

func TestCheck_Order(t *testing.T) {
	space := NewSpace(0)
	require.NoError(t, space.Insert(0, Capability{ID: 1, Type: TypeEndpoint, Object: 1, Perms: PermRead, Expiry: 100}))

	tests := []struct {
		name     string
		slot     Slot
		required Perms
		typ      ObjectType
		now      uint64
		want     error
	}{
		{"missing slot", 9, PermRead, TypeEndpoint, 0, ErrInvalidSlot},
		{"wrong type beats rights", 0, PermWrite, TypeConsole, 0, ErrWrongType},
		{"rights beat expiry", 0, PermWrite, TypeEndpoint, 200, ErrInsufficientRights},
		{"expired", 0, PermRead, TypeEndpoint, 100, ErrExpired},
		{"ok", 0, PermRead, TypeEndpoint, 99, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check(space, gens{}, tt.slot, tt.required, tt.typ, tt.now)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheck_RevokedLineage(t *testing.T) {
	root := rootEndpointCap()
	child, err := root.Derive(2, PermRead|PermGrant, 0)
	require.NoError(t, err)
	grandchild, err := child.Derive(3, PermRead, 0)
	require.NoError(t, err)

	space := NewSpace(0)
	require.NoError(t, space.Insert(0, grandchild))

	g := gens{}
	_, err = Check(space, g, 0, PermRead, TypeEndpoint, 0)
	require.NoError(t, err)

	// Revoking the root invalidates the grandchild transitively.
	g[root.ID] = 1
	_, err = Check(space, g, 0, PermRead, TypeEndpoint, 0)
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestSpace_FreeSlots(t *testing.T) {
	space := NewSpace(4)
	require.NoError(t, space.Insert(0, rootEndpointCap()))
	require.NoError(t, space.Insert(2, rootEndpointCap()))

	slots, err := space.FreeSlots(2)
	require.NoError(t, err)
	assert.Equal(t, []Slot{1, 3}, slots)

	slot, err := space.FreeSlot(1)
	require.NoError(t, err)
	assert.Equal(t, Slot(3), slot)

	_, err = space.FreeSlots(3)
	assert.ErrorIs(t, err, ErrSpaceFull)

	assert.ErrorIs(t, space.Insert(0, rootEndpointCap()), ErrSlotOccupied)
	assert.ErrorIs(t, space.Insert(4, rootEndpointCap()), ErrSpaceFull)
	assert.Equal(t, []Slot{0, 2}, space.Slots())
}

func TestSpace_CloneIsDeep(t *testing.T) {
	child, err := rootEndpointCap().Derive(2, PermRead, 0)
	require.NoError(t, err)

	space := NewSpace(0)
	require.NoError(t, space.Insert(0, child))
	clone := space.Clone()

	clone.Remove(0)
	_, ok := space.Get(0)
	assert.True(t, ok)
	assert.Equal(t, 0, clone.Len())
}

func TestObjectType_Parse(t *testing.T) {
	typ, err := ParseObjectType("Console")
	require.NoError(t, err)
	assert.Equal(t, TypeConsole, typ)
	assert.Equal(t, "console", typ.String())

	_, err = ParseObjectType("gpu")
	require.Error(t, err)
}
