package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Chatter/internal/domain"
)

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRoomRegistry()

	r.Join("g1", "c1")
	r.Join("g1", "c1")

	assert.Len(t, r.Members("g1"), 1)
	assert.True(t, r.Contains("g1", "c1"))
}

func TestLeaveNotJoinedIsNoop(t *testing.T) {
	r := NewRoomRegistry()

	r.Leave("g1", "c1")
	r.Join("g1", "c1")
	r.Leave("g2", "c1")

	assert.Len(t, r.Members("g1"), 1)
}

func TestLeaveRemovesMember(t *testing.T) {
	r := NewRoomRegistry()
	r.Join("g1", "c1")
	r.Join("g1", "c2")

	r.Leave("g1", "c1")

	members := r.Members("g1")
	require.Len(t, members, 1)
	assert.Equal(t, "c2", string(members[0]))
	assert.False(t, r.Contains("g1", "c1"))
}

func TestMembersOfUnknownRoomIsEmpty(t *testing.T) {
	r := NewRoomRegistry()
	assert.Empty(t, r.Members("nowhere"))
}

func TestPurgeConnection(t *testing.T) {
	r := NewRoomRegistry()
	r.Join("g1", "c1")
	r.Join("g2", "c1")
	r.Join("g2", "c2")

	purged := r.PurgeConnection("c1")

	assert.ElementsMatch(t, []domain.RoomID{"g1", "g2"}, purged)
	assert.Empty(t, r.Members("g1"))
	assert.Len(t, r.Members("g2"), 1)

	// Purging twice is harmless.
	assert.Empty(t, r.PurgeConnection("c1"))
}
