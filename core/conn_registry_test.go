package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnRegistryRooms(t *testing.T) {
	r := NewConnRegistry()
	r.Attach(1, "a")
	r.Attach(1, "b")
	r.Attach(1, "a")

	assert.Equal(t, []RoomKey{"a", "b"}, r.Rooms(1))
	home, ok := r.HomeRoom(1)
	require.True(t, ok)
	assert.Equal(t, RoomKey("a"), home)

	rooms, ok := r.Detach(1)
	require.True(t, ok)
	assert.Equal(t, []RoomKey{"a", "b"}, rooms)
	assert.Nil(t, r.Rooms(1))
	assert.Zero(t, r.Len())

	_, ok = r.Detach(1)
	assert.False(t, ok, "second detach")
	_, ok = r.HomeRoom(1)
	assert.False(t, ok)
}

func TestConnRegistryBinding(t *testing.T) {
	r := NewConnRegistry()
	assert.False(t, r.Bind(1, "u1"), "unregistered connection")

	r.Attach(1, "a")
	_, ok := r.UserOf(1)
	assert.False(t, ok, "unclaimed")

	require.True(t, r.Bind(1, "u1"))
	user, ok := r.UserOf(1)
	require.True(t, ok)
	assert.Equal(t, UserID("u1"), user)

	user, ok = r.Unbind(1)
	require.True(t, ok)
	assert.Equal(t, UserID("u1"), user)
	_, ok = r.Unbind(1)
	assert.False(t, ok, "only the first unbind reports the user")
	_, ok = r.UserOf(1)
	assert.False(t, ok)
}
