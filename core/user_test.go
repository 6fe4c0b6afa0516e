package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIdentity() (*Identity, *ConnRegistry) {
	conns := NewConnRegistry()
	m := NewIdentity(conns)
	n := 0
	m.newID = func() UserID {
		n++
		return UserID(fmt.Sprintf("u%02d", n))
	}
	m.now = fixedClock
	return m, conns
}

func TestConnRegistry(t *testing.T) {
	r := NewConnRegistry()
	r.Attach(1, "a")
	r.Attach(1, "b")
	r.Attach(1, "a")

	assert.Equal(t, []RoomKey{"a", "b"}, r.Rooms(1))
	home, ok := r.HomeRoom(1)
	require.True(t, ok)
	assert.Equal(t, RoomKey("a"), home)

	_, ok = r.UserOf(1)
	assert.False(t, ok, "no identity before a claim")
	assert.False(t, r.Bind(2, "u1"), "unknown connections cannot be bound")
	require.True(t, r.Bind(1, "u1"))
	user, ok := r.UserOf(1)
	require.True(t, ok)
	assert.Equal(t, UserID("u1"), user)

	user, ok = r.Unbind(1)
	require.True(t, ok)
	assert.Equal(t, UserID("u1"), user)
	_, ok = r.Unbind(1)
	assert.False(t, ok, "second unbind is a no-op")

	rooms, ok := r.Detach(1)
	require.True(t, ok)
	assert.Equal(t, []RoomKey{"a", "b"}, rooms)
	rooms, ok = r.Detach(1)
	assert.False(t, ok)
	assert.Nil(t, rooms)
	assert.Equal(t, 0, r.Len())
}

func TestClaimOrResume(t *testing.T) {
	t.Run("rejects blank names without state change", func(t *testing.T) {
		m, conns := newTestIdentity()
		conns.Attach(1, "r")
		_, _, err := m.ClaimOrResume(1, "   ", "")
		require.ErrorIs(t, err, ErrEmptyName)
		assert.Equal(t, 0, m.Len())
		_, ok := conns.UserOf(1)
		assert.False(t, ok)
	})

	t.Run("new user goes online", func(t *testing.T) {
		m, conns := newTestIdentity()
		conns.Attach(1, "r")
		u, wentOnline, err := m.ClaimOrResume(1, " Alice ", "")
		require.NoError(t, err)
		assert.True(t, wentOnline)
		assert.Equal(t, UserView{ID: "u01", Name: "Alice", Online: true}, u)
	})

	t.Run("reclaim renames and stays online", func(t *testing.T) {
		m, conns := newTestIdentity()
		conns.Attach(1, "r")
		first, _, err := m.ClaimOrResume(1, "Alice", "")
		require.NoError(t, err)
		again, wentOnline, err := m.ClaimOrResume(1, "Alicia", "")
		require.NoError(t, err)
		assert.False(t, wentOnline)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, "Alicia", again.Name)
		assert.Equal(t, 1, m.Len())
	})

	t.Run("resume from a second socket", func(t *testing.T) {
		m, conns := newTestIdentity()
		conns.Attach(1, "r")
		conns.Attach(2, "r")
		u, _, err := m.ClaimOrResume(1, "Alice", "")
		require.NoError(t, err)
		resumed, wentOnline, err := m.ClaimOrResume(2, "Alice", u.ID)
		require.NoError(t, err)
		assert.False(t, wentOnline, "second socket is not an online transition")
		assert.Equal(t, u.ID, resumed.ID)
		assert.Equal(t, []ConnID{1, 2}, m.Sockets(u.ID))
	})

	t.Run("unknown resume id allocates a new user", func(t *testing.T) {
		m, conns := newTestIdentity()
		conns.Attach(1, "r")
		u, wentOnline, err := m.ClaimOrResume(1, "Alice", "nope")
		require.NoError(t, err)
		assert.True(t, wentOnline)
		assert.NotEqual(t, UserID("nope"), u.ID)
	})

	t.Run("connection gone before claim", func(t *testing.T) {
		m, _ := newTestIdentity()
		_, _, err := m.ClaimOrResume(9, "Alice", "")
		require.ErrorIs(t, err, ErrUnknownConn)
		assert.Equal(t, 0, m.Len())
	})
}

func TestDetachPresence(t *testing.T) {
	m, conns := newTestIdentity()
	conns.Attach(1, "r")
	conns.Attach(2, "r")
	u, _, err := m.ClaimOrResume(1, "Bob", "")
	require.NoError(t, err)
	_, _, err = m.ClaimOrResume(2, "Bob", u.ID)
	require.NoError(t, err)

	view, wentOffline, ok := m.Detach(1)
	require.True(t, ok)
	assert.False(t, wentOffline)
	assert.True(t, view.Online)
	assert.True(t, m.IsOnline(u.ID))

	view, wentOffline, ok = m.Detach(2)
	require.True(t, ok)
	assert.True(t, wentOffline)
	assert.False(t, view.Online)
	assert.False(t, m.IsOnline(u.ID))

	_, _, ok = m.Detach(2)
	assert.False(t, ok, "detach is idempotent")

	// users outlive their sockets
	assert.True(t, m.Exists(u.ID))
	assert.Empty(t, m.Sockets(u.ID))
}

func TestRoomMembership(t *testing.T) {
	m, conns := newTestIdentity()
	conns.Attach(1, "r")
	conns.Attach(2, "r")
	conns.Attach(3, "r")
	alice, _, _ := m.ClaimOrResume(1, "Alice", "")
	bob, _, _ := m.ClaimOrResume(2, "Bob", "")
	m.ClaimOrResume(3, "Bob", bob.ID)

	assert.Equal(t, 1, m.MarkRoomMembership(alice.ID, "r", true))
	assert.Equal(t, 1, m.MarkRoomMembership(bob.ID, "r", true))
	assert.Equal(t, 2, m.MarkRoomMembership(bob.ID, "r", true), "Bob's second socket")

	members := m.RoomMembers("r")
	require.Len(t, members, 2)
	assert.Equal(t, "Alice", members[0].Name)
	assert.Equal(t, "Bob", members[1].Name)

	assert.Equal(t, 1, m.MarkRoomMembership(bob.ID, "r", false))
	assert.True(t, m.InRoom(bob.ID, "r"), "one of Bob's sockets is still in the room")
	assert.Zero(t, m.MarkRoomMembership(bob.ID, "r", false))
	assert.False(t, m.InRoom(bob.ID, "r"))
	assert.Zero(t, m.MarkRoomMembership(bob.ID, "r", false), "leaving twice")
	assert.Zero(t, m.MarkRoomMembership("ghost", "r", true))

	m.MarkRoomMembership(alice.ID, "r", false)
	assert.Empty(t, m.RoomMembers("r"))
	assert.False(t, m.InRoom("ghost", "r"))
}

func TestLookup(t *testing.T) {
	m, conns := newTestIdentity()
	for c := ConnID(1); c <= 3; c++ {
		conns.Attach(c, "r")
	}
	first, _, _ := m.ClaimOrResume(1, "Sam", "")
	second, _, _ := m.ClaimOrResume(2, "sam", "")
	m.ClaimOrResume(3, "Kim", "")

	u, ok := m.Lookup(string(second.ID))
	require.True(t, ok)
	assert.Equal(t, second.ID, u.ID)

	u, ok = m.Lookup("SAM")
	require.True(t, ok)
	assert.Equal(t, first.ID, u.ID, "earliest created wins among online users")

	m.Detach(1)
	u, ok = m.Lookup("sam")
	require.True(t, ok)
	assert.Equal(t, second.ID, u.ID, "online users win")

	_, ok = m.Lookup("nobody")
	assert.False(t, ok)
	_, ok = m.Lookup("  ")
	assert.False(t, ok)
}
