package core

import (
	"slices"
	"sync"
)

type connState struct {
	rooms   []RoomKey
	user    UserID
	claimed bool
}

// ConnRegistry tracks live connections, the rooms each was attached to,
// and the transient connection to user binding. The binding is kept here,
// apart from the User record, so that a user outlives any one socket.
type ConnRegistry struct {
	mu    sync.RWMutex
	conns map[ConnID]*connState
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{conns: make(map[ConnID]*connState)}
}

// Attach records that conn belongs to room. The connection entry is created
// on first attach.
func (r *ConnRegistry) Attach(conn ConnID, room RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[conn]
	if !ok {
		st = &connState{}
		r.conns[conn] = st
	}
	if !slices.Contains(st.rooms, room) {
		st.rooms = append(st.rooms, room)
	}
}

// Detach forgets conn and returns the rooms it was attached to.
// Detaching an unknown connection returns nil, false.
func (r *ConnRegistry) Detach(conn ConnID) ([]RoomKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[conn]
	if !ok {
		return nil, false
	}
	delete(r.conns, conn)
	return st.rooms, true
}

// Rooms returns the rooms conn is attached to, in attach order.
func (r *ConnRegistry) Rooms(conn ConnID) []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.conns[conn]
	if !ok {
		return nil
	}
	return slices.Clone(st.rooms)
}

// HomeRoom returns the first room conn was attached to.
func (r *ConnRegistry) HomeRoom(conn ConnID) (RoomKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.conns[conn]
	if !ok || len(st.rooms) == 0 {
		return "", false
	}
	return st.rooms[0], true
}

// Bind associates conn with user. It fails when conn is not registered,
// which happens when the socket closed while the claim was in flight.
func (r *ConnRegistry) Bind(conn ConnID, user UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[conn]
	if !ok {
		return false
	}
	st.user = user
	st.claimed = true
	return true
}

// UserOf returns the user conn has claimed, if any.
func (r *ConnRegistry) UserOf(conn ConnID) (UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.conns[conn]
	if !ok || !st.claimed {
		return "", false
	}
	return st.user, true
}

// Unbind clears the binding of conn and returns the user it pointed to.
// Only the first of repeated calls reports ok.
func (r *ConnRegistry) Unbind(conn ConnID) (UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[conn]
	if !ok || !st.claimed {
		return "", false
	}
	user := st.user
	st.user = ""
	st.claimed = false
	return user, true
}

func (r *ConnRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
