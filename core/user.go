package core

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
)

// User is the durable record of a person. Users are never deleted so that
// history stays attributable.
type User struct {
	ID        UserID
	Name      string
	Online    bool
	CreatedAt time.Time
	seq       uint64
	sockets   map[ConnID]struct{}
	// rooms counts this user's sockets per room.
	rooms map[RoomKey]int
}

func (u *User) view() UserView {
	return UserView{ID: u.ID, Name: u.Name, Online: u.Online}
}

// UserView is a snapshot of a User that is safe to hand out.
type UserView struct {
	ID     UserID `json:"user_id"`
	Name   string `json:"username"`
	Online bool   `json:"online"`
}

func (v UserView) Contact() ContactView {
	return ContactView{UserID: v.ID, Username: v.Name, Online: v.Online}
}

type roomMember struct {
	user UserID
	seq  uint64
}

// Identity owns user records, socket aggregation, presence and the
// user-level room membership used for presence queries.
type Identity struct {
	mu      sync.RWMutex
	users   map[UserID]*User
	members map[RoomKey]map[UserID]uint64
	conns   *ConnRegistry
	seq     uint64
	newID   func() UserID
	now     func() time.Time
}

func NewIdentity(conns *ConnRegistry) *Identity {
	return &Identity{
		users:   make(map[UserID]*User),
		members: make(map[RoomKey]map[UserID]uint64),
		conns:   conns,
		newID:   newUserID,
		now:     time.Now,
	}
}

// ClaimOrResume binds conn to a user under the given display name.
//
// A connection that already has a user just renames it. Otherwise resume, when
// it names a known user, attaches conn to that user; anything else allocates a
// new user. The returned flag is true only when conn is the first live socket
// of the user, i.e. the user went from offline to online.
func (m *Identity) ClaimOrResume(conn ConnID, name string, resume UserID) (UserView, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return UserView{}, false, ErrEmptyName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if uid, ok := m.conns.UserOf(conn); ok {
		if u, ok := m.users[uid]; ok {
			u.Name = name
			wentOnline := m.attach(u, conn)
			return u.view(), wentOnline, nil
		}
	}

	u, ok := m.users[resume]
	if !ok {
		m.seq++
		u = &User{
			ID:        m.newID(),
			CreatedAt: m.now(),
			seq:       m.seq,
			sockets:   make(map[ConnID]struct{}),
			rooms:     make(map[RoomKey]int),
		}
	}
	if !m.conns.Bind(conn, u.ID) {
		return UserView{}, false, ErrUnknownConn
	}
	m.users[u.ID] = u
	u.Name = name
	wentOnline := m.attach(u, conn)
	return u.view(), wentOnline, nil
}

func (m *Identity) attach(u *User, conn ConnID) bool {
	if _, ok := u.sockets[conn]; ok {
		return false
	}
	first := len(u.sockets) == 0
	u.sockets[conn] = struct{}{}
	u.Online = true
	return first
}

// Detach removes conn from its user's sockets. wentOffline is true iff that was
// the user's last live socket. A second call for the same conn returns ok == false.
func (m *Identity) Detach(conn ConnID) (user UserView, wentOffline bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uid, ok := m.conns.Unbind(conn)
	if !ok {
		return UserView{}, false, false
	}
	u, ok := m.users[uid]
	if !ok {
		return UserView{}, false, false
	}
	if _, had := u.sockets[conn]; !had {
		return u.view(), false, true
	}
	delete(u.sockets, conn)
	if len(u.sockets) == 0 {
		u.Online = false
		wentOffline = true
	}
	return u.view(), wentOffline, true
}

// MarkRoomMembership records that one socket of user joined or left room and
// returns how many of the user's sockets are in room afterwards. The user
// stays a member of room while that count is above zero.
func (m *Identity) MarkRoomMembership(user UserID, room RoomKey, joined bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[user]
	if !ok {
		return 0
	}
	if joined {
		u.rooms[room]++
		if u.rooms[room] == 1 {
			if m.members[room] == nil {
				m.members[room] = make(map[UserID]uint64)
			}
			m.seq++
			m.members[room][user] = m.seq
		}
		return u.rooms[room]
	}
	if u.rooms[room] == 0 {
		return 0
	}
	u.rooms[room]--
	if n := u.rooms[room]; n > 0 {
		return n
	}
	delete(u.rooms, room)
	delete(m.members[room], user)
	if len(m.members[room]) == 0 {
		delete(m.members, room)
	}
	return 0
}

// RoomMembers returns the users present in room in the order they arrived.
func (m *Identity) RoomMembers(room RoomKey) []UserView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([]roomMember, 0, len(m.members[room]))
	for uid, seq := range m.members[room] {
		members = append(members, roomMember{user: uid, seq: seq})
	}
	slices.SortFunc(members, func(a, b roomMember) int {
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]UserView, 0, len(members))
	for _, rm := range members {
		if u, ok := m.users[rm.user]; ok {
			out = append(out, u.view())
		}
	}
	return out
}

// InRoom reports whether user currently has a socket in room.
func (m *Identity) InRoom(user UserID, room RoomKey) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[room][user]
	return ok
}

func (m *Identity) Get(user UserID) (UserView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[user]
	if !ok {
		return UserView{}, false
	}
	return u.view(), true
}

func (m *Identity) Exists(user UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.users[user]
	return ok
}

func (m *Identity) IsOnline(user UserID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[user]
	return ok && u.Online
}

// Sockets returns the live connections of user in ascending order.
func (m *Identity) Sockets(user UserID) []ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[user]
	if !ok {
		return nil
	}
	out := make([]ConnID, 0, len(u.sockets))
	for c := range u.sockets {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Lookup resolves key as a user identifier, then as a display name.
// Name matches are case-insensitive; online users win, then the earliest created.
func (m *Identity) Lookup(key string) (UserView, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return UserView{}, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if u, ok := m.users[UserID(key)]; ok {
		return u.view(), true
	}
	var best *User
	for _, u := range m.users {
		if !strings.EqualFold(u.Name, key) {
			continue
		}
		switch {
		case best == nil:
			best = u
		case u.Online != best.Online:
			if u.Online {
				best = u
			}
		case u.seq < best.seq:
			best = u
		}
	}
	if best == nil {
		return UserView{}, false
	}
	return best.view(), true
}

func (m *Identity) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}
