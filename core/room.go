package core

import (
	"slices"
	"sync"
)

// DefaultHistoryCapacity bounds room and DM history.
const DefaultHistoryCapacity = 100

type room struct {
	conns   map[ConnID]struct{}
	history *Ring[ChatMessage]
}

// RoomEngine owns per-room connection membership and bounded chat history,
// and fans payloads out to members. Membership changes and the broadcasts that
// iterate membership share one lock, so a broadcast never sees a half-applied
// join or leave. Delivery is non-blocking, which makes holding the lock safe.
type RoomEngine struct {
	mu        sync.RWMutex
	rooms     map[RoomKey]*room
	transport Transport
	capacity  int
}

func NewRoomEngine(transport Transport, capacity int) *RoomEngine {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &RoomEngine{
		rooms:     make(map[RoomKey]*room),
		transport: transport,
		capacity:  capacity,
	}
}

func (e *RoomEngine) getOrCreate(key RoomKey) *room {
	r, ok := e.rooms[key]
	if !ok {
		r = &room{
			conns:   make(map[ConnID]struct{}),
			history: NewRing[ChatMessage](e.capacity),
		}
		e.rooms[key] = r
	}
	return r
}

// Join attaches conn to the room, creating the room if needed.
func (e *RoomEngine) Join(conn ConnID, key RoomKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.getOrCreate(key).conns[conn] = struct{}{}
}

// JoinWithHistory attaches conn and replays the room history to it, oldest
// first, followed by trailer. The replay is queued as a single batch before any
// later broadcast can reach conn, so it is never cut short by the per-frame
// queue limit. It returns the number of history entries queued.
func (e *RoomEngine) JoinWithHistory(conn ConnID, key RoomKey, trailer ...any) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.getOrCreate(key)
	r.conns[conn] = struct{}{}
	history := r.history.Slice()
	batch := make([][]byte, 0, len(history)+len(trailer))
	for _, m := range history {
		b, err := encode(NewRoomMessagePayload(m))
		if err != nil {
			return 0, err
		}
		batch = append(batch, b)
	}
	for _, v := range trailer {
		b, err := encode(v)
		if err != nil {
			return 0, err
		}
		batch = append(batch, b)
	}
	if len(batch) == 0 || !e.transport.SendBatch(conn, batch) {
		return 0, nil
	}
	return len(history), nil
}

// IsMember reports whether conn is attached to the room.
func (e *RoomEngine) IsMember(conn ConnID, key RoomKey) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rooms[key]
	if !ok {
		return false
	}
	_, ok = r.conns[conn]
	return ok
}

// Leave detaches conn. The room entry is removed once it has no connections.
// It reports whether conn was a member.
func (e *RoomEngine) Leave(conn ConnID, key RoomKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leave(conn, key)
}

func (e *RoomEngine) leave(conn ConnID, key RoomKey) bool {
	r, ok := e.rooms[key]
	if !ok {
		return false
	}
	if _, ok := r.conns[conn]; !ok {
		return false
	}
	delete(r.conns, conn)
	if len(r.conns) == 0 {
		delete(e.rooms, key)
	}
	return true
}

// LeaveWithNotice broadcasts notice to the other members and then detaches
// conn, as one step. Nothing is sent when conn was not a member, which keeps
// repeated teardown silent.
func (e *RoomEngine) LeaveWithNotice(conn ConnID, key RoomKey, notice any) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rooms[key]
	if !ok {
		return false, nil
	}
	if _, ok := r.conns[conn]; !ok {
		return false, nil
	}
	b, err := encode(notice)
	if err == nil {
		e.deliver(r, b, conn)
	}
	e.leave(conn, key)
	return true, err
}

// Broadcast serializes msg once and writes it to every member except exclude.
// Pass NoConn to include everyone. Members whose transport is not writable are
// skipped. It returns the number of deliveries.
func (e *RoomEngine) Broadcast(key RoomKey, msg any, exclude ConnID) (int, error) {
	b, err := encode(msg)
	if err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rooms[key]
	if !ok {
		return 0, nil
	}
	return e.deliver(r, b, exclude), nil
}

func (e *RoomEngine) deliver(r *room, payload []byte, exclude ConnID) int {
	n := 0
	for c := range r.conns {
		if c == exclude {
			continue
		}
		if e.transport.Send(c, payload) {
			n++
		}
	}
	return n
}

// AppendHistory stores msg in the room's bounded history. Unknown rooms are
// ignored: a room without members is logically deleted.
func (e *RoomEngine) AppendHistory(key RoomKey, msg ChatMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rooms[key]; ok {
		r.history.Push(msg)
	}
}

// Post appends msg to history and broadcasts it to every member, sender
// included, so that history order and delivery order agree.
func (e *RoomEngine) Post(key RoomKey, msg ChatMessage) (int, error) {
	b, err := encode(NewRoomMessagePayload(msg))
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[key]
	if !ok {
		return 0, nil
	}
	r.history.Push(msg)
	return e.deliver(r, b, NoConn), nil
}

// RecentHistory returns the room's messages oldest first. It is empty for
// unknown rooms.
func (e *RoomEngine) RecentHistory(key RoomKey) []ChatMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rooms[key]
	if !ok {
		return []ChatMessage{}
	}
	return r.history.Slice()
}

// Members returns the connections attached to the room in ascending order.
func (e *RoomEngine) Members(key RoomKey) []ConnID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rooms[key]
	if !ok {
		return nil
	}
	out := make([]ConnID, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func (e *RoomEngine) Size(key RoomKey) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.rooms[key]; ok {
		return len(r.conns)
	}
	return 0
}

func (e *RoomEngine) Exists(key RoomKey) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.rooms[key]
	return ok
}

// Rooms returns the keys of all live rooms in ascending order.
func (e *RoomEngine) Rooms() []RoomKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RoomKey, 0, len(e.rooms))
	for k := range e.rooms {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
