package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"
)

// Registries groups the shared state the dispatcher routes into. Each
// registry guards itself; the dispatcher holds no lock of its own.
type Registries struct {
	Conns    *ConnRegistry
	Users    *Identity
	Contacts *ContactGraph
	Rooms    *RoomEngine
	DMs      *DMRouter
}

// NewRegistries builds an empty set of registries that deliver through t.
func NewRegistries(t Transport, roomCapacity, dmCapacity int) Registries {
	conns := NewConnRegistry()
	users := NewIdentity(conns)
	contacts := NewContactGraph(users)
	return Registries{
		Conns:    conns,
		Users:    users,
		Contacts: contacts,
		Rooms:    NewRoomEngine(t, roomCapacity),
		DMs:      NewDMRouter(contacts, users, t, dmCapacity),
	}
}

// Dispatcher classifies inbound events and drives the registries. Events from
// one connection, and its Disconnect, must be handed in one at a time;
// different connections may call concurrently.
type Dispatcher struct {
	Registries
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
		d.DMs.now = now
		d.Users.now = now
	}
}

func NewDispatcher(reg Registries, t Transport, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		Registries: reg,
		transport:  t,
		logger:     slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect registers a new connection in room. No identity is assumed until
// the connection sends an identify event.
func (d *Dispatcher) Connect(conn ConnID, room RoomKey) {
	d.Conns.Attach(conn, room)
	d.logger.Debug("connection opened", slog.Int64("conn", int64(conn)), slog.String("room", string(room)))
}

// TransportError records a transport failure. Teardown is left to Disconnect.
func (d *Dispatcher) TransportError(conn ConnID, err error) {
	d.logger.Error("transport error", slog.Int64("conn", int64(conn)), slog.String("error", err.Error()))
}

// HandleEvent decodes one raw frame and routes it. Malformed, unknown or
// failing events are logged and dropped; they never affect the connection.
func (d *Dispatcher) HandleEvent(conn ConnID, raw []byte) {
	logger := d.logger.With(slog.Int64("conn", int64(conn)))
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("handler panic: %v", r), slog.String("stack", string(debug.Stack())))
		}
	}()

	e, err := DecodeInbound(raw)
	if err != nil {
		logger.Warn("dropped event", slog.String("error", err.Error()))
		return
	}
	if err := d.Dispatch(conn, e); err != nil {
		level := slog.LevelWarn
		if KindOf(err) == KindInternal {
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, fmt.Sprintf("handler(%s): %v", e.EventType(), err),
			slog.String("kind", KindOf(err).String()))
	}
}

// Dispatch routes a decoded event. A connection that has not identified
// itself gets empty answers to queries; everything else it sends is refused
// with ErrNotClaimed.
func (d *Dispatcher) Dispatch(conn ConnID, e Inbound) error {
	if id, ok := e.(*Identify); ok {
		return d.identify(conn, id)
	}

	user, claimed := d.Conns.UserOf(conn)
	if !claimed {
		return d.unclaimed(conn, e)
	}

	switch e := e.(type) {
	case *RoomChat:
		return d.roomChat(conn, user, e)
	case *AddContact:
		return d.addContact(user, e)
	case *RemoveContact:
		return d.removeContact(user, e)
	case *GetContacts:
		return d.send(conn, ContactsListPayload{Type: ContactsListEvent, Contacts: d.contactViews(d.Contacts.ContactsOf(user), false)})
	case *GetMutuals:
		return d.send(conn, ContactsListPayload{
			Type:     MutualsListEvent,
			UserID:   e.UserID,
			Contacts: d.contactViews(d.Contacts.Mutuals(user, e.UserID), false),
		})
	case *GetOnlineContacts:
		return d.send(conn, ContactsListPayload{Type: OnlineContactsListEvent, Contacts: d.contactViews(d.Contacts.ContactsOf(user), true)})
	case *GetContactsInRoom:
		return d.contactsInRoom(conn, user)
	case *SendDirectMessage:
		return d.directMessage(conn, user, e)
	case *GetDMHistory:
		return d.dmHistory(conn, user, e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}
}

func (d *Dispatcher) unclaimed(conn ConnID, e Inbound) error {
	switch e := e.(type) {
	case *GetContacts:
		return d.send(conn, ContactsListPayload{Type: ContactsListEvent, Contacts: []ContactView{}})
	case *GetMutuals:
		return d.send(conn, ContactsListPayload{Type: MutualsListEvent, UserID: e.UserID, Contacts: []ContactView{}})
	case *GetOnlineContacts:
		return d.send(conn, ContactsListPayload{Type: OnlineContactsListEvent, Contacts: []ContactView{}})
	case *GetContactsInRoom:
		room, _ := d.Conns.HomeRoom(conn)
		return d.send(conn, ContactsListPayload{Type: ContactsInRoomListEvent, Room: room, Contacts: []ContactView{}})
	default:
		return ErrNotClaimed
	}
}

func (d *Dispatcher) identify(conn ConnID, e *Identify) error {
	_, bound := d.Conns.UserOf(conn)
	user, wentOnline, err := d.Users.ClaimOrResume(conn, e.Name, e.UserID)
	if err != nil {
		return err
	}
	if err := d.send(conn, UserIDAssignedPayload{Type: UserIDAssignedEvent, UserID: user.ID, Username: user.Name}); err != nil {
		return err
	}
	if bound {
		return nil
	}

	for _, room := range d.Conns.Rooms(conn) {
		if err := d.enterRoom(conn, user, room); err != nil {
			return err
		}
	}
	if wentOnline {
		d.announcePresence(user)
	}
	d.sendContactPresence(conn, user.ID)
	return nil
}

// enterRoom runs the join protocol: membership, history replay to the joiner,
// a welcome listing the other occupants, then the join notice to everyone else.
func (d *Dispatcher) enterRoom(conn ConnID, user UserView, room RoomKey) error {
	var others []string
	for _, m := range d.Users.RoomMembers(room) {
		if m.ID != user.ID {
			others = append(others, m.Name)
		}
	}

	// A further socket of a user already present is not announced.
	first := d.Users.MarkRoomMembership(user.ID, room, true) == 1
	var welcome []any
	if len(others) > 0 {
		welcome = append(welcome, NewSystemNotice("Users in room: "+JoinNames(others), d.now()))
	}
	if _, err := d.Rooms.JoinWithHistory(conn, room, welcome...); err != nil {
		return err
	}
	if !first {
		return nil
	}
	_, err := d.Rooms.Broadcast(room, NewSystemNotice(user.Name+" joined the room", d.now()), conn)
	return err
}

func (d *Dispatcher) roomChat(conn ConnID, user UserID, e *RoomChat) error {
	room, ok := d.Conns.HomeRoom(conn)
	if !ok {
		return fmt.Errorf("room chat: %w", ErrUnknownConn)
	}
	u, ok := d.Users.Get(user)
	if !ok {
		return fmt.Errorf("room chat: %w", ErrUnknownUser)
	}
	_, err := d.Rooms.Post(room, ChatMessage{
		Username:  u.Name,
		Text:      e.Text,
		Timestamp: NewTimestamp(d.now()),
	})
	return err
}

func (d *Dispatcher) addContact(user UserID, e *AddContact) error {
	key := e.Key()
	target, ok := d.Users.Lookup(key)
	if !ok {
		return d.sendToUsers(ContactErrorPayload{Type: ContactErrorEvent, Target: key, Error: ErrUnknownUser.Error()}, user)
	}
	if err := d.Contacts.Add(user, target.ID); err != nil {
		return d.sendToUsers(ContactErrorPayload{Type: ContactErrorEvent, Target: key, Error: PublicMessage(err)}, user)
	}
	self, _ := d.Users.Get(user)
	if err := d.sendToUsers(ContactChangedPayload{Type: ContactAddedEvent, Contact: target.Contact()}, user); err != nil {
		return err
	}
	return d.sendToUsers(ContactChangedPayload{Type: ContactAddedEvent, Contact: self.Contact()}, target.ID)
}

func (d *Dispatcher) removeContact(user UserID, e *RemoveContact) error {
	d.Contacts.Remove(user, e.UserID)
	other, ok := d.Users.Get(e.UserID)
	if !ok {
		other = UserView{ID: e.UserID}
	}
	if err := d.sendToUsers(ContactChangedPayload{Type: ContactRemovedEvent, Contact: other.Contact()}, user); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	self, _ := d.Users.Get(user)
	return d.sendToUsers(ContactChangedPayload{Type: ContactRemovedEvent, Contact: self.Contact()}, other.ID)
}

func (d *Dispatcher) contactsInRoom(conn ConnID, user UserID) error {
	room, _ := d.Conns.HomeRoom(conn)
	var inRoom []UserID
	for _, c := range d.Contacts.ContactsOf(user) {
		if d.Users.InRoom(c, room) {
			inRoom = append(inRoom, c)
		}
	}
	return d.send(conn, ContactsListPayload{Type: ContactsInRoomListEvent, Room: room, Contacts: d.contactViews(inRoom, false)})
}

func (d *Dispatcher) directMessage(conn ConnID, user UserID, e *SendDirectMessage) error {
	_, err := d.DMs.Send(user, conn, e.To, e.Text)
	if err == nil {
		return nil
	}
	if KindOf(err) == KindAuthorization {
		if sendErr := d.send(conn, DMErrorPayload{Type: DMErrorEvent, UserID: e.To, Error: PublicMessage(err)}); sendErr != nil {
			return sendErr
		}
	}
	return err
}

func (d *Dispatcher) dmHistory(conn ConnID, user UserID, e *GetDMHistory) error {
	msgs, err := d.DMs.History(user, e.UserID)
	if err != nil {
		if sendErr := d.send(conn, DMErrorPayload{Type: DMErrorEvent, UserID: e.UserID, Error: PublicMessage(err)}); sendErr != nil {
			return sendErr
		}
		return err
	}
	return d.send(conn, DMHistoryPayload{Type: DMHistoryEvent, UserID: e.UserID, Messages: msgs})
}

// Disconnect tears conn down: leave notices, identity detach, offline
// presence, registry removal. It must not overlap HandleEvent for the same
// conn. Running it twice for one connection is a no-op the second time.
func (d *Dispatcher) Disconnect(conn ConnID) {
	logger := d.logger.With(slog.Int64("conn", int64(conn)))

	if uid, claimed := d.Conns.UserOf(conn); claimed {
		u, _ := d.Users.Get(uid)
		for _, room := range d.Conns.Rooms(conn) {
			if !d.Rooms.IsMember(conn, room) {
				continue
			}
			// Only the user's last socket in the room is announced.
			if d.Users.MarkRoomMembership(uid, room, false) > 0 {
				d.Rooms.Leave(conn, room)
				continue
			}
			if _, err := d.Rooms.LeaveWithNotice(conn, room, NewSystemNotice(u.Name+" left the room", d.now())); err != nil {
				logger.Error(fmt.Sprintf("leave %s: %v", room, err))
			}
		}
	}

	user, wentOffline, ok := d.Users.Detach(conn)
	if ok && wentOffline {
		d.announcePresence(user)
	}
	if _, ok := d.Conns.Detach(conn); ok {
		logger.Debug("connection closed")
	}
}

// announcePresence tells every online contact of user about its current state.
func (d *Dispatcher) announcePresence(user UserView) {
	payload := PresencePayload{Type: PresenceUpdateEvent, UserID: user.ID, Username: user.Name, Online: user.Online}
	if err := d.sendToUsers(payload, d.Contacts.ContactsOf(user.ID)...); err != nil {
		d.logger.Error(fmt.Sprintf("presence(%s): %v", user.ID, err))
	}
}

// sendContactPresence tells conn which of user's contacts are online.
func (d *Dispatcher) sendContactPresence(conn ConnID, user UserID) {
	for _, c := range d.Contacts.ContactsOf(user) {
		v, ok := d.Users.Get(c)
		if !ok || !v.Online {
			continue
		}
		payload := PresencePayload{Type: PresenceUpdateEvent, UserID: v.ID, Username: v.Name, Online: true}
		if err := d.send(conn, payload); err != nil {
			d.logger.Error(fmt.Sprintf("presence(%s): %v", v.ID, err))
		}
	}
}

func (d *Dispatcher) contactViews(ids []UserID, onlineOnly bool) []ContactView {
	out := make([]ContactView, 0, len(ids))
	for _, id := range ids {
		v, ok := d.Users.Get(id)
		if !ok {
			v = UserView{ID: id}
		}
		if onlineOnly && !v.Online {
			continue
		}
		out = append(out, v.Contact())
	}
	return out
}

func (d *Dispatcher) send(conn ConnID, v any) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	if !d.transport.Send(conn, b) {
		d.logger.Debug("dropped frame", slog.Int64("conn", int64(conn)), slog.String("error", ErrConnGone.Error()))
	}
	return nil
}

// sendToUsers serializes v once and delivers it to every live socket of users.
func (d *Dispatcher) sendToUsers(v any, users ...UserID) error {
	b, err := encode(v)
	if err != nil {
		return err
	}
	for _, u := range users {
		fanOut(d.transport, b, d.Users.Sockets(u)...)
	}
	return nil
}
