package core

import (
	"fmt"
	"sync"
	"time"
)

// ContactChecker is the authorization source for direct messages.
type ContactChecker interface {
	AreContacts(a, b UserID) bool
}

// UserResolver resolves display names and live sockets.
type UserResolver interface {
	Get(user UserID) (UserView, bool)
	Sockets(user UserID) []ConnID
}

// DMRouter delivers contact-gated direct messages and keeps bounded history
// per unordered pair of users.
type DMRouter struct {
	mu        sync.Mutex
	threads   map[PairKey]*Ring[DirectMessage]
	contacts  ContactChecker
	users     UserResolver
	transport Transport
	capacity  int
	now       func() time.Time
}

func NewDMRouter(contacts ContactChecker, users UserResolver, transport Transport, capacity int) *DMRouter {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &DMRouter{
		threads:   make(map[PairKey]*Ring[DirectMessage]),
		contacts:  contacts,
		users:     users,
		transport: transport,
		capacity:  capacity,
		now:       time.Now,
	}
}

// Send stores a message from sender to recipient and delivers it to every
// live socket of the recipient, echoing it to origin, the sender's
// originating connection. An offline recipient is not an error: the message
// stays in history. It fails with ErrNotContacts when the two are not contacts.
func (r *DMRouter) Send(sender UserID, origin ConnID, recipient UserID, text string) (DirectMessage, error) {
	if text == "" {
		return DirectMessage{}, ErrEmptyText
	}
	if !r.contacts.AreContacts(sender, recipient) {
		return DirectMessage{}, fmt.Errorf("send to %s: %w", recipient, ErrNotContacts)
	}
	from, ok := r.users.Get(sender)
	if !ok {
		return DirectMessage{}, fmt.Errorf("sender %s: %w", sender, ErrUnknownUser)
	}
	to, ok := r.users.Get(recipient)
	if !ok {
		return DirectMessage{}, fmt.Errorf("recipient %s: %w", recipient, ErrUnknownUser)
	}

	msg := DirectMessage{
		From:      from.ID,
		FromName:  from.Name,
		To:        to.ID,
		ToName:    to.Name,
		Text:      text,
		Timestamp: NewTimestamp(r.now()),
	}
	b, err := encode(DirectMessagePayload{Type: DirectMessageEvent, DirectMessage: msg})
	if err != nil {
		return DirectMessage{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := NewPairKey(sender, recipient)
	thread, ok := r.threads[key]
	if !ok {
		thread = NewRing[DirectMessage](r.capacity)
		r.threads[key] = thread
	}
	thread.Push(msg)

	fanOut(r.transport, b, r.users.Sockets(recipient)...)
	if origin != NoConn {
		r.transport.Send(origin, b)
	}
	return msg, nil
}

// History returns the thread between requester and other, oldest first.
// The same contact gate as Send applies.
func (r *DMRouter) History(requester, other UserID) ([]DirectMessage, error) {
	if !r.contacts.AreContacts(requester, other) {
		return nil, fmt.Errorf("history with %s: %w", other, ErrNotContacts)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	thread, ok := r.threads[NewPairKey(requester, other)]
	if !ok {
		return []DirectMessage{}, nil
	}
	return thread.Slice(), nil
}

// Threads returns the number of threads created so far.
func (r *DMRouter) Threads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}
