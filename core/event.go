package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Inbound event types. A frame without a type is a room chat message.
const (
	IdentifyEvent          = "identify"
	AddContactEvent        = "add_contact"
	RemoveContactEvent     = "remove_contact"
	GetContactsEvent       = "get_contacts"
	GetMutualsEvent        = "get_mutuals"
	GetOnlineContactsEvent = "get_online_contacts"
	GetContactsInRoomEvent = "get_contacts_in_room"
	DirectMessageEvent     = "direct_message"
	GetDMHistoryEvent      = "get_dm_history"
)

// Outbound event types.
const (
	UserIDAssignedEvent     = "user_id"
	ContactAddedEvent       = "contact_added"
	ContactRemovedEvent     = "contact_removed"
	ContactErrorEvent       = "contact_error"
	ContactsListEvent       = "contacts_list"
	MutualsListEvent        = "mutuals_list"
	OnlineContactsListEvent = "online_contacts_list"
	ContactsInRoomListEvent = "contacts_in_room_list"
	DMHistoryEvent          = "dm_history"
	PresenceUpdateEvent     = "presence_update"
	DMErrorEvent            = "dm_error"
	RoomMessageEvent        = "message"
	SystemNoticeEvent       = "system"
)

// SystemName is the username carried by system notices.
const SystemName = "System"

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp is a UTC instant with millisecond precision.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Millisecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*t = NewTimestamp(parsed)
	return nil
}

// Inbound is the closed set of events a client may send.
type Inbound interface {
	EventType() string
}

type Identify struct {
	Name string `json:"name" validate:"notblank"`
	// UserID optionally resumes a known user from another socket.
	UserID UserID `json:"user_id"`
}

type AddContact struct {
	// Target is a user identifier or a display name.
	Target string `json:"target" validate:"required_without=UserID"`
	UserID UserID `json:"user_id" validate:"required_without=Target"`
}

// Key returns the lookup key, preferring Target.
func (e *AddContact) Key() string {
	if k := strings.TrimSpace(e.Target); k != "" {
		return k
	}
	return strings.TrimSpace(string(e.UserID))
}

type RemoveContact struct {
	UserID UserID `json:"user_id" validate:"notblank"`
}

type GetContacts struct{}

type GetMutuals struct {
	UserID UserID `json:"user_id" validate:"notblank"`
}

type GetOnlineContacts struct{}

type GetContactsInRoom struct{}

type SendDirectMessage struct {
	To   UserID `json:"to" validate:"notblank"`
	Text string `json:"text" validate:"required"`
}

type GetDMHistory struct {
	UserID UserID `json:"user_id" validate:"notblank"`
}

// RoomChat is the untyped default: a message to the sender's room.
type RoomChat struct {
	Text string `json:"text" validate:"required"`
}

func (*Identify) EventType() string          { return IdentifyEvent }
func (*AddContact) EventType() string        { return AddContactEvent }
func (*RemoveContact) EventType() string     { return RemoveContactEvent }
func (*GetContacts) EventType() string       { return GetContactsEvent }
func (*GetMutuals) EventType() string        { return GetMutualsEvent }
func (*GetOnlineContacts) EventType() string { return GetOnlineContactsEvent }
func (*GetContactsInRoom) EventType() string { return GetContactsInRoomEvent }
func (*SendDirectMessage) EventType() string { return DirectMessageEvent }
func (*GetDMHistory) EventType() string      { return GetDMHistoryEvent }
func (*RoomChat) EventType() string          { return "" }

func newInbound(t string) (Inbound, bool) {
	switch t {
	case "":
		return &RoomChat{}, true
	case IdentifyEvent:
		return &Identify{}, true
	case AddContactEvent:
		return &AddContact{}, true
	case RemoveContactEvent:
		return &RemoveContact{}, true
	case GetContactsEvent:
		return &GetContacts{}, true
	case GetMutualsEvent:
		return &GetMutuals{}, true
	case GetOnlineContactsEvent:
		return &GetOnlineContacts{}, true
	case GetContactsInRoomEvent:
		return &GetContactsInRoom{}, true
	case DirectMessageEvent:
		return &SendDirectMessage{}, true
	case GetDMHistoryEvent:
		return &GetDMHistory{}, true
	default:
		return nil, false
	}
}

// DecodeInbound parses one client frame into its typed event and validates it.
func DecodeInbound(raw []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	e, ok := newInbound(head.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, head.Type, err)
	}
	if err := validatePayload(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ChatMessage is a room message as stored in history.
type ChatMessage struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

// DirectMessage is a stored DM envelope. Names are resolved at send time.
type DirectMessage struct {
	From      UserID    `json:"from"`
	FromName  string    `json:"from_name"`
	To        UserID    `json:"to"`
	ToName    string    `json:"to_name"`
	Text      string    `json:"text"`
	Timestamp Timestamp `json:"timestamp"`
}

// ContactView is a contact as shown to a client.
type ContactView struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

type RoomMessagePayload struct {
	Type string `json:"type"`
	ChatMessage
}

func NewRoomMessagePayload(m ChatMessage) RoomMessagePayload {
	return RoomMessagePayload{Type: RoomMessageEvent, ChatMessage: m}
}

// NewSystemNotice builds a notice that is delivered but never kept in history.
func NewSystemNotice(text string, at time.Time) RoomMessagePayload {
	return RoomMessagePayload{
		Type: SystemNoticeEvent,
		ChatMessage: ChatMessage{
			Username:  SystemName,
			Text:      text,
			Timestamp: NewTimestamp(at),
		},
	}
}

type UserIDAssignedPayload struct {
	Type     string `json:"type"`
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
}

type ContactChangedPayload struct {
	Type    string      `json:"type"`
	Contact ContactView `json:"contact"`
}

type ContactErrorPayload struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

type ContactsListPayload struct {
	Type     string        `json:"type"`
	Room     RoomKey       `json:"room,omitempty"`
	UserID   UserID        `json:"user_id,omitempty"`
	Contacts []ContactView `json:"contacts"`
}

type DMHistoryPayload struct {
	Type     string          `json:"type"`
	UserID   UserID          `json:"user_id"`
	Messages []DirectMessage `json:"messages"`
}

type DirectMessagePayload struct {
	Type string `json:"type"`
	DirectMessage
}

type DMErrorPayload struct {
	Type   string `json:"type"`
	UserID UserID `json:"user_id"`
	Error  string `json:"error"`
}

type PresencePayload struct {
	Type     string `json:"type"`
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// JoinNames renders "A", "A and B" or "A, B and C".
func JoinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
