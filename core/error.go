package core

import "errors"

// Kind classifies an error by how the dispatcher reacts to it.
type Kind int

const (
	// KindInternal is anything unclassified. It is logged and never shown to clients.
	KindInternal Kind = iota
	// KindValidation marks a missing or empty required field. The event is dropped.
	KindValidation
	// KindAuthorization marks a request between users that are not contacts.
	// It is surfaced to the requester.
	KindAuthorization
	// KindNotFound marks a reference to an unknown user, room or thread.
	KindNotFound
	// KindTransport marks a write to a channel that is gone.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	msg  string
	// Sensitive is a flag to indicate if the error is sensitive or not.
	// If it is not, it can be returned to the client.
	Sensitive bool
}

func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func NewSensitiveError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg, Sensitive: true}
}

func (e *Error) Error() string {
	return e.msg
}

var (
	ErrEmptyName        = NewError(KindValidation, "display name is required")
	ErrEmptyText        = NewError(KindValidation, "text is required")
	ErrMalformedEvent   = NewError(KindValidation, "malformed event")
	ErrUnknownEventType = NewError(KindValidation, "unknown event type")
	ErrNotClaimed       = NewError(KindValidation, "identity not claimed")
	ErrSelfContact      = NewError(KindValidation, "cannot add yourself as a contact")
	ErrUnknownUser      = NewError(KindNotFound, "user not found")
	ErrUnknownConn      = NewSensitiveError(KindNotFound, "connection not registered")
	ErrNotContacts      = NewError(KindAuthorization, "users are not contacts")
	ErrConnGone         = NewSensitiveError(KindTransport, "connection is not writable")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns a message that is safe to show to a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && !e.Sensitive {
		return e.msg
	}
	return "internal error"
}
