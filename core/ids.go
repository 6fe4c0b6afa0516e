package core

import (
	"strings"

	"github.com/google/uuid"
)

// ConnID identifies one live transport channel. IDs are never reused
// within a process.
type ConnID int64

// NoConn is passed to broadcasts that exclude nobody.
const NoConn ConnID = 0

// UserID is the stable handle of a user across reconnects and sockets.
type UserID string

// RoomKey is the opaque key of a room, derived from the request path.
type RoomKey string

// newUserID returns a time-ordered identifier. UUIDv7 values generated by one
// process are strictly increasing, so an identifier is never handed out twice.
func newUserID() UserID {
	id, err := uuid.NewV7()
	if err != nil {
		return UserID(uuid.NewString())
	}
	return UserID(id.String())
}

// PairKey is the order-independent key of a two-party thread.
type PairKey struct {
	Lo UserID
	Hi UserID
}

// NewPairKey canonicalizes {a, b} so that NewPairKey(a, b) == NewPairKey(b, a).
func NewPairKey(a, b UserID) PairKey {
	if strings.Compare(string(a), string(b)) > 0 {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

func (k PairKey) String() string {
	return string(k.Lo) + ":" + string(k.Hi)
}
