// Package storage is the shared, tree-shaped key-value store behind the
// allocation engine. Every mutation of capacity-bounded state goes through
// Transact, an optimistic compare-and-set that is retried automatically when
// another writer changed the key in between.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrTooManyRetries is returned when Transact keeps losing the race.
	ErrTooManyRetries = errors.New("storage: transaction retries exhausted")
	// ErrAbort may be returned by a TxFunc to stop without writing and without error.
	ErrAbort = errors.New("storage: transaction aborted")
)

// TxFunc maps the current value of a key (nil when absent) to its next value.
// Returning a nil next value deletes the key. Returning an error aborts the
// transaction and the error is passed through to the caller of Transact,
// except ErrAbort which makes Transact return nil.
type TxFunc func(current []byte) (next []byte, err error)

// Snapshot is the full content of one key after a change; nil Value means deleted.
type Snapshot struct {
	Key   string
	Value []byte
}

type KV interface {
	// Get returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Transact(ctx context.Context, key string, fn TxFunc) error
	// List returns all keys under prefix with their values.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Subscribe streams snapshots of keys under prefix until cancel is called or ctx ends.
	Subscribe(ctx context.Context, prefix string) (snapshots <-chan Snapshot, cancel func(), err error)
}

// Key layout
const (
	RoomsPrefix       = "rooms/"
	InvitationsPrefix = "roommateInvitations/"
	JoinRequestPrefix = "join_requests/"
	SessionsPrefix    = "sessions/"

	FieldGuests      = "guests"
	FieldReservation = "reservation"
	FieldPending     = "pending"
)

func RoomKey(roomID, field string) string {
	return RoomsPrefix + roomID + "/" + field
}

func InvitationKey(id string) string {
	return InvitationsPrefix + id
}

func JoinRequestKey(id string) string {
	return JoinRequestPrefix + id
}

// SessionKey holds the claim that binds a session to at most one room.
func SessionKey(sessionID string) string {
	return SessionsPrefix + sessionID
}

// SplitRoomKey is the inverse of RoomKey.
func SplitRoomKey(key string) (roomID, field string, ok bool) {
	rest, found := strings.CutPrefix(key, RoomsPrefix)
	if !found {
		return "", "", false
	}
	roomID, field, ok = strings.Cut(rest, "/")
	if !ok || roomID == "" || field == "" {
		return "", "", false
	}
	return roomID, field, true
}
