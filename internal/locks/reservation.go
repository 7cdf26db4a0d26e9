package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/validate"
	"time"
)

// Reservations is the short single-holder lock taken while a user confirms a selection.
type Reservations struct {
	KV      storage.KV
	Clock   clock.Clock
	TTL     time.Duration
	Pending *Pending
}

func NewReservations(kv storage.KV, clk clock.Clock, ttl time.Duration, pending *Pending) *Reservations {
	return &Reservations{KV: kv, Clock: clk, TTL: ttl, Pending: pending}
}

func decodeReservation(raw []byte) (*models.Reservation, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var r models.Reservation
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode reservation: %w", err)
	}
	return &r, nil
}

// Active returns the room's live reservation or nil.
func (r *Reservations) Active(ctx context.Context, roomID string) (*models.Reservation, error) {
	if err := validate.RoomID(roomID); err != nil {
		return nil, err
	}
	raw, err := r.KV.Get(ctx, storage.RoomKey(roomID, storage.FieldReservation))
	if err != nil {
		return nil, err
	}
	res, err := decodeReservation(raw)
	if err != nil {
		return nil, err
	}
	if !res.Active(r.Clock.Now()) {
		return nil, nil
	}
	return res, nil
}

// Acquire claims the room for sessionID. It succeeds when there is no live
// reservation or the caller already holds it (the hold is then refreshed).
// A room held by a pending invitation is refused with ReasonPending unless
// the caller is the allow-listed invitee.
func (r *Reservations) Acquire(ctx context.Context, roomID, sessionID, holderName string) (*models.Reservation, error) {
	if err := validate.RoomID(roomID); err != nil {
		return nil, err
	}
	if err := validate.SessionID(sessionID); err != nil {
		return nil, err
	}

	now := r.Clock.Now().UTC()
	if r.Pending != nil {
		lock, err := r.Pending.Active(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if !lock.Admits(sessionID, now) {
			return nil, apperr.LockConflict(apperr.ReasonPending, lock.InviteeName, lock.Remaining(now),
				"room %s is held for an invited roommate", roomID)
		}
	}

	claim := models.Reservation{
		ReservedBy: sessionID,
		HolderName: holderName,
		ReservedAt: now,
		ExpiresAt:  now.Add(r.TTL),
	}
	err := r.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldReservation), func(current []byte) ([]byte, error) {
		existing, err := decodeReservation(current)
		if err != nil {
			return nil, err
		}
		if existing.Active(now) && existing.ReservedBy != sessionID {
			holder := existing.HolderName
			if holder == "" {
				holder = existing.ReservedBy
			}
			return nil, apperr.LockConflict(apperr.ReasonReserved, holder, existing.Remaining(now),
				"room %s is being reserved by someone else", roomID)
		}
		return json.Marshal(claim)
	})
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// Release clears the reservation if sessionID holds it; otherwise it is a no-op.
func (r *Reservations) Release(ctx context.Context, roomID, sessionID string) (bool, error) {
	if err := validate.RoomID(roomID); err != nil {
		return false, err
	}
	if err := validate.SessionID(sessionID); err != nil {
		return false, err
	}
	released := false
	err := r.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldReservation), func(current []byte) ([]byte, error) {
		released = false
		existing, err := decodeReservation(current)
		if err != nil {
			return nil, err
		}
		if existing == nil || existing.ReservedBy != sessionID {
			return nil, storage.ErrAbort
		}
		released = true
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

// Sweep deletes the room's reservation if it has expired.
func (r *Reservations) Sweep(ctx context.Context, roomID string) (bool, error) {
	now := r.Clock.Now()
	swept := false
	err := r.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldReservation), func(current []byte) ([]byte, error) {
		swept = false
		existing, err := decodeReservation(current)
		if err != nil {
			return nil, err
		}
		if existing == nil || existing.Active(now) {
			return nil, storage.ErrAbort
		}
		swept = true
		return nil, nil
	})
	return swept, err
}
