// Package locks implements the two advisory, per-room soft locks.
//
// Both locks expire lazily: nothing deletes an expired record, every reader
// compares ExpiresAt with its own clock and treats a stale record as absent,
// and acquisitions check-and-claim inside a single compare-and-set.
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

// Pending is the long-lived lock tying a room's remaining slot to one invitation.
type Pending struct {
	KV    storage.KV
	Clock clock.Clock
	TTL   time.Duration
}

func NewPending(kv storage.KV, clk clock.Clock, ttl time.Duration) *Pending {
	return &Pending{KV: kv, Clock: clk, TTL: ttl}
}

func decodePending(raw []byte) (*models.PendingLock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var lock models.PendingLock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return nil, fmt.Errorf("decode pending lock: %w", err)
	}
	return &lock, nil
}

// Active returns the room's live pending lock or nil.
func (p *Pending) Active(ctx context.Context, roomID string) (*models.PendingLock, error) {
	if err := validate.RoomID(roomID); err != nil {
		return nil, err
	}
	raw, err := p.KV.Get(ctx, storage.RoomKey(roomID, storage.FieldPending))
	if err != nil {
		return nil, err
	}
	lock, err := decodePending(raw)
	if err != nil {
		return nil, err
	}
	if !lock.Active(p.Clock.Now()) {
		return nil, nil
	}
	return lock, nil
}

// Set installs lock on the room. It succeeds when no live lock exists or the
// live lock belongs to the same invitation; in the latter case an already
// stamped allow-listed session is preserved.
func (p *Pending) Set(ctx context.Context, roomID string, lock models.PendingLock) (*models.PendingLock, error) {
	if err := validate.RoomID(roomID); err != nil {
		return nil, err
	}
	if err := validate.RecordID(lock.InvitationID); err != nil {
		return nil, err
	}
	now := p.Clock.Now().UTC()
	if lock.CreatedAt.IsZero() {
		lock.CreatedAt = now
	}
	if lock.ExpiresAt.IsZero() {
		lock.ExpiresAt = lock.CreatedAt.Add(p.TTL)
	}

	var stored models.PendingLock
	err := p.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldPending), func(current []byte) ([]byte, error) {
		existing, err := decodePending(current)
		if err != nil {
			return nil, err
		}
		stored = lock
		if existing.Active(now) {
			if existing.InvitationID != lock.InvitationID {
				return nil, apperr.LockConflict(apperr.ReasonPending, existing.InviteeName, existing.Remaining(now),
					"room %s is already pending another invitation", roomID)
			}
			stored.AllowedSessionID = existing.AllowedSessionID
		}
		return json.Marshal(stored)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// AllowAccept stamps sessionID as the one session allowed past the lock.
// The lock must still exist, be live and reference invitationID.
func (p *Pending) AllowAccept(ctx context.Context, roomID, invitationID, sessionID string) error {
	if err := validate.RoomID(roomID); err != nil {
		return err
	}
	if err := validate.SessionID(sessionID); err != nil {
		return err
	}
	now := p.Clock.Now()
	return p.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldPending), func(current []byte) ([]byte, error) {
		lock, err := decodePending(current)
		if err != nil {
			return nil, err
		}
		if !lock.Active(now) {
			return nil, apperr.Expired("pending lock on room %s is gone", roomID)
		}
		if lock.InvitationID != invitationID {
			return nil, apperr.LockConflict(apperr.ReasonPending, lock.InviterSessionID, lock.Remaining(now),
				"room %s is pending a different invitation", roomID)
		}
		if lock.AllowedSessionID == sessionID {
			return nil, storage.ErrAbort
		}
		if lock.AllowedSessionID != "" {
			return nil, apperr.LockConflict(apperr.ReasonPending, lock.AllowedSessionID, lock.Remaining(now),
				"invitation for room %s is already being accepted", roomID)
		}
		lock.AllowedSessionID = sessionID
		lock.AllowedAt = now.UTC()
		return json.Marshal(lock)
	})
}

// Restamp moves the accept stamp from one session to another. It fails with
// ReasonPending if the stamp is no longer held by from.
func (p *Pending) Restamp(ctx context.Context, roomID, invitationID, from, to string) error {
	if err := validate.RoomID(roomID); err != nil {
		return err
	}
	if err := validate.SessionID(to); err != nil {
		return err
	}
	now := p.Clock.Now()
	return p.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldPending), func(current []byte) ([]byte, error) {
		lock, err := decodePending(current)
		if err != nil {
			return nil, err
		}
		if !lock.Active(now) {
			return nil, apperr.Expired("pending lock on room %s is gone", roomID)
		}
		if lock.InvitationID != invitationID || lock.AllowedSessionID != from {
			return nil, apperr.LockConflict(apperr.ReasonPending, lock.AllowedSessionID, lock.Remaining(now),
				"invitation for room %s is already being accepted", roomID)
		}
		lock.AllowedSessionID = to
		lock.AllowedAt = now.UTC()
		return json.Marshal(lock)
	})
}

// Clear deletes the room's pending lock. With a non-empty invitationID only a
// lock for that invitation is removed, so a stale caller cannot clear a newer lock.
func (p *Pending) Clear(ctx context.Context, roomID, invitationID string) error {
	if err := validate.RoomID(roomID); err != nil {
		return err
	}
	return p.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldPending), func(current []byte) ([]byte, error) {
		lock, err := decodePending(current)
		if err != nil {
			return nil, err
		}
		if lock == nil {
			return nil, storage.ErrAbort
		}
		if invitationID != "" && lock.InvitationID != invitationID {
			return nil, storage.ErrAbort
		}
		return nil, nil
	})
}

// Sweep deletes the room's pending lock if it has expired.
func (p *Pending) Sweep(ctx context.Context, roomID string) (bool, error) {
	now := p.Clock.Now()
	swept := false
	err := p.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldPending), func(current []byte) ([]byte, error) {
		swept = false
		lock, err := decodePending(current)
		if err != nil {
			return nil, err
		}
		if lock == nil || lock.Active(now) {
			return nil, storage.ErrAbort
		}
		swept = true
		return nil, nil
	})
	return swept, err
}
