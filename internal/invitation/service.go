// Package invitation coordinates two-party room commits: an inviter holds a
// room's remaining slot under a PendingLock until the named roommate accepts
// or rejects.
//
//	pending ──accept──▶ accepted
//	   │
//	   ├──reject──▶ rejected
//	   └──cancel / 24h──▶ deleted
package invitation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/locks"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/roomstate"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/validate"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// restampAfter is how long an accept stamp on the pending lock belongs to its
// session before a later accept by the invitee may take it over.
const restampAfter = time.Minute

type Service struct {
	KV      storage.KV
	Rooms   *roomstate.Store
	Pending *locks.Pending
	Clock   clock.Clock
	TTL     time.Duration
	NewID   func() string
	Log     *slog.Logger
}

func NewService(kv storage.KV, rooms *roomstate.Store, pending *locks.Pending, clk clock.Clock, ttl time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		KV:      kv,
		Rooms:   rooms,
		Pending: pending,
		Clock:   clk,
		TTL:     ttl,
		NewID:   uuid.NewString,
		Log:     log.With("component", "invitation"),
	}
}

// CreateRequest carries an optional client-chosen ID so a retried create is idempotent.
type CreateRequest struct {
	ID          string
	RoomID      string
	Inviter     models.Guest
	InviteeName string
}

func decode(raw []byte) (*models.Invitation, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var inv models.Invitation
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("decode invitation: %w", err)
	}
	return &inv, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Invitation, error) {
	raw, err := s.KV.Get(ctx, storage.InvitationKey(id))
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// Create writes a pending invitation and its PendingLock as a pair. If the
// lock cannot be taken the invitation written here is deleted again.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Invitation, error) {
	if err := validate.RoomID(req.RoomID); err != nil {
		return nil, err
	}
	if err := validate.Profile(req.Inviter); err != nil {
		return nil, err
	}
	if err := validate.InviteeName(req.InviteeName); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = s.NewID()
	}
	if err := validate.RecordID(req.ID); err != nil {
		return nil, err
	}

	spec, ok := s.Rooms.Topology.Room(req.RoomID)
	if !ok {
		return nil, apperr.NotFound("room %s does not exist", req.RoomID)
	}
	if req.Inviter.Gender != spec.Gender {
		return nil, apperr.Conflict(apperr.ReasonGender, "room %s is restricted to %s", req.RoomID, spec.Gender)
	}
	if spec.Capacity < 2 {
		return nil, apperr.Conflict(apperr.ReasonCapacity, "room %s has no slot for a roommate", req.RoomID)
	}

	taken, err := s.Rooms.FindName(ctx, req.InviteeName)
	if err != nil {
		return nil, err
	}
	if taken != "" {
		return nil, apperr.Conflict(apperr.ReasonAlreadyAssigned, "%s already has a room", req.InviteeName)
	}

	inviterRoom, err := s.Rooms.FindSession(ctx, req.Inviter.SessionID)
	if err != nil {
		return nil, err
	}
	if inviterRoom != "" && inviterRoom != req.RoomID {
		return nil, apperr.Conflict(apperr.ReasonDuplicate, "inviter is already assigned to room %s", inviterRoom)
	}
	if lock, err := s.Pending.Active(ctx, req.RoomID); err != nil {
		return nil, err
	} else if lock != nil && lock.InvitationID != req.ID {
		now := s.Clock.Now()
		return nil, apperr.LockConflict(apperr.ReasonPending, lock.InviteeName, lock.Remaining(now),
			"room %s is already held for another invitation", req.RoomID)
	}

	guests, err := s.Rooms.Guests(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	others := 0
	for _, g := range guests {
		if g.SessionID != req.Inviter.SessionID {
			others++
		}
	}
	if others+1 >= spec.Capacity {
		return nil, apperr.Conflict(apperr.ReasonCapacity, "room %s has no free slot for a roommate", req.RoomID)
	}

	now := s.Clock.Now().UTC()
	var inv models.Invitation
	created := false
	err = s.KV.Transact(ctx, storage.InvitationKey(req.ID), func(current []byte) ([]byte, error) {
		existing, err := decode(current)
		if err != nil {
			return nil, err
		}
		created = false
		if existing != nil {
			if existing.Status != models.StatusPending || existing.InviterSessionID != req.Inviter.SessionID || existing.RoomID != req.RoomID {
				return nil, apperr.Conflict(apperr.ReasonDuplicate, "invitation %s already exists", req.ID)
			}
			inv = *existing
			return nil, storage.ErrAbort
		}
		inv = models.Invitation{
			ID:               req.ID,
			RoomID:           req.RoomID,
			InviterSessionID: req.Inviter.SessionID,
			Inviter:          req.Inviter,
			InviteeName:      req.InviteeName,
			Status:           models.StatusPending,
			CreatedAt:        now,
			Notified:         true,
		}
		created = true
		return json.Marshal(inv)
	})
	if err != nil {
		return nil, err
	}

	var rb apperr.Rollback
	if created {
		rb.Add("delete invitation", func(ctx context.Context) error {
			return s.deleteIfPending(ctx, inv.ID)
		})
	}

	_, err = s.Pending.Set(ctx, req.RoomID, models.PendingLock{
		InvitationID:     inv.ID,
		InviterSessionID: inv.InviterSessionID,
		InviteeName:      inv.InviteeName,
		CreatedAt:        inv.CreatedAt,
		ExpiresAt:        inv.CreatedAt.Add(s.TTL),
	})
	if err != nil {
		rb.Run(ctx, s.Log)
		return nil, err
	}
	rb.Discard()

	s.Log.InfoContext(ctx, "invitation created", "invitation_id", inv.ID, "room_id", inv.RoomID, "created", created)
	return &inv, nil
}

// Accept admits the acceptor into the inviter's room. Until the room commit
// succeeds the invitation stays pending and Accept may be retried.
func (s *Service) Accept(ctx context.Context, id string, acceptor models.Guest) (string, error) {
	if err := validate.RecordID(id); err != nil {
		return "", err
	}
	if err := validate.Profile(acceptor); err != nil {
		return "", err
	}

	inv, err := s.live(ctx, id)
	if err != nil {
		return "", err
	}
	if inv.Status != models.StatusPending {
		return "", apperr.Conflict(apperr.ReasonNotPending, "invitation %s is already %s", id, inv.Status)
	}
	if !models.SameName(acceptor.Name, inv.InviteeName) {
		return "", apperr.Forbidden("invitation %s is addressed to someone else", id)
	}
	if acceptor.Gender != inv.Inviter.Gender {
		return "", apperr.Conflict(apperr.ReasonGender, "invitation %s is for a %s room", id, inv.Inviter.Gender)
	}
	if acceptor.SessionID == inv.InviterSessionID {
		return "", apperr.Forbidden("the inviter cannot accept their own invitation")
	}

	current, err := s.Rooms.FindSession(ctx, acceptor.SessionID)
	if err != nil {
		return "", err
	}
	if current != "" {
		return "", apperr.Conflict(apperr.ReasonDuplicate, "already assigned to room %s", current)
	}

	if err := s.allow(ctx, inv, acceptor.SessionID); err != nil {
		return "", err
	}
	if err := s.Rooms.Commit(ctx, inv.RoomID, acceptor, 0, inv.Inviter.Gender); err != nil {
		return "", err
	}

	now := s.Clock.Now().UTC()
	err = s.KV.Transact(ctx, storage.InvitationKey(id), func(current []byte) ([]byte, error) {
		latest, err := decode(current)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, apperr.NotFound("invitation %s disappeared", id)
		}
		if latest.Status != models.StatusPending {
			return nil, apperr.Conflict(apperr.ReasonNotPending, "invitation %s is already %s", id, latest.Status)
		}
		latest.Status = models.StatusAccepted
		latest.ResolvedAt = &now
		latest.ResolvedBy = acceptor.SessionID
		return json.Marshal(latest)
	})
	if err != nil {
		return inv.RoomID, apperr.PartialFailure(err, "joined room %s but invitation %s was not marked accepted", inv.RoomID, id)
	}

	if err := s.Pending.Clear(ctx, inv.RoomID, inv.ID); err != nil {
		s.Log.WarnContext(ctx, "failed to clear pending lock", "room_id", inv.RoomID, "invitation_id", id, "error", err)
	}
	s.Log.InfoContext(ctx, "invitation accepted", "invitation_id", id, "room_id", inv.RoomID)
	return inv.RoomID, nil
}

// allow stamps sessionID on the room's pending lock. A stamp older than
// restampAfter whose session is not in the room is taken over, so an accept
// that failed for good does not strand the invitation until it expires.
func (s *Service) allow(ctx context.Context, inv *models.Invitation, sessionID string) error {
	lock, err := s.Pending.Active(ctx, inv.RoomID)
	if err != nil {
		return err
	}
	stamped := ""
	if lock != nil && lock.InvitationID == inv.ID {
		stamped = lock.AllowedSessionID
	}
	if stamped == "" || stamped == sessionID || s.Clock.Now().Sub(lock.AllowedAt) < restampAfter {
		return s.Pending.AllowAccept(ctx, inv.RoomID, inv.ID, sessionID)
	}

	guests, err := s.Rooms.Guests(ctx, inv.RoomID)
	if err != nil {
		return err
	}
	if slices.ContainsFunc(guests, func(g models.Guest) bool { return g.SessionID == stamped }) {
		return s.Pending.AllowAccept(ctx, inv.RoomID, inv.ID, sessionID)
	}
	s.Log.InfoContext(ctx, "replacing stale accept stamp", "invitation_id", inv.ID, "room_id", inv.RoomID, "stale_session_id", stamped)
	return s.Pending.Restamp(ctx, inv.RoomID, inv.ID, stamped, sessionID)
}

// Reject resolves the invitation as rejected and releases the room's slot.
// Only the named invitee may reject; the inviter cancels instead.
// Notified is reset so the inviter's client shows the outcome once.
func (s *Service) Reject(ctx context.Context, id, rejectorSessionID, rejectorName string) (*models.Invitation, error) {
	if err := validate.RecordID(id); err != nil {
		return nil, err
	}
	if err := validate.SessionID(rejectorSessionID); err != nil {
		return nil, err
	}
	inv, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if rejectorSessionID == inv.InviterSessionID {
		return nil, apperr.Forbidden("the inviter cancels, not rejects, an invitation")
	}
	if !models.SameName(rejectorName, inv.InviteeName) {
		return nil, apperr.Forbidden("invitation %s is addressed to someone else", id)
	}

	now := s.Clock.Now().UTC()
	var resolved models.Invitation
	err = s.KV.Transact(ctx, storage.InvitationKey(id), func(current []byte) ([]byte, error) {
		latest, err := decode(current)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, apperr.NotFound("invitation %s does not exist", id)
		}
		if latest.Status != models.StatusPending {
			return nil, apperr.Conflict(apperr.ReasonNotPending, "invitation %s is already %s", id, latest.Status)
		}
		latest.Status = models.StatusRejected
		latest.ResolvedAt = &now
		latest.ResolvedBy = rejectorSessionID
		latest.Notified = false
		resolved = *latest
		return json.Marshal(latest)
	})
	if err != nil {
		return nil, err
	}

	s.clearLock(ctx, inv.RoomID, id)
	s.Log.InfoContext(ctx, "invitation rejected", "invitation_id", id, "room_id", inv.RoomID)
	return &resolved, nil
}

// Cancel lets the original inviter withdraw a pending invitation.
func (s *Service) Cancel(ctx context.Context, id, inviterSessionID string) error {
	if err := validate.RecordID(id); err != nil {
		return err
	}
	if err := validate.SessionID(inviterSessionID); err != nil {
		return err
	}
	var roomID string
	err := s.KV.Transact(ctx, storage.InvitationKey(id), func(current []byte) ([]byte, error) {
		inv, err := decode(current)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			return nil, apperr.NotFound("invitation %s does not exist", id)
		}
		if inv.InviterSessionID != inviterSessionID {
			return nil, apperr.Forbidden("only the inviter may cancel invitation %s", id)
		}
		if inv.Status != models.StatusPending {
			return nil, apperr.Conflict(apperr.ReasonNotPending, "invitation %s is already %s", id, inv.Status)
		}
		roomID = inv.RoomID
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.clearLock(ctx, roomID, id)
	s.Log.InfoContext(ctx, "invitation cancelled", "invitation_id", id, "room_id", roomID)
	return nil
}

// MarkNotified records that the inviter has seen the rejection notice.
func (s *Service) MarkNotified(ctx context.Context, id, inviterSessionID string) error {
	if err := validate.RecordID(id); err != nil {
		return err
	}
	return s.KV.Transact(ctx, storage.InvitationKey(id), func(current []byte) ([]byte, error) {
		inv, err := decode(current)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			return nil, apperr.NotFound("invitation %s does not exist", id)
		}
		if inv.InviterSessionID != inviterSessionID {
			return nil, apperr.Forbidden("only the inviter may acknowledge invitation %s", id)
		}
		if inv.Notified {
			return nil, storage.ErrAbort
		}
		inv.Notified = true
		return json.Marshal(inv)
	})
}

// Get returns a live invitation. Expired ones are deleted on sight.
func (s *Service) Get(ctx context.Context, id string) (*models.Invitation, error) {
	if err := validate.RecordID(id); err != nil {
		return nil, err
	}
	return s.live(ctx, id)
}

func (s *Service) live(ctx context.Context, id string) (*models.Invitation, error) {
	inv, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, apperr.NotFound("invitation %s does not exist", id)
	}
	if inv.Expired(s.Clock.Now(), s.TTL) {
		s.expire(ctx, inv)
		return nil, apperr.Expired("invitation %s has expired", id)
	}
	return inv, nil
}

// ListForInviter returns the invitations sent by sessionID, oldest first.
func (s *Service) ListForInviter(ctx context.Context, sessionID string) ([]models.Invitation, error) {
	return s.list(ctx, func(inv models.Invitation) bool { return inv.InviterSessionID == sessionID })
}

// ListForInvitee returns pending invitations naming name, oldest first.
func (s *Service) ListForInvitee(ctx context.Context, name string) ([]models.Invitation, error) {
	return s.list(ctx, func(inv models.Invitation) bool {
		return inv.Status == models.StatusPending && models.SameName(inv.InviteeName, name)
	})
}

func (s *Service) list(ctx context.Context, keep func(models.Invitation) bool) ([]models.Invitation, error) {
	entries, err := s.KV.List(ctx, storage.InvitationsPrefix)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	var out []models.Invitation
	for key, raw := range entries {
		inv, err := decode(raw)
		if err != nil {
			s.Log.WarnContext(ctx, "skipping unreadable invitation", "key", key, "error", err)
			continue
		}
		if inv.Collectable(now, s.TTL) {
			s.expire(ctx, inv)
			continue
		}
		if keep(*inv) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Collect deletes every collectable invitation and returns how many were removed.
func (s *Service) Collect(ctx context.Context) (int, error) {
	entries, err := s.KV.List(ctx, storage.InvitationsPrefix)
	if err != nil {
		return 0, err
	}
	now := s.Clock.Now()
	n := 0
	for _, raw := range entries {
		inv, err := decode(raw)
		if err != nil || inv == nil {
			continue
		}
		if inv.Collectable(now, s.TTL) && s.expire(ctx, inv) {
			n++
		}
	}
	return n, nil
}

// expire deletes a collectable invitation and, if it was still pending, its lock.
func (s *Service) expire(ctx context.Context, inv *models.Invitation) bool {
	now := s.Clock.Now()
	deleted := false
	err := s.KV.Transact(ctx, storage.InvitationKey(inv.ID), func(current []byte) ([]byte, error) {
		deleted = false
		latest, err := decode(current)
		if err != nil {
			return nil, err
		}
		if latest == nil || !latest.Collectable(now, s.TTL) {
			return nil, storage.ErrAbort
		}
		deleted = true
		return nil, nil
	})
	if err != nil {
		s.Log.WarnContext(ctx, "failed to delete expired invitation", "invitation_id", inv.ID, "error", err)
		return false
	}
	if deleted && inv.Status == models.StatusPending {
		s.clearLock(ctx, inv.RoomID, inv.ID)
	}
	return deleted
}

func (s *Service) deleteIfPending(ctx context.Context, id string) error {
	return s.KV.Transact(ctx, storage.InvitationKey(id), func(current []byte) ([]byte, error) {
		inv, err := decode(current)
		if err != nil {
			return nil, err
		}
		if inv == nil || inv.Status != models.StatusPending {
			return nil, storage.ErrAbort
		}
		return nil, nil
	})
}

// clearLock is best effort: a leftover lock only delays the next acquisition.
func (s *Service) clearLock(ctx context.Context, roomID, invitationID string) {
	if err := s.Pending.Clear(ctx, roomID, invitationID); err != nil && !errors.Is(err, context.Canceled) {
		s.Log.WarnContext(ctx, "failed to clear pending lock", "room_id", roomID, "invitation_id", invitationID, "error", err)
	}
}
