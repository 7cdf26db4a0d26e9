// Package joinrequest lets a requester flagged by compatibility warnings ask
// a room's occupant for approval before being admitted.
package joinrequest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/compat"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/roomstate"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/validate"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	KV        storage.KV
	Rooms     *roomstate.Store
	Evaluator compat.Evaluator
	Clock     clock.Clock
	TTL       time.Duration
	NewID     func() string
	Log       *slog.Logger
}

func NewService(kv storage.KV, rooms *roomstate.Store, eval compat.Evaluator, clk clock.Clock, ttl time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		KV:        kv,
		Rooms:     rooms,
		Evaluator: eval,
		Clock:     clk,
		TTL:       ttl,
		NewID:     uuid.NewString,
		Log:       log.With("component", "joinrequest"),
	}
}

type CreateRequest struct {
	ID              string
	RoomID          string
	TargetSessionID string
	Guest           models.Guest
}

func decode(raw []byte) (*models.JoinRequest, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var jr models.JoinRequest
	if err := json.Unmarshal(raw, &jr); err != nil {
		return nil, fmt.Errorf("decode join request: %w", err)
	}
	return &jr, nil
}

// Create records a pending request addressed to an occupant of the room.
// Warnings are recomputed against that occupant; a pair without warnings
// has nothing to approve and is refused.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.JoinRequest, error) {
	if err := validate.RoomID(req.RoomID); err != nil {
		return nil, err
	}
	if err := validate.SessionID(req.TargetSessionID); err != nil {
		return nil, err
	}
	if err := validate.Profile(req.Guest); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = s.NewID()
	}
	if err := validate.RecordID(req.ID); err != nil {
		return nil, err
	}
	if req.TargetSessionID == req.Guest.SessionID {
		return nil, apperr.Validation("cannot ask yourself to join")
	}

	spec, ok := s.Rooms.Topology.Room(req.RoomID)
	if !ok {
		return nil, apperr.NotFound("room %s does not exist", req.RoomID)
	}
	if req.Guest.Gender != spec.Gender {
		return nil, apperr.Conflict(apperr.ReasonGender, "room %s is restricted to %s", req.RoomID, spec.Gender)
	}
	placed, err := s.Rooms.FindSession(ctx, req.Guest.SessionID)
	if err != nil {
		return nil, err
	}
	if placed != "" {
		return nil, apperr.Conflict(apperr.ReasonDuplicate, "already assigned to room %s", placed)
	}

	guests, err := s.Rooms.Guests(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	var target *models.Guest
	for i := range guests {
		if guests[i].SessionID == req.TargetSessionID {
			target = &guests[i]
			break
		}
	}
	if target == nil {
		return nil, apperr.NotFound("session %s is not staying in room %s", req.TargetSessionID, req.RoomID)
	}
	if len(guests) >= spec.Capacity {
		return nil, apperr.Conflict(apperr.ReasonCapacity, "room %s is full", req.RoomID)
	}
	warnings := s.Evaluator.Evaluate(*target, req.Guest)
	if len(warnings) == 0 {
		return nil, apperr.Validation("no compatibility warnings with %s, commit the room directly", target.Name)
	}

	now := s.Clock.Now().UTC()
	var jr models.JoinRequest
	err = s.KV.Transact(ctx, storage.JoinRequestKey(req.ID), func(current []byte) ([]byte, error) {
		existing, err := decode(current)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.RequesterSessionID != req.Guest.SessionID || existing.RoomID != req.RoomID || existing.Status != models.StatusPending {
				return nil, apperr.Conflict(apperr.ReasonDuplicate, "join request %s already exists", req.ID)
			}
			jr = *existing
			return nil, storage.ErrAbort
		}
		jr = models.JoinRequest{
			ID:                 req.ID,
			RequesterSessionID: req.Guest.SessionID,
			RequesterName:      req.Guest.Name,
			RoomID:             req.RoomID,
			TargetSessionID:    req.TargetSessionID,
			Warnings:           warnings,
			Guest:              req.Guest,
			Status:             models.StatusPending,
			CreatedAt:          now,
		}
		return json.Marshal(jr)
	})
	if err != nil {
		return nil, err
	}
	s.Log.InfoContext(ctx, "join request created", "join_request_id", jr.ID, "room_id", jr.RoomID, "warnings", len(jr.Warnings))
	return &jr, nil
}

// Accept commits the stored guest snapshot into the room, then marks the
// request accepted. Only the target occupant may accept.
func (s *Service) Accept(ctx context.Context, id, targetSessionID string) (*models.JoinRequest, error) {
	if err := validate.RecordID(id); err != nil {
		return nil, err
	}
	if err := validate.SessionID(targetSessionID); err != nil {
		return nil, err
	}
	jr, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}
	if jr.TargetSessionID != targetSessionID {
		return nil, apperr.Forbidden("only the addressed occupant may accept join request %s", id)
	}
	if jr.Status != models.StatusPending {
		return nil, apperr.Conflict(apperr.ReasonNotPending, "join request %s is already %s", id, jr.Status)
	}

	if err := s.Rooms.Commit(ctx, jr.RoomID, jr.Guest, 0, ""); err != nil {
		return nil, err
	}

	resolved, err := s.resolve(ctx, id, targetSessionID, models.StatusAccepted)
	if err != nil {
		return jr, apperr.PartialFailure(err, "guest joined room %s but join request %s was not marked accepted", jr.RoomID, id)
	}
	s.Log.InfoContext(ctx, "join request accepted", "join_request_id", id, "room_id", jr.RoomID)
	return resolved, nil
}

// Reject resolves the request without touching the room.
func (s *Service) Reject(ctx context.Context, id, targetSessionID string) (*models.JoinRequest, error) {
	if err := validate.RecordID(id); err != nil {
		return nil, err
	}
	if err := validate.SessionID(targetSessionID); err != nil {
		return nil, err
	}
	if _, err := s.live(ctx, id); err != nil {
		return nil, err
	}
	resolved, err := s.resolve(ctx, id, targetSessionID, models.StatusRejected)
	if err != nil {
		return nil, err
	}
	s.Log.InfoContext(ctx, "join request rejected", "join_request_id", id, "room_id", resolved.RoomID)
	return resolved, nil
}

func (s *Service) resolve(ctx context.Context, id, targetSessionID string, status models.Status) (*models.JoinRequest, error) {
	now := s.Clock.Now().UTC()
	var out models.JoinRequest
	err := s.KV.Transact(ctx, storage.JoinRequestKey(id), func(current []byte) ([]byte, error) {
		jr, err := decode(current)
		if err != nil {
			return nil, err
		}
		if jr == nil {
			return nil, apperr.NotFound("join request %s does not exist", id)
		}
		if jr.TargetSessionID != targetSessionID {
			return nil, apperr.Forbidden("only the addressed occupant may resolve join request %s", id)
		}
		if jr.Status != models.StatusPending {
			return nil, apperr.Conflict(apperr.ReasonNotPending, "join request %s is already %s", id, jr.Status)
		}
		jr.Status = status
		jr.ResolvedAt = &now
		out = *jr
		return json.Marshal(jr)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the request. Either party may delete it, in any state.
func (s *Service) Delete(ctx context.Context, id, sessionID string) error {
	if err := validate.RecordID(id); err != nil {
		return err
	}
	if err := validate.SessionID(sessionID); err != nil {
		return err
	}
	return s.KV.Transact(ctx, storage.JoinRequestKey(id), func(current []byte) ([]byte, error) {
		jr, err := decode(current)
		if err != nil {
			return nil, err
		}
		if jr == nil {
			return nil, storage.ErrAbort
		}
		if sessionID != jr.RequesterSessionID && sessionID != jr.TargetSessionID {
			return nil, apperr.Forbidden("join request %s belongs to someone else", id)
		}
		return nil, nil
	})
}

func (s *Service) Get(ctx context.Context, id string) (*models.JoinRequest, error) {
	if err := validate.RecordID(id); err != nil {
		return nil, err
	}
	return s.live(ctx, id)
}

func (s *Service) live(ctx context.Context, id string) (*models.JoinRequest, error) {
	raw, err := s.KV.Get(ctx, storage.JoinRequestKey(id))
	if err != nil {
		return nil, err
	}
	jr, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if jr == nil {
		return nil, apperr.NotFound("join request %s does not exist", id)
	}
	if jr.Collectable(s.Clock.Now(), s.TTL) {
		s.collect(ctx, jr.ID)
		return nil, apperr.Expired("join request %s has expired", id)
	}
	return jr, nil
}

// ListForTarget returns pending requests awaiting sessionID's decision.
func (s *Service) ListForTarget(ctx context.Context, sessionID string) ([]models.JoinRequest, error) {
	return s.list(ctx, func(jr models.JoinRequest) bool {
		return jr.TargetSessionID == sessionID && jr.Status == models.StatusPending
	})
}

// ListForRequester returns every request sessionID has sent, resolved ones included.
func (s *Service) ListForRequester(ctx context.Context, sessionID string) ([]models.JoinRequest, error) {
	return s.list(ctx, func(jr models.JoinRequest) bool { return jr.RequesterSessionID == sessionID })
}

func (s *Service) list(ctx context.Context, keep func(models.JoinRequest) bool) ([]models.JoinRequest, error) {
	entries, err := s.KV.List(ctx, storage.JoinRequestPrefix)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	var out []models.JoinRequest
	for key, raw := range entries {
		jr, err := decode(raw)
		if err != nil {
			s.Log.WarnContext(ctx, "skipping unreadable join request", "key", key, "error", err)
			continue
		}
		if jr.Collectable(now, s.TTL) {
			s.collect(ctx, jr.ID)
			continue
		}
		if keep(*jr) {
			out = append(out, *jr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Collect deletes every request older than the TTL.
func (s *Service) Collect(ctx context.Context) (int, error) {
	entries, err := s.KV.List(ctx, storage.JoinRequestPrefix)
	if err != nil {
		return 0, err
	}
	now := s.Clock.Now()
	n := 0
	for _, raw := range entries {
		jr, err := decode(raw)
		if err != nil || jr == nil {
			continue
		}
		if jr.Collectable(now, s.TTL) && s.collect(ctx, jr.ID) {
			n++
		}
	}
	return n, nil
}

func (s *Service) collect(ctx context.Context, id string) bool {
	now := s.Clock.Now()
	deleted := false
	err := s.KV.Transact(ctx, storage.JoinRequestKey(id), func(current []byte) ([]byte, error) {
		deleted = false
		jr, err := decode(current)
		if err != nil {
			return nil, err
		}
		if jr == nil || !jr.Collectable(now, s.TTL) {
			return nil, storage.ErrAbort
		}
		deleted = true
		return nil, nil
	})
	if err != nil {
		s.Log.WarnContext(ctx, "failed to delete expired join request", "join_request_id", id, "error", err)
		return false
	}
	return deleted
}
