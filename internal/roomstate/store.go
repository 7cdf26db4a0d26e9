// Package roomstate owns the authoritative guest list of every room.
package roomstate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/topology"
	"roomalloc/backend/internal/validate"
	"slices"
	"strings"
	"time"
)

// claimGrace is how long a claim counts as live before its room lists the session.
const claimGrace = time.Minute

type Store struct {
	KV       storage.KV
	Topology *topology.Topology
	Clock    clock.Clock
	Log      *slog.Logger
}

func NewStore(kv storage.KV, topo *topology.Topology, clk clock.Clock) *Store {
	return &Store{KV: kv, Topology: topo, Clock: clk, Log: slog.Default()}
}

// sessionClaim binds a session to one room across all guest lists.
type sessionClaim struct {
	RoomID    string    `json:"roomId"`
	ClaimedAt time.Time `json:"claimedAt"`
}

func decodeGuests(raw []byte) ([]models.Guest, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var guests []models.Guest
	if err := json.Unmarshal(raw, &guests); err != nil {
		return nil, fmt.Errorf("decode guest list: %w", err)
	}
	return guests, nil
}

func containsSession(guests []models.Guest, sessionID string) bool {
	return slices.ContainsFunc(guests, func(g models.Guest) bool { return g.SessionID == sessionID })
}

func (s *Store) spec(roomID string) (models.RoomSpec, error) {
	if err := validate.RoomID(roomID); err != nil {
		return models.RoomSpec{}, err
	}
	spec, ok := s.Topology.Room(roomID)
	if !ok {
		return models.RoomSpec{}, apperr.NotFound("room %s does not exist", roomID)
	}
	return spec, nil
}

// Guests returns the room's guests in arrival order.
func (s *Store) Guests(ctx context.Context, roomID string) ([]models.Guest, error) {
	if _, err := s.spec(roomID); err != nil {
		return nil, err
	}
	raw, err := s.KV.Get(ctx, storage.RoomKey(roomID, storage.FieldGuests))
	if err != nil {
		return nil, err
	}
	return decodeGuests(raw)
}

// Occupancy returns the guest lists of all non-empty rooms keyed by room id.
func (s *Store) Occupancy(ctx context.Context) (map[string][]models.Guest, error) {
	entries, err := s.KV.List(ctx, storage.RoomsPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]models.Guest)
	for key, raw := range entries {
		roomID, field, ok := storage.SplitRoomKey(key)
		if !ok || field != storage.FieldGuests {
			continue
		}
		guests, err := decodeGuests(raw)
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", roomID, err)
		}
		if len(guests) > 0 {
			out[roomID] = guests
		}
	}
	return out, nil
}

// FindSession returns the room currently listing sessionID, or "".
func (s *Store) FindSession(ctx context.Context, sessionID string) (string, error) {
	return s.find(ctx, func(g models.Guest) bool { return g.SessionID == sessionID })
}

// FindName returns the room currently listing a guest with that display name, or "".
func (s *Store) FindName(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	return s.find(ctx, func(g models.Guest) bool { return models.SameName(g.Name, name) })
}

func (s *Store) find(ctx context.Context, match func(models.Guest) bool) (string, error) {
	occupancy, err := s.Occupancy(ctx)
	if err != nil {
		return "", err
	}
	for roomID, guests := range occupancy {
		if slices.ContainsFunc(guests, match) {
			return roomID, nil
		}
	}
	return "", nil
}

// Commit appends guest to the room if there is space.
//
// capacity is clamped to the topology capacity; zero means "use topology".
// expectedGender, when non-empty, must equal the room's configured gender.
// The append is an optimistic compare-and-set: when two callers race for the
// last slot exactly one wins and the other gets a capacity conflict.
func (s *Store) Commit(ctx context.Context, roomID string, guest models.Guest, capacity int, expectedGender models.Gender) error {
	spec, err := s.spec(roomID)
	if err != nil {
		return err
	}
	if err := validate.SessionID(guest.SessionID); err != nil {
		return err
	}
	if expectedGender != "" && expectedGender != spec.Gender {
		return apperr.Conflict(apperr.ReasonGender, "room %s is restricted to %s", roomID, spec.Gender)
	}
	if guest.Gender != "" && guest.Gender != spec.Gender {
		return apperr.Conflict(apperr.ReasonGender, "room %s is restricted to %s", roomID, spec.Gender)
	}
	if capacity <= 0 || capacity > spec.Capacity {
		capacity = spec.Capacity
	}

	other, err := s.FindSession(ctx, guest.SessionID)
	if err != nil {
		return err
	}
	if other != "" && other != roomID {
		return apperr.Conflict(apperr.ReasonDuplicate, "session is already assigned to room %s", other)
	}

	if guest.ArrivedAt.IsZero() {
		guest.ArrivedAt = s.Clock.Now().UTC()
	}

	claimed, err := s.claim(ctx, guest.SessionID, roomID)
	if err != nil {
		return err
	}
	var rb apperr.Rollback
	if claimed {
		rb.Add("release session claim", func(ctx context.Context) error {
			return s.unclaim(ctx, guest.SessionID, roomID)
		})
	}

	err = s.KV.Transact(ctx, storage.RoomKey(roomID, storage.FieldGuests), func(current []byte) ([]byte, error) {
		guests, err := decodeGuests(current)
		if err != nil {
			return nil, err
		}
		if containsSession(guests, guest.SessionID) {
			return nil, apperr.Conflict(apperr.ReasonDuplicate, "session is already in room %s", roomID)
		}
		if len(guests) >= capacity {
			return nil, apperr.Conflict(apperr.ReasonCapacity, "room %s is full", roomID)
		}
		return json.Marshal(append(guests, guest))
	})
	if err != nil {
		rb.Run(ctx, s.Log)
		return err
	}
	rb.Discard()
	return nil
}

// claim records sessionID as entering roomID. A claim for another room is
// honoured while that room lists the session or the claim is still fresh;
// otherwise it is left over from an abandoned commit and is replaced.
// It reports whether a new claim was written.
func (s *Store) claim(ctx context.Context, sessionID, roomID string) (bool, error) {
	now := s.Clock.Now().UTC()
	written := false
	err := s.KV.Transact(ctx, storage.SessionKey(sessionID), func(current []byte) ([]byte, error) {
		written = false
		if len(current) > 0 {
			var c sessionClaim
			if err := json.Unmarshal(current, &c); err != nil {
				return nil, fmt.Errorf("decode session claim: %w", err)
			}
			if c.RoomID == roomID {
				return nil, storage.ErrAbort
			}
			live := now.Before(c.ClaimedAt.Add(claimGrace))
			if !live {
				guests, err := s.Guests(ctx, c.RoomID)
				if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
					return nil, err
				}
				live = containsSession(guests, sessionID)
			}
			if live {
				return nil, apperr.Conflict(apperr.ReasonDuplicate, "session is already assigned to room %s", c.RoomID)
			}
		}
		written = true
		return json.Marshal(sessionClaim{RoomID: roomID, ClaimedAt: now})
	})
	return written, err
}

// unclaim drops the session's claim if it still points at roomID.
func (s *Store) unclaim(ctx context.Context, sessionID, roomID string) error {
	return s.KV.Transact(ctx, storage.SessionKey(sessionID), func(current []byte) ([]byte, error) {
		if len(current) == 0 {
			return nil, storage.ErrAbort
		}
		var c sessionClaim
		if err := json.Unmarshal(current, &c); err != nil {
			return nil, fmt.Errorf("decode session claim: %w", err)
		}
		if c.RoomID != roomID {
			return nil, storage.ErrAbort
		}
		return nil, nil
	})
}

// Remove drops sessionID from the room. It is idempotent and uses a plain
// overwrite: a lost update here can only shrink the list further.
func (s *Store) Remove(ctx context.Context, roomID, sessionID string) (bool, error) {
	if _, err := s.spec(roomID); err != nil {
		return false, err
	}
	if err := validate.SessionID(sessionID); err != nil {
		return false, err
	}

	key := storage.RoomKey(roomID, storage.FieldGuests)
	raw, err := s.KV.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	guests, err := decodeGuests(raw)
	if err != nil {
		return false, err
	}
	// rooms are never deleted, only emptied
	kept := slices.DeleteFunc(slices.Clone(guests), func(g models.Guest) bool { return g.SessionID == sessionID })
	if len(kept) == len(guests) {
		return false, nil
	}
	if kept == nil {
		kept = []models.Guest{}
	}
	data, err := json.Marshal(kept)
	if err != nil {
		return false, err
	}
	if err := s.KV.Set(ctx, key, data); err != nil {
		return false, err
	}
	if err := s.unclaim(ctx, sessionID, roomID); err != nil {
		s.Log.WarnContext(ctx, "failed to release session claim", "room_id", roomID, "error", err)
	}
	return true, nil
}
