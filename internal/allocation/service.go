// Package allocation is the entry point of the room allocation engine. It
// composes the store, the soft locks and both workflows, and enforces the
// soft locks at the call boundary: the guest-list compare-and-set itself
// knows nothing about reservations or pending invitations.
package allocation

import (
	"context"
	"encoding/json"
	"log/slog"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/audit"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/compat"
	"roomalloc/backend/internal/config"
	"roomalloc/backend/internal/invitation"
	"roomalloc/backend/internal/joinrequest"
	"roomalloc/backend/internal/locks"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/roomstate"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/topology"
	"roomalloc/backend/internal/validate"
	"time"
)

// Options tunes the engine; zero values fall back to the defaults in config.
type Options struct {
	ReservationTTL  time.Duration
	PendingLockTTL  time.Duration
	InvitationTTL   time.Duration
	JoinRequestTTL  time.Duration
	// AgeGapTolerance nil means config.DefaultAgeGapTolerance; zero warns on any gap.
	AgeGapTolerance *int
}

// OptionsFromConfig maps the runtime configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	tolerance := cfg.AgeGapTolerance
	return Options{
		ReservationTTL:  cfg.ReservationTTL,
		PendingLockTTL:  cfg.PendingLockTTL,
		InvitationTTL:   cfg.InvitationTTL,
		JoinRequestTTL:  config.JoinRequestTTL,
		AgeGapTolerance: &tolerance,
	}
}

func (o Options) withDefaults() Options {
	if o.ReservationTTL <= 0 {
		o.ReservationTTL = config.ReservationTTL
	}
	if o.PendingLockTTL <= 0 {
		o.PendingLockTTL = config.PendingLockTTL
	}
	if o.InvitationTTL <= 0 {
		o.InvitationTTL = config.InvitationTTL
	}
	if o.JoinRequestTTL <= 0 {
		o.JoinRequestTTL = config.JoinRequestTTL
	}
	if o.AgeGapTolerance == nil || *o.AgeGapTolerance < 0 {
		tolerance := config.DefaultAgeGapTolerance
		o.AgeGapTolerance = &tolerance
	}
	return o
}

type Service struct {
	KV           storage.KV
	Topology     *topology.Topology
	Clock        clock.Clock
	Store        *roomstate.Store
	Reservations *locks.Reservations
	Pending      *locks.Pending
	Invitations  *invitation.Service
	JoinRequests *joinrequest.Service
	Evaluator    compat.Evaluator
	Audit        audit.Sink
	Log          *slog.Logger
}

func NewService(kv storage.KV, topo *topology.Topology, clk clock.Clock, sink audit.Sink, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	opts = opts.withDefaults()

	rooms := roomstate.NewStore(kv, topo, clk)
	rooms.Log = log.With("component", "roomstate")
	pending := locks.NewPending(kv, clk, opts.PendingLockTTL)
	eval := compat.NewEvaluator(*opts.AgeGapTolerance)
	return &Service{
		KV:           kv,
		Topology:     topo,
		Clock:        clk,
		Store:        rooms,
		Reservations: locks.NewReservations(kv, clk, opts.ReservationTTL, pending),
		Pending:      pending,
		Invitations:  invitation.NewService(kv, rooms, pending, clk, opts.InvitationTTL, log),
		JoinRequests: joinrequest.NewService(kv, rooms, eval, clk, opts.JoinRequestTTL, log),
		Evaluator:    eval,
		Audit:        sink,
		Log:          log.With("component", "allocation"),
	}
}

func (s *Service) record(ctx context.Context, ev models.AuditEvent) {
	if err := s.Audit.Record(ctx, ev); err != nil {
		s.Log.WarnContext(ctx, "audit write failed", "action", ev.Action, "error", err)
	}
}

func (s *Service) spec(roomID string) (models.RoomSpec, error) {
	if err := validate.RoomID(roomID); err != nil {
		return models.RoomSpec{}, err
	}
	spec, ok := s.Topology.Room(roomID)
	if !ok {
		return models.RoomSpec{}, apperr.NotFound("room %s does not exist", roomID)
	}
	return spec, nil
}

// Rooms returns every room of the topology with its live state, ordered by
// floor and id. Expired locks are shown as absent.
func (s *Service) Rooms(ctx context.Context) ([]models.Room, error) {
	entries, err := s.KV.List(ctx, storage.RoomsPrefix)
	if err != nil {
		return nil, err
	}
	specs := s.Topology.Rooms()
	out := make([]models.Room, len(specs))
	index := make(map[string]*models.Room, len(specs))
	for i, spec := range specs {
		out[i] = models.Room{RoomSpec: spec, Guests: []models.Guest{}}
		index[spec.ID] = &out[i]
	}

	now := s.Clock.Now()
	for key, raw := range entries {
		roomID, field, ok := storage.SplitRoomKey(key)
		if !ok {
			continue
		}
		room, ok := index[roomID]
		if !ok {
			continue
		}
		if err := fill(room, field, raw, now); err != nil {
			s.Log.WarnContext(ctx, "skipping unreadable room key", "key", key, "error", err)
		}
	}
	return out, nil
}

func fill(room *models.Room, field string, raw []byte, now time.Time) error {
	switch field {
	case storage.FieldGuests:
		var guests []models.Guest
		if err := json.Unmarshal(raw, &guests); err != nil {
			return err
		}
		if guests != nil {
			room.Guests = guests
		}
	case storage.FieldReservation:
		var r models.Reservation
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		if r.Active(now) {
			room.Reservation = &r
		}
	case storage.FieldPending:
		var p models.PendingLock
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Active(now) {
			room.Pending = &p
		}
	}
	return nil
}

func (s *Service) Room(ctx context.Context, roomID string) (*models.Room, error) {
	spec, err := s.spec(roomID)
	if err != nil {
		return nil, err
	}
	guests, err := s.Store.Guests(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if guests == nil {
		guests = []models.Guest{}
	}
	res, err := s.Reservations.Active(ctx, roomID)
	if err != nil {
		return nil, err
	}
	lock, err := s.Pending.Active(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &models.Room{RoomSpec: spec, Guests: guests, Reservation: res, Pending: lock}, nil
}

// ReserveRoom takes the short interactive hold on a room.
func (s *Service) ReserveRoom(ctx context.Context, roomID, sessionID, holderName string) (*models.Reservation, error) {
	if _, err := s.spec(roomID); err != nil {
		return nil, err
	}
	res, err := s.Reservations.Acquire(ctx, roomID, sessionID, holderName)
	if err != nil {
		return nil, err
	}
	s.record(ctx, models.AuditEvent{Action: models.AuditRoomReserved, RoomID: roomID, SessionID: sessionID})
	return res, nil
}

func (s *Service) ReleaseRoom(ctx context.Context, roomID, sessionID string) (bool, error) {
	if _, err := s.spec(roomID); err != nil {
		return false, err
	}
	return s.Reservations.Release(ctx, roomID, sessionID)
}

type CommitRequest struct {
	RoomID string
	Guest  models.Guest
	// Capacity is clamped to the topology capacity; zero means the topology value.
	Capacity int
	Gender   models.Gender
}

// CommitRoom adds the guest to the room once the soft locks allow it, then
// drops the caller's reservation.
func (s *Service) CommitRoom(ctx context.Context, req CommitRequest) error {
	if _, err := s.spec(req.RoomID); err != nil {
		return err
	}
	if err := validate.Profile(req.Guest); err != nil {
		return err
	}
	if err := s.checkSoftLocks(ctx, req.RoomID, req.Guest.SessionID); err != nil {
		return err
	}

	if err := s.Store.Commit(ctx, req.RoomID, req.Guest, req.Capacity, req.Gender); err != nil {
		return err
	}
	if _, err := s.Reservations.Release(ctx, req.RoomID, req.Guest.SessionID); err != nil {
		s.Log.WarnContext(ctx, "failed to release reservation after commit", "room_id", req.RoomID, "error", err)
	}

	s.Log.InfoContext(ctx, "guest committed", "room_id", req.RoomID)
	s.record(ctx, models.AuditEvent{Action: models.AuditRoomCommitted, RoomID: req.RoomID, SessionID: req.Guest.SessionID})
	return nil
}

// checkSoftLocks refuses a caller who is neither admitted by the room's
// pending lock nor the holder of a live foreign reservation.
func (s *Service) checkSoftLocks(ctx context.Context, roomID, sessionID string) error {
	now := s.Clock.Now()
	lock, err := s.Pending.Active(ctx, roomID)
	if err != nil {
		return err
	}
	if !lock.Admits(sessionID, now) {
		return apperr.LockConflict(apperr.ReasonPending, lock.InviteeName, lock.Remaining(now),
			"room %s is held for an invited roommate", roomID)
	}
	res, err := s.Reservations.Active(ctx, roomID)
	if err != nil {
		return err
	}
	if res != nil && res.ReservedBy != sessionID {
		holder := res.HolderName
		if holder == "" {
			holder = res.ReservedBy
		}
		return apperr.LockConflict(apperr.ReasonReserved, holder, res.Remaining(now),
			"room %s is being reserved by someone else", roomID)
	}
	return nil
}

// RemoveGuest revokes an assignment. Used by operators; idempotent.
func (s *Service) RemoveGuest(ctx context.Context, roomID, sessionID string) (bool, error) {
	removed, err := s.Store.Remove(ctx, roomID, sessionID)
	if err != nil {
		return false, err
	}
	if removed {
		s.Log.InfoContext(ctx, "guest removed", "room_id", roomID)
		s.record(ctx, models.AuditEvent{Action: models.AuditGuestRemoved, RoomID: roomID, SessionID: sessionID})
	}
	return removed, nil
}

// CheckCompatibility evaluates the candidate against every current occupant.
// An empty result means the candidate may commit directly.
func (s *Service) CheckCompatibility(ctx context.Context, roomID string, candidate models.Guest) ([]string, error) {
	if _, err := s.spec(roomID); err != nil {
		return nil, err
	}
	if err := validate.Profile(candidate); err != nil {
		return nil, err
	}
	guests, err := s.Store.Guests(ctx, roomID)
	if err != nil {
		return nil, err
	}
	warnings := s.Evaluator.EvaluateRoom(guests, candidate)
	if warnings == nil {
		warnings = []string{}
	}
	return warnings, nil
}
