package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/storage"
	"sync"
)

// CollectResult counts what a CollectExpired pass deleted.
type CollectResult struct {
	Invitations  int `json:"invitations"`
	JoinRequests int `json:"joinRequests"`
	Reservations int `json:"reservations"`
	PendingLocks int `json:"pendingLocks"`
}

// CollectExpired deletes stale workflow records and expired lock rows.
// Readers already ignore all of them; this only keeps the store small.
func (s *Service) CollectExpired(ctx context.Context) (CollectResult, error) {
	var res CollectResult
	var errs []error

	n, err := s.Invitations.Collect(ctx)
	res.Invitations = n
	errs = append(errs, err)

	n, err = s.JoinRequests.Collect(ctx)
	res.JoinRequests = n
	errs = append(errs, err)

	for _, spec := range s.Topology.Rooms() {
		swept, err := s.Reservations.Sweep(ctx, spec.ID)
		if swept {
			res.Reservations++
		}
		errs = append(errs, err)

		swept, err = s.Pending.Sweep(ctx, spec.ID)
		if swept {
			res.PendingLocks++
		}
		errs = append(errs, err)
	}

	s.Log.InfoContext(ctx, "expired records collected",
		"invitations", res.Invitations, "join_requests", res.JoinRequests,
		"reservations", res.Reservations, "pending_locks", res.PendingLocks)
	return res, errors.Join(errs...)
}

// Subscribe streams every change under rooms/ as a RoomEvent carrying the
// full new value of the changed key. The stream ends when ctx is done or
// the returned cancel is called.
func (s *Service) Subscribe(ctx context.Context) (<-chan models.RoomEvent, func(), error) {
	snaps, cancelSub, err := s.KV.Subscribe(ctx, storage.RoomsPrefix)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan models.RoomEvent, 64)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			cancelSub()
		})
	}

	go func() {
		defer close(out)
		for snap := range snaps {
			roomID, field, ok := storage.SplitRoomKey(snap.Key)
			if !ok {
				continue
			}
			value := json.RawMessage(snap.Value)
			if snap.Value == nil {
				value = json.RawMessage("null")
			}
			select {
			case out <- models.RoomEvent{RoomID: roomID, Field: field, Value: value}:
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}
