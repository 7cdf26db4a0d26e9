package roomstate_test

import (
	"context"
	"fmt"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/roomstate"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/topology"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*roomstate.Store, *storage.MemoryKV) {
	t.Helper()
	topo, err := topology.New([]models.RoomSpec{
		{ID: "R101", Floor: 1, Gender: models.GenderMale, Capacity: 2},
		{ID: "R102", Floor: 1, Gender: models.GenderMale, Capacity: 1},
		{ID: "R201", Floor: 2, Gender: models.GenderFemale, Capacity: 2},
	})
	require.NoError(t, err)
	kv := storage.NewMemoryKV()
	return roomstate.NewStore(kv, topo, clock.NewFake(start)), kv
}

func male(session, name string) models.Guest {
	return models.Guest{SessionID: session, Name: name, Gender: models.GenderMale}
}

func TestCommit_AppendsInArrivalOrder(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, "R101", male("session-a", "A"), 2, models.GenderMale))
	require.NoError(t, s.Commit(ctx, "R101", male("session-c", "C"), 2, ""))

	guests, err := s.Guests(ctx, "R101")
	require.NoError(t, err)
	require.Len(t, guests, 2)
	assert.Equal(t, "session-a", guests[0].SessionID)
	assert.Equal(t, "session-c", guests[1].SessionID)
	assert.Equal(t, start, guests[0].ArrivedAt)
}

func TestCommit_Rejections(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, "R102", male("session-a", "A"), 1, ""))

	female := models.Guest{SessionID: "session-b", Name: "B", Gender: models.GenderFemale}

	tests := []struct {
		name   string
		room   string
		guest  models.Guest
		gender models.Gender
		kind   apperr.Kind
		reason apperr.Reason
	}{
		{"malformed room", "R1/../x", male("session-z", "Z"), "", apperr.KindValidation, apperr.ReasonInvalid},
		{"malformed session", "R101", male("bad", "Z"), "", apperr.KindValidation, apperr.ReasonInvalid},
		{"unknown room", "R999", male("session-z", "Z"), "", apperr.KindNotFound, apperr.ReasonNotFound},
		{"expected gender mismatch", "R101", male("session-z", "Z"), models.GenderFemale, apperr.KindConflict, apperr.ReasonGender},
		{"guest gender mismatch", "R101", female, "", apperr.KindConflict, apperr.ReasonGender},
		{"full room", "R102", male("session-z", "Z"), "", apperr.KindConflict, apperr.ReasonCapacity},
		{"same session same room", "R102", male("session-a", "A"), "", apperr.KindConflict, apperr.ReasonDuplicate},
		{"same session other room", "R101", male("session-a", "A"), "", apperr.KindConflict, apperr.ReasonDuplicate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Commit(ctx, tt.room, tt.guest, 0, tt.gender)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.reason, apperr.ReasonOf(err))
		})
	}

	guests, err := s.Guests(ctx, "R101")
	require.NoError(t, err)
	assert.Empty(t, guests, "rejected commits leave no trace")
}

func TestCommit_CapacityClampedToTopology(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, "R102", male("session-a", "A"), 5, ""))
	err := s.Commit(ctx, "R102", male("session-b", "B"), 5, "")
	assert.True(t, apperr.Is(err, apperr.ReasonCapacity))

	require.NoError(t, s.Commit(ctx, "R101", male("session-c", "C"), 1, ""))
	err = s.Commit(ctx, "R101", male("session-d", "D"), 1, "")
	assert.True(t, apperr.Is(err, apperr.ReasonCapacity), "a smaller caller capacity is honoured")
}

// TestCommit_ConcurrentLastSlot races many sessions for one free slot.
func TestCommit_ConcurrentLastSlot(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, "R101", male("session-first", "First"), 0, ""))

	const contenders = 16
	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- s.Commit(ctx, "R101", male(fmt.Sprintf("session-%03d", i), "G"), 0, "")
		}(i)
	}
	wg.Wait()
	close(results)

	wins, capacity := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case apperr.Is(err, apperr.ReasonCapacity):
			capacity++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, capacity)

	guests, err := s.Guests(ctx, "R101")
	require.NoError(t, err)
	assert.Len(t, guests, 2)
}

// TestCommit_LosingRetryReportsCapacity forces a conflicting write during the CAS.
func TestCommit_LosingRetryReportsCapacity(t *testing.T) {
	s, kv := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, "R101", male("session-a", "A"), 0, ""))

	kv.BeforeCommit = func(key string, attempt int) {
		if key == storage.RoomKey("R101", storage.FieldGuests) && attempt == 0 {
			_ = kv.Set(ctx, key, []byte(`[{"sessionId":"session-a","gender":"M"},{"sessionId":"session-x","gender":"M"}]`))
		}
	}

	err := s.Commit(ctx, "R101", male("session-c", "C"), 0, "")
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.True(t, apperr.Is(err, apperr.ReasonCapacity))
}

func TestRemove(t *testing.T) {
	s, kv := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, "R101", male("session-a", "A"), 0, ""))
	require.NoError(t, s.Commit(ctx, "R101", male("session-c", "C"), 0, ""))

	removed, err := s.Remove(ctx, "R101", "session-a")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, "R101", "session-a")
	require.NoError(t, err)
	assert.False(t, removed, "remove is idempotent")

	removed, err = s.Remove(ctx, "R101", "session-c")
	require.NoError(t, err)
	assert.True(t, removed)

	raw, err := kv.Get(ctx, storage.RoomKey("R101", storage.FieldGuests))
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(raw), "rooms are emptied, not deleted")

	removed, err = s.Remove(ctx, "R201", "session-a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestFindSessionAndName(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, "R201", models.Guest{SessionID: "session-k", Name: "Kim", Gender: models.GenderFemale}, 0, ""))

	room, err := s.FindSession(ctx, "session-k")
	require.NoError(t, err)
	assert.Equal(t, "R201", room)

	room, err = s.FindName(ctx, " KIM ")
	require.NoError(t, err)
	assert.Equal(t, "R201", room)

	room, err = s.FindSession(ctx, "session-nobody")
	require.NoError(t, err)
	assert.Empty(t, room)
}

func TestCommit_SameSessionRacingIntoTwoRooms(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, _ := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, room := range []string{"R101", "R102"} {
			wg.Add(1)
			go func(j int, room string) {
				defer wg.Done()
				errs[j] = s.Commit(ctx, room, male("session-a", "A"), 0, "")
			}(j, room)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.True(t, apperr.Is(err, apperr.ReasonDuplicate), "got %v", err)
			}
		}
		require.Equal(t, 1, wins)
	}
}

func TestCommit_FailedCommitReleasesClaim(t *testing.T) {
	s, kv := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, "R102", male("session-a", "A"), 0, ""))

	err := s.Commit(ctx, "R102", male("session-b", "B"), 0, "")
	require.True(t, apperr.Is(err, apperr.ReasonCapacity))

	raw, err := kv.Get(ctx, storage.SessionKey("session-b"))
	require.NoError(t, err)
	assert.Nil(t, raw, "claim is rolled back")
	require.NoError(t, s.Commit(ctx, "R101", male("session-b", "B"), 0, ""))
}

func TestCommit_StaleClaimIsReplaced(t *testing.T) {
	s, kv := newStore(t)
	ctx := context.Background()
	clk := s.Clock.(*clock.Fake)

	// Залишок від перерваного commit: кімната R102 цієї сесії не містить.
	require.NoError(t, kv.Set(ctx, storage.SessionKey("session-a"), []byte(`{"roomId":"R102","claimedAt":"2026-03-01T09:00:00Z"}`)))
	err := s.Commit(ctx, "R101", male("session-a", "A"), 0, "")
	assert.True(t, apperr.Is(err, apperr.ReasonDuplicate), "fresh claim is honoured")

	clk.Advance(2 * time.Minute)
	require.NoError(t, s.Commit(ctx, "R101", male("session-a", "A"), 0, ""))
}

func TestRemove_ReleasesClaim(t *testing.T) {
	s, kv := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Commit(ctx, "R101", male("session-a", "A"), 0, ""))

	removed, err := s.Remove(ctx, "R101", "session-a")
	require.NoError(t, err)
	require.True(t, removed)

	raw, err := kv.Get(ctx, storage.SessionKey("session-a"))
	require.NoError(t, err)
	assert.Nil(t, raw)
	require.NoError(t, s.Commit(ctx, "R102", male("session-a", "A"), 0, ""), "moved to another room right away")
}
