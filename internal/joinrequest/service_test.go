package joinrequest_test

import (
	"context"
	"roomalloc/backend/internal/apperr"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/compat"
	"roomalloc/backend/internal/joinrequest"
	"roomalloc/backend/internal/models"
	"roomalloc/backend/internal/roomstate"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/topology"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func age(n int) *int { return &n }

func newService(t *testing.T) (*joinrequest.Service, *roomstate.Store, *clock.Fake, *storage.MemoryKV) {
	t.Helper()
	topo, err := topology.New([]models.RoomSpec{
		{ID: "R101", Floor: 1, Gender: models.GenderMale, Capacity: 2},
		{ID: "R102", Floor: 1, Gender: models.GenderMale, Capacity: 1},
	})
	require.NoError(t, err)
	kv := storage.NewMemoryKV()
	clk := clock.NewFake(start)
	rooms := roomstate.NewStore(kv, topo, clk)
	svc := joinrequest.NewService(kv, rooms, compat.NewEvaluator(10), clk, 24*time.Hour, nil)

	occupant := models.Guest{SessionID: "session-olek", Name: "Olek", Gender: models.GenderMale, Age: age(20), Snoring: models.SnoringNone}
	require.NoError(t, rooms.Commit(context.Background(), "R101", occupant, 2, ""))
	return svc, rooms, clk, kv
}

func requester() models.Guest {
	return models.Guest{SessionID: "session-ivan", Name: "Ivan", Gender: models.GenderMale, Age: age(45), Snoring: models.SnoringFrequent}
}

func create(t *testing.T, svc *joinrequest.Service) *models.JoinRequest {
	t.Helper()
	jr, err := svc.Create(context.Background(), joinrequest.CreateRequest{
		ID:              "join-0001",
		RoomID:          "R101",
		TargetSessionID: "session-olek",
		Guest:           requester(),
	})
	require.NoError(t, err)
	return jr
}

func TestCreate_RecordsWarnings(t *testing.T) {
	svc, _, _, _ := newService(t)
	jr := create(t, svc)

	assert.Equal(t, models.StatusPending, jr.Status)
	assert.Equal(t, "Ivan", jr.RequesterName)
	require.Len(t, jr.Warnings, 2)
	assert.Contains(t, jr.Warnings[0], "age gap of 25 years")
	assert.Contains(t, jr.Warnings[1], "snores frequent")

	again := create(t, svc)
	assert.Equal(t, jr.ID, again.ID, "re-submitting the same id is idempotent")
}

func TestCreate_Rejections(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	quiet := models.Guest{SessionID: "session-quiet", Name: "Quiet", Gender: models.GenderMale, Age: age(22)}

	cases := []struct {
		name string
		req  joinrequest.CreateRequest
		kind apperr.Kind
	}{
		{"target not in room", joinrequest.CreateRequest{RoomID: "R101", TargetSessionID: "session-nobody", Guest: requester()}, apperr.KindNotFound},
		{"no warnings", joinrequest.CreateRequest{RoomID: "R101", TargetSessionID: "session-olek", Guest: quiet}, apperr.KindValidation},
		{"self", joinrequest.CreateRequest{RoomID: "R101", TargetSessionID: "session-ivan", Guest: requester()}, apperr.KindValidation},
		{"wrong gender", joinrequest.CreateRequest{RoomID: "R101", TargetSessionID: "session-olek", Guest: models.Guest{SessionID: "session-anna", Name: "Anna", Gender: models.GenderFemale}}, apperr.KindConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.Equal(t, tc.kind, apperr.KindOf(err), "got %v", err)
		})
	}
}

func TestAccept_OnlyTargetCommitsGuest(t *testing.T) {
	svc, rooms, _, _ := newService(t)
	ctx := context.Background()
	jr := create(t, svc)

	_, err := svc.Accept(ctx, jr.ID, "session-ivan")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	resolved, err := svc.Accept(ctx, jr.ID, "session-olek")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	room, err := rooms.FindSession(ctx, "session-ivan")
	require.NoError(t, err)
	assert.Equal(t, "R101", room)

	_, err = svc.Accept(ctx, jr.ID, "session-olek")
	assert.True(t, apperr.Is(err, apperr.ReasonNotPending))
}

func TestAccept_CommitFailureKeepsPending(t *testing.T) {
	svc, rooms, _, _ := newService(t)
	ctx := context.Background()
	jr := create(t, svc)

	filler := models.Guest{SessionID: "session-fill", Name: "Fill", Gender: models.GenderMale}
	require.NoError(t, rooms.Commit(ctx, "R101", filler, 2, ""))

	_, err := svc.Accept(ctx, jr.ID, "session-olek")
	assert.True(t, apperr.Is(err, apperr.ReasonCapacity))

	got, err := svc.Get(ctx, jr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRejectAndDelete(t *testing.T) {
	svc, rooms, _, kv := newService(t)
	ctx := context.Background()
	jr := create(t, svc)

	_, err := svc.Reject(ctx, jr.ID, "session-ivan")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	resolved, err := svc.Reject(ctx, jr.ID, "session-olek")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, resolved.Status)

	guests, err := rooms.Guests(ctx, "R101")
	require.NoError(t, err)
	assert.Len(t, guests, 1)

	mine, err := svc.ListForRequester(ctx, "session-ivan")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.StatusRejected, mine[0].Status)

	err = svc.Delete(ctx, jr.ID, "session-other")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	require.NoError(t, svc.Delete(ctx, jr.ID, "session-ivan"))
	require.NoError(t, svc.Delete(ctx, jr.ID, "session-ivan"), "deleting twice is harmless")

	raw, err := kv.Get(ctx, storage.JoinRequestKey(jr.ID))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestListForTargetAndCollect(t *testing.T) {
	svc, _, clk, _ := newService(t)
	ctx := context.Background()
	jr := create(t, svc)

	inbox, err := svc.ListForTarget(ctx, "session-olek")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, jr.ID, inbox[0].ID)

	clk.Advance(24 * time.Hour)
	_, err = svc.Get(ctx, jr.ID)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))

	n, err := svc.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already removed by the reader")
}
