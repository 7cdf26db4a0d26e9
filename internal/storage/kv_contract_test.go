package storage_test

import (
	"context"
	"errors"
	"roomalloc/backend/internal/storage"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runKVContract exercises behaviour every KV implementation must share.
func runKVContract(t *testing.T, newKV func(t *testing.T) storage.KV) {
	t.Run("get absent", func(t *testing.T) {
		kv := newKV(t)
		val, err := kv.Get(context.Background(), "rooms/R1/guests")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("set get delete", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		require.NoError(t, kv.Set(ctx, "rooms/R1/guests", []byte(`[]`)))
		val, err := kv.Get(ctx, "rooms/R1/guests")
		require.NoError(t, err)
		assert.Equal(t, `[]`, string(val))

		require.NoError(t, kv.Delete(ctx, "rooms/R1/guests"))
		val, err = kv.Get(ctx, "rooms/R1/guests")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("transact writes and deletes", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		err := kv.Transact(ctx, "counter", func(cur []byte) ([]byte, error) {
			assert.Nil(t, cur)
			return []byte(`1`), nil
		})
		require.NoError(t, err)

		err = kv.Transact(ctx, "counter", func(cur []byte) ([]byte, error) {
			assert.Equal(t, `1`, string(cur))
			return nil, nil
		})
		require.NoError(t, err)

		val, err := kv.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("transact abort leaves value", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()
		require.NoError(t, kv.Set(ctx, "k", []byte(`"a"`)))

		boom := errors.New("room is full")
		err := kv.Transact(ctx, "k", func([]byte) ([]byte, error) { return []byte(`"b"`), boom })
		assert.ErrorIs(t, err, boom)

		err = kv.Transact(ctx, "k", func([]byte) ([]byte, error) { return nil, storage.ErrAbort })
		assert.NoError(t, err)

		val, _ := kv.Get(ctx, "k")
		assert.Equal(t, `"a"`, string(val))
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()

		const workers = 8
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- kv.Transact(ctx, "counter", func(cur []byte) ([]byte, error) {
					n := 0
					if cur != nil {
						n, _ = strconv.Atoi(string(cur))
					}
					return []byte(strconv.Itoa(n + 1)), nil
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		val, err := kv.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(workers), string(val))
	})

	t.Run("list by prefix", func(t *testing.T) {
		kv := newKV(t)
		ctx := context.Background()
		require.NoError(t, kv.Set(ctx, storage.RoomKey("R1", storage.FieldGuests), []byte(`[]`)))
		require.NoError(t, kv.Set(ctx, storage.RoomKey("R2", storage.FieldGuests), []byte(`[]`)))
		require.NoError(t, kv.Set(ctx, storage.InvitationKey("inv-0001"), []byte(`{}`)))
		require.NoError(t, kv.Set(ctx, storage.RoomKey("R3", storage.FieldGuests), []byte(`[]`)))
		require.NoError(t, kv.Delete(ctx, storage.RoomKey("R3", storage.FieldGuests)))

		rooms, err := kv.List(ctx, storage.RoomsPrefix)
		require.NoError(t, err)
		assert.Len(t, rooms, 2)
		assert.Contains(t, rooms, "rooms/R1/guests")
		assert.Contains(t, rooms, "rooms/R2/guests")
	})

	t.Run("subscribe receives full snapshots", func(t *testing.T) {
		kv := newKV(t)
		ctx, cancelCtx := context.WithCancel(context.Background())
		defer cancelCtx()

		snaps, cancel, err := kv.Subscribe(ctx, storage.RoomsPrefix)
		require.NoError(t, err)
		defer cancel()

		require.NoError(t, kv.Set(ctx, storage.InvitationKey("inv-0001"), []byte(`{}`)))
		require.NoError(t, kv.Set(ctx, storage.RoomKey("R1", storage.FieldGuests), []byte(`[{"sessionId":"s"}]`)))
		require.NoError(t, kv.Delete(ctx, storage.RoomKey("R1", storage.FieldGuests)))

		first := receive(t, snaps)
		assert.Equal(t, "rooms/R1/guests", first.Key)
		assert.JSONEq(t, `[{"sessionId":"s"}]`, string(first.Value))

		second := receive(t, snaps)
		assert.Equal(t, "rooms/R1/guests", second.Key)
		assert.Nil(t, second.Value, "delete is delivered as an empty snapshot")
	})
}

func receive(t *testing.T, ch <-chan storage.Snapshot) storage.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed early")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return storage.Snapshot{}
	}
}

func TestSplitRoomKey(t *testing.T) {
	roomID, field, ok := storage.SplitRoomKey("rooms/R101/pending")
	assert.True(t, ok)
	assert.Equal(t, "R101", roomID)
	assert.Equal(t, storage.FieldPending, field)

	_, _, ok = storage.SplitRoomKey("roommateInvitations/abc")
	assert.False(t, ok)
	_, _, ok = storage.SplitRoomKey("rooms/R101")
	assert.False(t, ok)
}
