package storage_test

import (
	"context"
	"roomalloc/backend/internal/storage"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKV_Contract(t *testing.T) {
	runKVContract(t, func(t *testing.T) storage.KV { return storage.NewMemoryKV() })
}

// TestMemoryKV_RetriesOnConflict injects a competing write between read and commit.
func TestMemoryKV_RetriesOnConflict(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, "k", []byte(`0`)))

	kv.BeforeCommit = func(key string, attempt int) {
		if attempt == 0 {
			require.NoError(t, kv.Set(ctx, key, []byte(`10`)))
		}
	}

	var seen []string
	err := kv.Transact(ctx, "k", func(cur []byte) ([]byte, error) {
		seen = append(seen, string(cur))
		return append(cur, '1'), nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"0", "10"}, seen, "second attempt must observe the competing write")
	val, _ := kv.Get(ctx, "k")
	assert.Equal(t, "101", string(val))
}

func TestMemoryKV_GivesUpAfterMaxRetries(t *testing.T) {
	kv := storage.NewMemoryKV()
	kv.MaxRetries = 3
	ctx := context.Background()

	kv.BeforeCommit = func(key string, attempt int) {
		_ = kv.Set(ctx, key, []byte(`"other"`))
	}

	err := kv.Transact(ctx, "k", func([]byte) ([]byte, error) { return []byte(`"mine"`), nil })
	assert.ErrorIs(t, err, storage.ErrTooManyRetries)
}

func TestMemoryKV_CancelledContext(t *testing.T) {
	kv := storage.NewMemoryKV()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := kv.Transact(ctx, "k", func([]byte) ([]byte, error) { return []byte(`1`), nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryKV_UnsubscribeClosesChannel(t *testing.T) {
	kv := storage.NewMemoryKV()
	snaps, cancel, err := kv.Subscribe(context.Background(), storage.RoomsPrefix)
	require.NoError(t, err)

	cancel()
	cancel()

	_, ok := <-snaps
	assert.False(t, ok)
	assert.NoError(t, kv.Set(context.Background(), storage.RoomKey("R1", storage.FieldGuests), []byte(`[]`)))
}
