package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const changeChannelPrefix = "changes:"

// RedisKV implements KV on Redis. Transact uses WATCH/MULTI/EXEC, and every
// committed write publishes the new value so subscribers get full snapshots.
type RedisKV struct {
	Redis      *redis.Client
	Namespace  string
	MaxRetries int
	Log        *slog.Logger
}

func NewRedisKV(rdb *redis.Client, namespace string, maxRetries int, log *slog.Logger) *RedisKV {
	if maxRetries <= 0 {
		maxRetries = 32
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisKV{Redis: rdb, Namespace: namespace, MaxRetries: maxRetries, Log: log}
}

type changeMessage struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (s *RedisKV) k(key string) string { return s.Namespace + key }

func (s *RedisKV) channel(key string) string { return changeChannelPrefix + s.Namespace + key }

func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.Redis.Get(ctx, s.k(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, key, value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *RedisKV) Delete(ctx context.Context, key string) error {
	return s.Set(ctx, key, nil)
}

// write queues the mutation and its change notification on the same MULTI.
func (s *RedisKV) write(ctx context.Context, pipe redis.Pipeliner, key string, value []byte) {
	if value == nil {
		pipe.Del(ctx, s.k(key))
	} else {
		pipe.Set(ctx, s.k(key), value, 0)
	}
	msg, err := json.Marshal(changeMessage{Key: key, Value: json.RawMessage(value)})
	if err != nil {
		// значення, яке не є JSON, підписники все одно перечитають
		msg, _ = json.Marshal(changeMessage{Key: key})
	}
	pipe.Publish(ctx, s.channel(key), msg)
}

func (s *RedisKV) Transact(ctx context.Context, key string, fn TxFunc) error {
	rk := s.k(key)
	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		err := s.Redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, rk).Bytes()
			if errors.Is(err, redis.Nil) {
				current = nil
			} else if err != nil {
				return err
			}

			next, err := fn(current)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.write(ctx, pipe, key, next)
				return nil
			})
			return err
		}, rk)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrAbort):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			s.Log.DebugContext(ctx, "transaction conflict, retrying", "key", key, "attempt", attempt+1)
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("transact %s: %w", key, ErrTooManyRetries)
}

func (s *RedisKV) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	var keys []string
	iter := s.Redis.Scan(ctx, 0, s.k(prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}

	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := s.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget %s: %w", prefix, err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// ключ видалили між SCAN і MGET
			continue
		}
		out[keys[i][len(s.Namespace):]] = []byte(str)
	}
	return out, nil
}

func (s *RedisKV) Subscribe(ctx context.Context, prefix string) (<-chan Snapshot, func(), error) {
	pubsub := s.Redis.PSubscribe(ctx, s.channel(prefix)+"*")
	// чекаємо підтвердження, щоб не пропустити зміни одразу після повернення
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", prefix, err)
	}

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	out := make(chan Snapshot, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var change changeMessage
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.Log.Warn("dropping malformed change notification", "channel", msg.Channel, "error", err)
				continue
			}
			snap := Snapshot{Key: change.Key}
			if len(change.Value) > 0 && string(change.Value) != "null" {
				snap.Value = []byte(change.Value)
			}
			select {
			case out <- snap:
			case <-done:
				return
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return out, cancel, nil
}
