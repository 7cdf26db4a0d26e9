package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// MemoryKV is an in-process KV with the same optimistic semantics as RedisKV:
// fn runs outside the lock and the write only lands if the key's version is
// unchanged. Used by tests and single-node development runs.
type MemoryKV struct {
	mu      sync.Mutex
	data    map[string]memEntry
	seq     uint64
	subs    map[int]*memSub
	nextSub int

	MaxRetries int
	Log        *slog.Logger

	// BeforeCommit, when set, runs between fn and the version check.
	// Tests use it to inject a competing writer.
	BeforeCommit func(key string, attempt int)
}

type memEntry struct {
	value   []byte
	version uint64
}

type memSub struct {
	prefix string
	ch     chan Snapshot
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data:       make(map[string]memEntry),
		subs:       make(map[int]*memSub),
		MaxRetries: 32,
		Log:        slog.Default(),
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

func (s *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.data[key].value), nil
}

func (s *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(key, value)
	return nil
}

func (s *MemoryKV) Delete(ctx context.Context, key string) error {
	return s.Set(ctx, key, nil)
}

// writeLocked bumps the key's version even on delete so a racing Transact
// that read the old value still detects the change.
func (s *MemoryKV) writeLocked(key string, value []byte) {
	s.seq++
	s.data[key] = memEntry{value: clone(value), version: s.seq}
	for _, sub := range s.subs {
		if !strings.HasPrefix(key, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- Snapshot{Key: key, Value: clone(value)}:
		default:
			s.Log.Warn("subscriber is slow, dropping snapshot", "key", key)
		}
	}
}

func (s *MemoryKV) Transact(ctx context.Context, key string, fn TxFunc) error {
	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		entry := s.data[key]
		s.mu.Unlock()

		next, err := fn(clone(entry.value))
		if errors.Is(err, ErrAbort) {
			return nil
		}
		if err != nil {
			return err
		}

		if s.BeforeCommit != nil {
			s.BeforeCommit(key, attempt)
		}

		s.mu.Lock()
		if s.data[key].version != entry.version {
			s.mu.Unlock()
			continue
		}
		s.writeLocked(key, next)
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("transact %s: %w", key, ErrTooManyRetries)
}

func (s *MemoryKV) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]byte)
	for k, e := range s.data {
		if e.value != nil && strings.HasPrefix(k, prefix) {
			out[k] = clone(e.value)
		}
	}
	return out, nil
}

func (s *MemoryKV) Subscribe(ctx context.Context, prefix string) (<-chan Snapshot, func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	sub := &memSub{prefix: prefix, ch: make(chan Snapshot, 64)}
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			delete(s.subs, id)
			close(sub.ch)
			s.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel, nil
}
