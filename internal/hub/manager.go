// Package hub fans room changes out to connected realtime clients.
package hub

import (
	"context"
	"log/slog"
	"roomalloc/backend/internal/models"
	"sync"
)

// RoomFeed is the source of room change events.
type RoomFeed interface {
	Subscribe(ctx context.Context) (<-chan models.RoomEvent, func(), error)
}

// ManagerService owns the set of connected clients. All mutations of that set
// happen on the Run goroutine; the mutex only guards reads from elsewhere.
type ManagerService struct {
	mu      sync.RWMutex
	clients map[Client]struct{}

	RegisterCh   chan Client
	UnregisterCh chan Client
	done         chan struct{}

	Feed RoomFeed
	Log  *slog.Logger
}

func NewManagerService(feed RoomFeed, log *slog.Logger) *ManagerService {
	if log == nil {
		log = slog.Default()
	}
	return &ManagerService{
		clients:      make(map[Client]struct{}),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		done:         make(chan struct{}),
		Feed:         feed,
		Log:          log.With("component", "hub"),
	}
}

// Register hands c to the Run loop. It reports false once the hub has stopped.
func (m *ManagerService) Register(c Client) bool {
	select {
	case m.RegisterCh <- c:
		return true
	case <-m.done:
		return false
	}
}

// ClientCount returns how many clients are currently registered.
func (m *ManagerService) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Done is closed once Run has returned.
func (m *ManagerService) Done() <-chan struct{} {
	return m.done
}

// Run subscribes to the feed and dispatches until ctx ends or the feed closes.
func (m *ManagerService) Run(ctx context.Context) error {
	defer close(m.done)
	events, cancel, err := m.Feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer m.closeAll()

	m.Log.Info("hub started")
	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-m.RegisterCh:
			m.mu.Lock()
			m.clients[c] = struct{}{}
			m.mu.Unlock()
			m.Log.Debug("client registered", "session_id", c.GetSessionID())

		case c := <-m.UnregisterCh:
			m.remove(c)

		case ev, ok := <-events:
			if !ok {
				m.Log.Warn("room feed closed")
				return nil
			}
			m.broadcast(ev)
		}
	}
}

func (m *ManagerService) broadcast(ev models.RoomEvent) {
	m.mu.RLock()
	var slow []Client
	for c := range m.clients {
		select {
		case c.GetSendChannel() <- ev:
		default:
			// повільний клієнт: відключаємо, він перечитає стан після reconnect
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range slow {
		m.Log.Warn("dropping slow client", "session_id", c.GetSessionID())
		m.remove(c)
	}
}

func (m *ManagerService) remove(c Client) {
	m.mu.Lock()
	_, ok := m.clients[c]
	delete(m.clients, c)
	m.mu.Unlock()
	if ok {
		c.Close()
		m.Log.Debug("client unregistered", "session_id", c.GetSessionID())
	}
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[Client]struct{})
	m.mu.Unlock()
	for c := range clients {
		c.Close()
	}
}
