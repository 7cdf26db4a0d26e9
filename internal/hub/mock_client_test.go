package hub_test

import (
	"context"
	"roomalloc/backend/internal/models"
	"sync"
)

type MockClient struct {
	sessionID   string
	RecvChannel chan models.RoomEvent

	mu     sync.Mutex
	closed int
}

func newMockClient(sessionID string, buffer int) *MockClient {
	return &MockClient{
		sessionID:   sessionID,
		RecvChannel: make(chan models.RoomEvent, buffer),
	}
}

func (c *MockClient) GetSessionID() string                    { return c.sessionID }
func (c *MockClient) GetSendChannel() chan<- models.RoomEvent { return c.RecvChannel }
func (c *MockClient) Run()                                    {}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
}

func (c *MockClient) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeFeed hands out one channel the test writes events into.
type fakeFeed struct {
	events    chan models.RoomEvent
	cancelled chan struct{}
	once      sync.Once
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan models.RoomEvent, 16), cancelled: make(chan struct{})}
}

func (f *fakeFeed) Subscribe(context.Context) (<-chan models.RoomEvent, func(), error) {
	return f.events, func() { f.once.Do(func() { close(f.cancelled) }) }, nil
}
