package hub_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"roomalloc/backend/internal/hub"
	"roomalloc/backend/internal/models"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*hub.ManagerService, *fakeFeed, context.CancelFunc) {
	t.Helper()
	feed := newFakeFeed()
	h := hub.NewManagerService(feed, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	t.Cleanup(cancel)
	return h, feed, cancel
}

func event(room string) models.RoomEvent {
	return models.RoomEvent{RoomID: room, Field: "guests", Value: json.RawMessage(`[]`)}
}

func TestManager_RegisterUnregister(t *testing.T) {
	h, _, _ := startHub(t)
	clientA := newMockClient("session-a", 4)

	require.True(t, h.Register(clientA))
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.UnregisterCh <- clientA
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, clientA.Closed())
}

func TestManager_BroadcastsToEveryClient(t *testing.T) {
	h, feed, _ := startHub(t)
	a := newMockClient("session-a", 4)
	b := newMockClient("session-b", 4)
	require.True(t, h.Register(a))
	require.True(t, h.Register(b))

	feed.events <- event("R101")

	for _, c := range []*MockClient{a, b} {
		select {
		case ev := <-c.RecvChannel:
			assert.Equal(t, "R101", ev.RoomID)
		case <-time.After(time.Second):
			t.Fatalf("%s did not receive the event", c.GetSessionID())
		}
	}
}

func TestManager_DropsSlowClient(t *testing.T) {
	h, feed, _ := startHub(t)
	slow := newMockClient("session-slow", 0)
	require.True(t, h.Register(slow))

	feed.events <- event("R101")
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, slow.Closed())
}

func TestManager_StopClosesClientsAndFeed(t *testing.T) {
	h, feed, cancel := startHub(t)
	a := newMockClient("session-a", 4)
	require.True(t, h.Register(a))

	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	select {
	case <-feed.cancelled:
	default:
		t.Error("feed subscription was not cancelled")
	}
	assert.Equal(t, 1, a.Closed())
	assert.False(t, h.Register(newMockClient("session-late", 1)))
}

func TestWebSocketClient_ReceivesEvents(t *testing.T) {
	h, feed, _ := startHub(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := hub.NewWebSocketClient("session-ws", conn, h)
		if h.Register(c) {
			c.Run()
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	feed.events <- event("R201")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.RoomEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "R201", got.RoomID)
	assert.JSONEq(t, `[]`, string(got.Value))

	conn.Close()
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
