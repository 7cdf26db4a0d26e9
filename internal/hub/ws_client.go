package hub

import (
	"encoding/json"
	"log/slog"
	"roomalloc/backend/internal/models"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// WebSocketClient реалізує інтерфейс hub.Client
type WebSocketClient struct {
	SessionID string
	Conn      *websocket.Conn
	Hub       *ManagerService
	Send      chan models.RoomEvent
	Log       *slog.Logger

	closeOnce sync.Once
}

func NewWebSocketClient(sessionID string, conn *websocket.Conn, h *ManagerService) *WebSocketClient {
	return &WebSocketClient{
		SessionID: sessionID,
		Conn:      conn,
		Hub:       h,
		Send:      make(chan models.RoomEvent, sendBuffer),
		Log:       h.Log.With("session_id", sessionID),
	}
}

func (c *WebSocketClient) GetSessionID() string                    { return c.SessionID }
func (c *WebSocketClient) GetSendChannel() chan<- models.RoomEvent { return c.Send }

// Run запускає 'pumps' для WebSocket
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close закриває Send канал (що зупинить writePump)
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}

// readPump only keeps the connection alive and notices when it goes away;
// the feed is one-way and anything the client sends is discarded.
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.Hub.UnregisterCh <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Warn("websocket read failed", "error", err)
			}
			return
		}
	}
}

// writePump читає події з каналу Send і записує їх у WebSocket, по одній на фрейм.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрито хабом, закриваємо з'єднання WS
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.Log.Error("failed to encode room event", "room_id", ev.RoomID, "error", err)
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
