package handler

import (
	"net/http"
	"roomalloc/backend/internal/hub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену. У продакшені налаштувати!
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket і підписує клієнта на зміни кімнат
func (h *Handler) ServeWebSocket(c *gin.Context) {
	token := bearer(c)
	if token == "" {
		h.abort(c, http.StatusUnauthorized, "error.unauthorized")
		return
	}
	sessionID, err := h.Sessions.Parse(token)
	if err != nil {
		h.abort(c, http.StatusUnauthorized, "error.unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.Log.WarnContext(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}

	client := hub.NewWebSocketClient(sessionID, conn, h.Hub)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}
	client.Run()
}
