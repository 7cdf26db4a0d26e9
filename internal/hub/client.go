package hub

import "roomalloc/backend/internal/models"

// Client is one realtime subscriber, e.g. a browser tab over WebSocket.
type Client interface {
	// GetSessionID returns the session the connection was opened with.
	GetSessionID() string

	// GetSendChannel returns the channel the hub pushes room events into.
	GetSendChannel() chan<- models.RoomEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down. It must be safe to call more than once.
	Close()
}
