package models

import "encoding/json"

// RoomEvent is pushed to realtime clients whenever a room key changes.
// Value is the full new content of the key; null means the key was cleared.
type RoomEvent struct {
	RoomID string          `json:"roomId"`
	Field  string          `json:"field"`
	Value  json.RawMessage `json:"value"`
}
