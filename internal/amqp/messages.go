package amqp

import (
	"encoding/json"
	"time"
)

// MovementSyncMessage announces a new version of a daily movement.
// It carries only the ID and version; the worker fetches the full movement
// from the database.
type MovementSyncMessage struct {
	MovementID int64     `json:"movement_id"`
	Version    int64     `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMovementSyncMessage creates a new sync message with just ID and version
func NewMovementSyncMessage(movementID, version int64) *MovementSyncMessage {
	return &MovementSyncMessage{
		MovementID: movementID,
		Version:    version,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *MovementSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MovementSyncMessageFromJSON creates a message from JSON bytes
func MovementSyncMessageFromJSON(data []byte) (*MovementSyncMessage, error) {
	var msg MovementSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
