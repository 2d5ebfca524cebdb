package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried on every topic. SceneID keys the Kafka
// message so per-scene ordering is preserved.
type Event struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	SceneID   string                 `json:"scene_id"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent builds an event with a fresh id and UTC timestamp.
func NewEvent(eventType, source, sceneID string, payload map[string]interface{}) Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		SceneID:   sceneID,
		Payload:   payload,
	}
}

// StringField extracts a string payload field, tolerating absence.
func (e Event) StringField(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
