package streaming

import (
	"context"
	"encoding/json"

	"github.com/rendis/skillscript/internal/store"
)

// StreamEvent is a live task event: lifecycle transitions, skipped or failed
// steps and delivered messages.
type StreamEvent struct {
	TaskID    string `json:"task_id"`
	ActorID   string `json:"actor_id,omitempty"`
	Step      string `json:"step,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	TaskID     string   `json:"task_id,omitempty"`
	ActorID    string   `json:"actor_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for live task events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// FromStoreEvent converts a journal event. A JSON payload is decoded so
// subscribers see structured data rather than raw bytes.
func FromStoreEvent(e *store.Event) StreamEvent {
	se := StreamEvent{
		TaskID:    e.TaskID,
		ActorID:   e.ActorID,
		Step:      e.Step,
		EventType: e.Type,
	}
	if len(e.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(e.Payload, &payload); err == nil {
			se.Payload = payload
		} else {
			se.Payload = string(e.Payload)
		}
	}
	return se
}
