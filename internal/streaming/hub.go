package streaming

import (
	"context"
	"slices"
	"time"
)

// StreamEvent is a real-time event emitted by an editor session or the backend.
type StreamEvent struct {
	FlowID      string    `json:"flow_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	NodeID      string    `json:"node_id,omitempty"`
	EventType   string    `json:"event_type"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	FlowID      string   `json:"flow_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
	NodeID      string   `json:"node_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e StreamEvent) bool {
	switch {
	case f.FlowID != "" && f.FlowID != e.FlowID:
		return false
	case f.ExecutionID != "" && f.ExecutionID != e.ExecutionID:
		return false
	case f.NodeID != "" && f.NodeID != e.NodeID:
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.EventType)
}

// EventHub provides pub/sub for real-time flow events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// Emit publishes an event and drops the error. Nil hubs are ignored.
func Emit(ctx context.Context, hub EventHub, event StreamEvent) {
	if hub == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_ = hub.Publish(ctx, event)
}
