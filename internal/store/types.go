package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Event is an immutable entry in a flow's activity log.
type Event struct {
	ID        int64           `json:"id"`
	FlowID    string          `json:"flow_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// SessionEntry is a stored editor session snapshot.
type SessionEntry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FlowFilter narrows ListFlows.
type FlowFilter struct {
	ExcludeAutoSave bool
	Limit           int
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	FlowID string
	Status schema.AuditStatus
	Limit  int
}
