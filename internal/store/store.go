package store

import (
	"context"
	"encoding/json"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Flows
	UpsertFlow(ctx context.Context, flow *schema.SavedFlow) error
	GetFlow(ctx context.Context, id string) (*schema.SavedFlow, error)
	ListFlows(ctx context.Context, filter FlowFilter) ([]*schema.FlowSummary, error)
	DeleteFlow(ctx context.Context, id string) error

	// FlowDir audit records
	CreateExecution(ctx context.Context, rec *schema.AuditRecord) error
	CompleteExecution(ctx context.Context, id string, update schema.AuditUpdateRequest) error
	GetExecution(ctx context.Context, id string) (*schema.AuditRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.AuditRecord, error)

	// Session cache
	PutSession(ctx context.Context, key string, data json.RawMessage) error
	GetSession(ctx context.Context, key string) (*SessionEntry, error)
	DeleteSession(ctx context.Context, key string) error

	// Settings
	PutSetting(ctx context.Context, key string, value json.RawMessage) error
	GetSetting(ctx context.Context, key string) (json.RawMessage, error)

	// Activity log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	RecordEvent(ctx context.Context, flowID, eventType string, payload any) error
	GetEvents(ctx context.Context, flowID string, since int64) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

var _ Store = (*LibSQLStore)(nil)
