package schema

// Event type constants published on the streaming hub.
const (
	EventFlowSaved    = "flow_saved"
	EventFlowDeleted  = "flow_deleted"
	EventFlowAutosave = "flow_autosaved"

	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionGated     = "execution_gated"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionLog       = "execution_log"

	EventAuditCreated = "audit_created"
	EventAuditUpdated = "audit_updated"

	EventNodesSpawned = "nodes_spawned"
)

// ExecutionState is a state of the execution orchestrator.
type ExecutionState string

const (
	ExecutionIdle             ExecutionState = "idle"
	ExecutionExtracting       ExecutionState = "extracting"
	ExecutionGated            ExecutionState = "gated"
	ExecutionDirectExecuting  ExecutionState = "direct_executing"
	ExecutionFlowdirExecuting ExecutionState = "flowdir_executing"
	ExecutionCompleted        ExecutionState = "completed"
	ExecutionFailed           ExecutionState = "failed"
)
