package schema

import "time"

// Stage and PD step values understood by the directory-creation workflow.
const (
	SelectionAll = "all"

	StageSynth = "SYNTH"
	StagePD    = "PD"
	StageLEC   = "LEC"
	StageSTA   = "STA"

	StepFloorplan = "Floorplan"
	StepPlace     = "Place"
	StepCTS       = "CTS"
	StepRoute     = "Route"
)

// AllStages lists the stage blocks in canvas order.
var AllStages = []string{StageSynth, StagePD, StageLEC, StageSTA}

// AllPDSteps lists the physical-design sub-steps in canvas order.
var AllPDSteps = []string{StepFloorplan, StepPlace, StepCTS, StepRoute}

// FlowdirParameters is the parameter set of one FlowDir execution.
// It is derived from the graph on every attempt and never stored in it.
type FlowdirParameters struct {
	ProjectName      string `json:"projectName"`
	BlockName        string `json:"blockName"`
	ToolName         string `json:"toolName"`
	Stage            string `json:"stage"`
	RunName          string `json:"runName"`
	PDSteps          string `json:"pdSteps,omitempty"`
	ReferenceRun     string `json:"referenceRun,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	CentralScripts   string `json:"centralScripts,omitempty"`
	MCPServerURL     string `json:"mcpServerUrl,omitempty"`
}

// AsMap returns the parameters keyed by their JSON names, omitting empty values.
func (p FlowdirParameters) AsMap() map[string]any {
	m := map[string]any{
		"projectName": p.ProjectName,
		"blockName":   p.BlockName,
		"toolName":    p.ToolName,
		"stage":       p.Stage,
		"runName":     p.RunName,
	}
	opt := map[string]string{
		"pdSteps":          p.PDSteps,
		"referenceRun":     p.ReferenceRun,
		"workingDirectory": p.WorkingDirectory,
		"centralScripts":   p.CentralScripts,
		"mcpServerUrl":     p.MCPServerURL,
	}
	for k, v := range opt {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// FlowdirSummary carries the counts reported by the directory tool.
// Every count is optional; callers fall back to the created path list.
type FlowdirSummary struct {
	TotalDirs     *int   `json:"total_dirs,omitempty"`
	TotalFiles    *int   `json:"total_files,omitempty"`
	TotalSymlinks *int   `json:"total_symlinks,omitempty"`
	Project       string `json:"project,omitempty"`
	Block         string `json:"block,omitempty"`
	Run           string `json:"run,omitempty"`
	Tool          string `json:"tool,omitempty"`
}

// FlowdirResponse is the body returned by POST /api/dir-create/execute-flowdir.
type FlowdirResponse struct {
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime int64           `json:"executionTime"`
	CreatedPaths  []string        `json:"createdPaths"`
	Summary       *FlowdirSummary `json:"summary,omitempty"`
	Logs          []string        `json:"logs,omitempty"`
}

// AuditCreateRequest is the body of POST /api/flowdir-executions.
type AuditCreateRequest struct {
	FlowdirParameters
	FlowID string `json:"flowId,omitempty"`
}

// AuditCreateResponse is returned by POST /api/flowdir-executions.
type AuditCreateResponse struct {
	ID string `json:"id"`
}

// AuditUpdateRequest is the body of PUT /api/flowdir-executions/:id.
type AuditUpdateRequest struct {
	Success       bool     `json:"success"`
	ErrorMessage  string   `json:"errorMessage,omitempty"`
	TotalDirs     int      `json:"totalDirs"`
	TotalFiles    int      `json:"totalFiles"`
	TotalSymlinks int      `json:"totalSymlinks"`
	CreatedPaths  []string `json:"createdPaths,omitempty"`
	Logs          []string `json:"logs,omitempty"`
	ExecutionTime int64    `json:"executionTime,omitempty"`
}

// AuditStatus is the lifecycle state of an audit record.
type AuditStatus string

const (
	AuditStatusRunning   AuditStatus = "running"
	AuditStatusSucceeded AuditStatus = "succeeded"
	AuditStatusFailed    AuditStatus = "failed"
)

// AuditRecord is the server-side row tracking one FlowDir execution attempt.
type AuditRecord struct {
	ID            string            `json:"id"`
	FlowID        string            `json:"flowId,omitempty"`
	Parameters    FlowdirParameters `json:"parameters"`
	Status        AuditStatus       `json:"status"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	TotalDirs     int               `json:"totalDirs"`
	TotalFiles    int               `json:"totalFiles"`
	TotalSymlinks int               `json:"totalSymlinks"`
	CreatedPaths  []string          `json:"createdPaths,omitempty"`
	Logs          []string          `json:"logs,omitempty"`
	ExecutionTime int64             `json:"executionTime,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}
