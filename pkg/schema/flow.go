package schema

import (
	"encoding/json"
	"time"
)

// NodeType is the canvas role of a node.
type NodeType string

const (
	NodeTypeInput   NodeType = "input"
	NodeTypeProcess NodeType = "process"
	NodeTypeOutput  NodeType = "output"
)

// NodeStatus is the execution status shown on a node.
type NodeStatus string

const (
	NodeStatusIdle    NodeStatus = "idle"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)

// InputType controls how a node's value is edited.
type InputType string

const (
	InputTypeText   InputType = "text"
	InputTypeSelect InputType = "select"
)

// Position is a free-form canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is the visible canvas window.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport is used when no canvas state is known.
var DefaultViewport = Viewport{Zoom: 1}

// NodeData is the user-facing configuration carried by a node.
// ParameterName is the semantic key (e.g. "stage_in_flow") used to interpret the node.
type NodeData struct {
	Label         string         `json:"label"`
	Status        NodeStatus     `json:"status,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	ParameterName string         `json:"parameterName,omitempty"`
	Value         string         `json:"value,omitempty"`
	InputType     InputType      `json:"inputType,omitempty"`
	Description   string         `json:"description,omitempty"`
	Options       []string       `json:"options,omitempty"`
}

// FlowNode is one vertex of the flow graph.
type FlowNode struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// FlowEdge connects two nodes.
type FlowEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	Animated     bool   `json:"animated"`
}

// EdgeID derives the deterministic edge id for a source/target pair.
func EdgeID(source, target string) string {
	return "e" + source + "-" + target
}

// NewEdge builds an animated edge with its derived id.
func NewEdge(source, target string) FlowEdge {
	return FlowEdge{ID: EdgeID(source, target), Source: source, Target: target, Animated: true}
}

// NodePatch is a partial update of NodeData. Nil fields are left untouched.
type NodePatch struct {
	Label         *string        `json:"label,omitempty"`
	Status        *NodeStatus    `json:"status,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	ParameterName *string        `json:"parameterName,omitempty"`
	Value         *string        `json:"value,omitempty"`
	InputType     *InputType     `json:"inputType,omitempty"`
	Description   *string        `json:"description,omitempty"`
	Options       []string       `json:"options,omitempty"`
}

// Merge returns a copy of d with the non-nil fields of p applied.
// Parameters are merged key by key.
func (d NodeData) Merge(p NodePatch) NodeData {
	out := d.Clone()
	if p.Label != nil {
		out.Label = *p.Label
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.ParameterName != nil {
		out.ParameterName = *p.ParameterName
	}
	if p.Value != nil {
		out.Value = *p.Value
	}
	if p.InputType != nil {
		out.InputType = *p.InputType
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Options != nil {
		out.Options = append([]string(nil), p.Options...)
	}
	if len(p.Parameters) > 0 {
		if out.Parameters == nil {
			out.Parameters = make(map[string]any, len(p.Parameters))
		}
		for k, v := range p.Parameters {
			out.Parameters[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of d (parameters are copied one level deep).
func (d NodeData) Clone() NodeData {
	out := d
	if d.Parameters != nil {
		out.Parameters = make(map[string]any, len(d.Parameters))
		for k, v := range d.Parameters {
			out.Parameters[k] = v
		}
	}
	if d.Options != nil {
		out.Options = append([]string(nil), d.Options...)
	}
	return out
}

// Clone returns a deep copy of n.
func (n FlowNode) Clone() FlowNode {
	n.Data = n.Data.Clone()
	return n
}

// StatusPatch builds a patch that only sets the status.
func StatusPatch(s NodeStatus) NodePatch {
	return NodePatch{Status: &s}
}

// ValuePatch builds a patch that only sets the value.
func ValuePatch(v string) NodePatch {
	return NodePatch{Value: &v}
}

// SavedFlow is a named flow as stored by the backend.
type SavedFlow struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Nodes             []FlowNode      `json:"nodes"`
	Edges             []FlowEdge      `json:"edges"`
	CanvasState       CanvasState     `json:"canvas_state"`
	WorkspaceSettings json.RawMessage `json:"workspaceSettings,omitempty"`
	IsAutoSave        bool            `json:"isAutoSave,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CanvasState is the persisted view state of a saved flow.
type CanvasState struct {
	Viewport Viewport `json:"viewport"`
}

// FlowSummary is a list entry of a saved flow.
type FlowSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	NodeCount  int       `json:"node_count"`
	EdgeCount  int       `json:"edge_count"`
	IsAutoSave bool      `json:"isAutoSave,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SaveFlowRequest is the body of POST /api/flows and /api/flows/autosave.
type SaveFlowRequest struct {
	ID                string          `json:"id,omitempty"`
	Name              string          `json:"name"`
	Nodes             []FlowNode      `json:"nodes"`
	Edges             []FlowEdge      `json:"edges"`
	Viewport          Viewport        `json:"viewport"`
	WorkspaceSettings json.RawMessage `json:"workspaceSettings,omitempty"`
	IsAutoSave        bool            `json:"isAutoSave,omitempty"`
}

// SaveFlowResponse is returned by POST /api/flows and /api/flows/autosave.
type SaveFlowResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExecuteFlowRequest is the body of POST /api/flows/execute.
type ExecuteFlowRequest struct {
	Nodes             []FlowNode      `json:"nodes"`
	Edges             []FlowEdge      `json:"edges"`
	WorkspaceSettings json.RawMessage `json:"workspaceSettings,omitempty"`
}

// ExecuteFlowResponse is the result of an ordinary multi-node execution.
type ExecuteFlowResponse struct {
	Success       bool     `json:"success"`
	Error         string   `json:"error,omitempty"`
	Message       string   `json:"message,omitempty"`
	ExecutedNodes int      `json:"executedNodes"`
	Order         []string `json:"order,omitempty"`
}
