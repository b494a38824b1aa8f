package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/pinnacle/internal/spawn"
	"github.com/rendis/pinnacle/pkg/schema"
)

// graphView is the flow.graph result.
type graphView struct {
	Nodes           []schema.FlowNode `json:"nodes"`
	Edges           []schema.FlowEdge `json:"edges"`
	Logs            []string          `json:"logs"`
	IsExecuting     bool              `json:"isExecuting"`
	State           string            `json:"state,omitempty"`
	PendingApproval any               `json:"pendingApproval,omitempty"`
	FlowID          string            `json:"flowId,omitempty"`
	FlowName        string            `json:"flowName,omitempty"`
	Dirty           bool              `json:"dirty"`
}

// handleGraph returns the session snapshot.
func (s *EditorServer) handleGraph(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.graph.Snapshot()
	view := graphView{
		Nodes:       snap.Nodes,
		Edges:       snap.Edges,
		Logs:        snap.ExecutionLogs,
		IsExecuting: snap.IsExecuting,
	}
	if s.orchestrator != nil {
		view.State = string(s.orchestrator.State())
		if req := s.orchestrator.Gate().Pending(); req != nil {
			view.PendingApproval = req
		}
	}
	if s.persistence != nil {
		view.FlowID, view.FlowName = s.persistence.CurrentFlow()
		view.Dirty = s.persistence.Dirty()
	}
	return marshalResult(view)
}

// handleAddNode adds a palette node. Tool-selection triggers spawn through the
// session's watcher, not here.
func (s *EditorServer) handleAddNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	s.captureSession(ctx, req.GetString("agent_id", ""))

	pos := schema.Position{X: req.GetFloat("x", 0), Y: req.GetFloat("y", 0)}
	node, err := spawn.NewNode(spawn.Kind(kind), pos, req.GetString("value", ""), s.ids)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.graph.AddNode(node)
	return marshalResult(node)
}

// handleUpdateNode patches the label and/or value of a node.
func (s *EditorServer) handleUpdateNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	s.captureSession(ctx, req.GetString("agent_id", ""))
	if _, ok := s.graph.Snapshot().Node(id); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("node %q not found", id)), nil
	}

	var patch schema.NodePatch
	args := req.GetArguments()
	if _, ok := args["value"]; ok {
		v := req.GetString("value", "")
		patch.Value = &v
	}
	if _, ok := args["label"]; ok {
		l := req.GetString("label", "")
		patch.Label = &l
	}
	if patch.Value == nil && patch.Label == nil {
		return mcp.NewToolResultError("at least one of value or label is required"), nil
	}

	s.graph.UpdateNode(id, patch)
	node, _ := s.graph.Snapshot().Node(id)
	return marshalResult(node)
}

// handleDeleteNode removes a node and its edges.
func (s *EditorServer) handleDeleteNode(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	if _, ok := s.graph.Snapshot().Node(id); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("node %q not found", id)), nil
	}
	s.graph.DeleteNode(id)
	return marshalResult(map[string]any{"ok": true, "id": id})
}

// handleConnect adds an edge between two existing nodes.
func (s *EditorServer) handleConnect(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required"), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError("target is required"), nil
	}
	if source == target {
		return mcp.NewToolResultError("cannot connect a node to itself"), nil
	}
	snap := s.graph.Snapshot()
	for _, id := range []string{source, target} {
		if _, ok := snap.Node(id); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("node %q not found", id)), nil
		}
	}
	edge := schema.NewEdge(source, target)
	for _, e := range snap.Edges {
		if e.ID == edge.ID {
			return mcp.NewToolResultError(fmt.Sprintf("edge %q already exists", edge.ID)), nil
		}
	}
	s.graph.AddEdge(edge)
	return marshalResult(edge)
}

// handleExecute starts an execution.
func (s *EditorServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.orchestrator == nil {
		return mcp.NewToolResultError("execution is not configured"), nil
	}
	s.captureSession(ctx, req.GetString("agent_id", ""))
	out, err := s.orchestrator.Execute(ctx)
	return outcomeResult(out, err)
}

// handleApprove runs the gated FlowDir execution.
func (s *EditorServer) handleApprove(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.orchestrator == nil {
		return mcp.NewToolResultError("execution is not configured"), nil
	}
	out, err := s.orchestrator.Approve(ctx)
	return outcomeResult(out, err)
}

// handleCancel dismisses the gated FlowDir execution.
func (s *EditorServer) handleCancel(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.orchestrator == nil {
		return mcp.NewToolResultError("execution is not configured"), nil
	}
	if err := s.orchestrator.Cancel(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"ok": true, "state": s.orchestrator.State()})
}

// handleSave saves the flow.
func (s *EditorServer) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.persistence == nil {
		return mcp.NewToolResultError("persistence is not configured"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}
	resp, err := s.persistence.Save(ctx, name, req.GetString("id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("save failed: %v", err)), nil
	}
	return marshalResult(resp)
}

// handleLoad replaces the canvas with a saved flow.
func (s *EditorServer) handleLoad(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.persistence == nil {
		return mcp.NewToolResultError("persistence is not configured"), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	if err := s.persistence.Load(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
	}
	return s.handleGraph(ctx, req)
}

// handleList lists saved flows.
func (s *EditorServer) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.persistence == nil {
		return mcp.NewToolResultError("persistence is not configured"), nil
	}
	flows, err := s.persistence.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	if flows == nil {
		flows = []schema.FlowSummary{}
	}
	return marshalResult(flows)
}

// outcomeResult reports an orchestrator call. A failed execution still
// returns its outcome so the agent sees the final state.
func outcomeResult(out any, err error) (*mcp.CallToolResult, error) {
	if err == nil {
		return marshalResult(out)
	}
	data, merr := json.Marshal(map[string]any{"error": err.Error(), "outcome": out})
	if merr != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// captureSession records the caller's MCP session for notifications.
func (s *EditorServer) captureSession(ctx context.Context, agentID string) {
	if agentID == "" {
		return
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
