package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/internal/engine"
	"github.com/rendis/pinnacle/internal/flowclient"
	"github.com/rendis/pinnacle/internal/graph"
	"github.com/rendis/pinnacle/internal/persistence"
	"github.com/rendis/pinnacle/internal/session"
	"github.com/rendis/pinnacle/internal/spawn"
	"github.com/rendis/pinnacle/pkg/schema"
)

// --- Fake backend ---

// fakeBackend serves both the flow-storage and the execution side.
type fakeBackend struct {
	mu       sync.Mutex
	flows    map[string]*schema.SavedFlow
	flowdirs []schema.FlowdirParameters
	updates  []schema.AuditUpdateRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{flows: make(map[string]*schema.SavedFlow)}
}

func (b *fakeBackend) ListFlows(_ context.Context) ([]schema.FlowSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.FlowSummary, 0, len(b.flows))
	for _, f := range b.flows {
		out = append(out, schema.FlowSummary{ID: f.ID, Name: f.Name, NodeCount: len(f.Nodes), EdgeCount: len(f.Edges), UpdatedAt: f.UpdatedAt})
	}
	return out, nil
}

func (b *fakeBackend) GetFlow(_ context.Context, id string) (*schema.SavedFlow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.flows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %q not found", id)
	}
	return f, nil
}

func (b *fakeBackend) SaveFlow(_ context.Context, req schema.SaveFlowRequest) (*schema.SaveFlowResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.ID == "" {
		req.ID = fmt.Sprintf("flow-%d", len(b.flows)+1)
	}
	now := time.Now().UTC()
	b.flows[req.ID] = &schema.SavedFlow{
		ID: req.ID, Name: req.Name, Nodes: req.Nodes, Edges: req.Edges,
		CanvasState: schema.CanvasState{Viewport: req.Viewport}, UpdatedAt: now,
	}
	return &schema.SaveFlowResponse{ID: req.ID, Name: req.Name, UpdatedAt: now}, nil
}

func (b *fakeBackend) Autosave(ctx context.Context, req schema.SaveFlowRequest) (*schema.SaveFlowResponse, error) {
	return b.SaveFlow(ctx, req)
}

func (b *fakeBackend) DeleteFlow(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.flows, id)
	return nil
}

func (b *fakeBackend) GetWorkspaceSettings(_ context.Context) (json.RawMessage, error) {
	return nil, nil
}

func (b *fakeBackend) ExecuteFlow(_ context.Context, req schema.ExecuteFlowRequest) (*schema.ExecuteFlowResponse, error) {
	return &schema.ExecuteFlowResponse{Success: true, ExecutedNodes: len(req.Nodes)}, nil
}

func (b *fakeBackend) CreateAudit(_ context.Context, _ schema.AuditCreateRequest) (string, error) {
	return "audit-1", nil
}

func (b *fakeBackend) UpdateAudit(_ context.Context, _ string, req schema.AuditUpdateRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, req)
	return nil
}

func (b *fakeBackend) ExecuteFlowdir(_ context.Context, p schema.FlowdirParameters) (*flowclient.FlowdirResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flowdirs = append(b.flowdirs, p)
	return &flowclient.FlowdirResult{FlowdirResponse: schema.FlowdirResponse{
		Success:      true,
		CreatedPaths: []string{"/w/" + p.ProjectName},
	}}, nil
}

// --- Fixture ---

type fixture struct {
	s       *EditorServer
	graph   *graph.Store
	backend *fakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := graph.NewStore()
	canvas := graph.NewStoreCanvas(g)
	backend := newFakeBackend()
	ids := spawn.NewIDFunc(nil)

	pm := persistence.NewManager(g, canvas, session.NewMemoryCache(), backend, spawn.NewGenerator(ids))
	orch := engine.NewOrchestrator(g, canvas, backend)

	return &fixture{
		s: NewEditorServer(EditorServerDeps{
			Graph:        g,
			Persistence:  pm,
			Orchestrator: orch,
			IDs:          ids,
		}),
		graph:   g,
		backend: backend,
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func (f *fixture) addNode(t *testing.T, kind, value string) schema.FlowNode {
	t.Helper()
	result, err := f.s.handleAddNode(context.Background(), buildRequest("flow.add_node", map[string]any{
		"kind":  kind,
		"value": value,
		"x":     100.0,
		"y":     50.0,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var node schema.FlowNode
	unmarshalResult(t, result, &node)
	return node
}

// --- Tests ---

func TestAddNode(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "project", "chip")

	assert.Equal(t, "project_name", node.Data.ParameterName)
	assert.Equal(t, "chip", node.Data.Value)
	assert.Equal(t, schema.Position{X: 100, Y: 50}, node.Position)

	stored, ok := f.graph.Snapshot().Node(node.ID)
	require.True(t, ok)
	assert.Equal(t, node, stored)
}

func TestAddNodeUnknownKind(t *testing.T) {
	f := newFixture(t)
	result, err := f.s.handleAddNode(context.Background(), buildRequest("flow.add_node", map[string]any{"kind": "spaceship"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.s.handleAddNode(context.Background(), buildRequest("flow.add_node", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestUpdateNode(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "block", "")

	result, err := f.s.handleUpdateNode(context.Background(), buildRequest("flow.update_node", map[string]any{
		"id":    node.ID,
		"value": "cpu",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var updated schema.FlowNode
	unmarshalResult(t, result, &updated)
	assert.Equal(t, "cpu", updated.Data.Value)
	assert.Equal(t, "Block Name", updated.Data.Label)
}

func TestUpdateNodeErrors(t *testing.T) {
	f := newFixture(t)
	node := f.addNode(t, "block", "")

	result, err := f.s.handleUpdateNode(context.Background(), buildRequest("flow.update_node", map[string]any{"id": "ghost", "value": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.s.handleUpdateNode(context.Background(), buildRequest("flow.update_node", map[string]any{"id": node.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestConnectAndDelete(t *testing.T) {
	f := newFixture(t)
	a := f.addNode(t, "project", "chip")
	b := f.addNode(t, "block", "cpu")

	result, err := f.s.handleConnect(context.Background(), buildRequest("flow.connect", map[string]any{"source": a.ID, "target": b.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Len(t, f.graph.Edges(), 1)
	assert.Equal(t, schema.EdgeID(a.ID, b.ID), f.graph.Edges()[0].ID)

	// duplicate, self-loop and dangling connections are rejected
	for _, args := range []map[string]any{
		{"source": a.ID, "target": b.ID},
		{"source": a.ID, "target": a.ID},
		{"source": a.ID, "target": "ghost"},
	} {
		result, err = f.s.handleConnect(context.Background(), buildRequest("flow.connect", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "%v", args)
	}

	result, err = f.s.handleDeleteNode(context.Background(), buildRequest("flow.delete_node", map[string]any{"id": a.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Len(t, f.graph.Nodes(), 1)
	assert.Empty(t, f.graph.Edges())

	result, err = f.s.handleDeleteNode(context.Background(), buildRequest("flow.delete_node", map[string]any{"id": a.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteDirect(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "project", "chip")

	result, err := f.s.handleExecute(context.Background(), buildRequest("flow.execute", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out engine.Outcome
	unmarshalResult(t, result, &out)
	assert.Equal(t, schema.ExecutionCompleted, out.State)
	assert.Contains(t, f.graph.Logs(), "Flow executed successfully: 1 nodes processed")
}

func TestExecuteApproveFlowdir(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "project", "chip")
	f.addNode(t, "block", "cpu")
	f.addNode(t, "tool", "cadence")

	result, err := f.s.handleExecute(context.Background(), buildRequest("flow.execute", nil))
	require.NoError(t, err)
	var out engine.Outcome
	unmarshalResult(t, result, &out)
	require.Equal(t, schema.ExecutionGated, out.State)
	require.NotNil(t, out.Parameters)
	assert.Equal(t, "chip", out.Parameters.ProjectName)

	// the pending approval is visible in the graph view
	result, err = f.s.handleGraph(context.Background(), buildRequest("flow.graph", nil))
	require.NoError(t, err)
	var view graphView
	unmarshalResult(t, result, &view)
	assert.Equal(t, string(schema.ExecutionGated), view.State)
	assert.NotNil(t, view.PendingApproval)

	result, err = f.s.handleApprove(context.Background(), buildRequest("flow.approve", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	unmarshalResult(t, result, &out)
	assert.Equal(t, schema.ExecutionCompleted, out.State)

	require.Len(t, f.backend.flowdirs, 1)
	assert.Equal(t, "cadence", f.backend.flowdirs[0].ToolName)
	require.Len(t, f.backend.updates, 1)
	assert.True(t, f.backend.updates[0].Success)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)

	result, err := f.s.handleCancel(context.Background(), buildRequest("flow.cancel", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError, "nothing to cancel")

	f.addNode(t, "project", "chip")
	f.addNode(t, "block", "cpu")
	f.addNode(t, "tool", "synopsys")
	_, err = f.s.handleExecute(context.Background(), buildRequest("flow.execute", nil))
	require.NoError(t, err)

	result, err = f.s.handleCancel(context.Background(), buildRequest("flow.cancel", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, schema.ExecutionIdle, f.s.orchestrator.State())
	assert.Empty(t, f.backend.flowdirs)
}

func TestSaveListLoad(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "project", "chip")

	result, err := f.s.handleSave(context.Background(), buildRequest("flow.save", map[string]any{"name": "first"}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var saved schema.SaveFlowResponse
	unmarshalResult(t, result, &saved)
	require.NotEmpty(t, saved.ID)

	result, err = f.s.handleList(context.Background(), buildRequest("flow.list", nil))
	require.NoError(t, err)
	var flows []schema.FlowSummary
	unmarshalResult(t, result, &flows)
	require.Len(t, flows, 1)
	assert.Equal(t, "first", flows[0].Name)

	f.graph.ClearFlow()
	require.Empty(t, f.graph.Nodes())

	result, err = f.s.handleLoad(context.Background(), buildRequest("flow.load", map[string]any{"id": saved.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var view graphView
	unmarshalResult(t, result, &view)
	require.Len(t, view.Nodes, 1)
	assert.Equal(t, saved.ID, view.FlowID)
	assert.Equal(t, "first", view.FlowName)
}

func TestSaveLoadErrors(t *testing.T) {
	f := newFixture(t)

	result, err := f.s.handleSave(context.Background(), buildRequest("flow.save", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.s.handleLoad(context.Background(), buildRequest("flow.load", map[string]any{"id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestToolsWithoutSession(t *testing.T) {
	s := NewEditorServer(EditorServerDeps{})
	ctx := context.Background()

	for name, h := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"flow.execute": s.handleExecute,
		"flow.approve": s.handleApprove,
		"flow.cancel":  s.handleCancel,
		"flow.list":    s.handleList,
		"flow.save":    s.handleSave,
		"flow.load":    s.handleLoad,
	} {
		result, err := h(ctx, buildRequest(name, map[string]any{"name": "x", "id": "y"}))
		require.NoError(t, err)
		assert.True(t, result.IsError, name)
	}

	result, err := s.handleGraph(ctx, buildRequest("flow.graph", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
