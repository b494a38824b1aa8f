package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/pinnacle/internal/engine"
	"github.com/rendis/pinnacle/internal/graph"
	"github.com/rendis/pinnacle/internal/persistence"
	"github.com/rendis/pinnacle/internal/spawn"
	"github.com/rendis/pinnacle/internal/streaming"
	"github.com/rendis/pinnacle/pkg/schema"
)

// EditorServerDeps holds the dependencies for creating an EditorServer.
type EditorServerDeps struct {
	Graph        *graph.Store
	Persistence  *persistence.Manager
	Orchestrator *engine.Orchestrator
	IDs          spawn.IDFunc
	Hub          streaming.EventHub
	Logger       *slog.Logger
}

// EditorServer exposes one headless editor session as MCP tools.
type EditorServer struct {
	graph        *graph.Store
	persistence  *persistence.Manager
	orchestrator *engine.Orchestrator
	ids          spawn.IDFunc
	hub          streaming.EventHub
	logger       *slog.Logger
	sessions     *SessionRegistry
	mcpServer    *server.MCPServer
}

// NewEditorServer creates a new EditorServer with every flow tool registered.
func NewEditorServer(deps EditorServerDeps) *EditorServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	g := deps.Graph
	if g == nil {
		g = graph.NewStore()
	}
	ids := deps.IDs
	if ids == nil {
		ids = spawn.NewIDFunc(nil)
	}

	s := &EditorServer{
		graph:        g,
		persistence:  deps.Persistence,
		orchestrator: deps.Orchestrator,
		ids:          ids,
		hub:          deps.Hub,
		logger:       logger,
		sessions:     NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"pinnacle",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Pinnacle edits a FlowDir parameter graph. Use flow.graph to inspect the canvas, flow.add_node, flow.update_node, flow.delete_node and flow.connect to edit it, flow.execute to run it, and flow.approve or flow.cancel to resolve a FlowDir approval. flow.save, flow.load and flow.list manage saved flows."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *EditorServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *EditorServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the agent session registry.
func (s *EditorServer) Sessions() *SessionRegistry {
	return s.sessions
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *EditorServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: graphTool(), Handler: s.handleGraph},
		{Tool: addNodeTool(), Handler: s.handleAddNode},
		{Tool: updateNodeTool(), Handler: s.handleUpdateNode},
		{Tool: deleteNodeTool(), Handler: s.handleDeleteNode},
		{Tool: connectTool(), Handler: s.handleConnect},
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: loadTool(), Handler: s.handleLoad},
		{Tool: listTool(), Handler: s.handleList},
	}
}

// --- Tool definitions ---

func graphTool() mcp.Tool {
	return mcp.NewTool("flow.graph",
		mcp.WithDescription("Return the current flow graph, execution logs and execution state"),
	)
}

func addNodeTool() mcp.Tool {
	kinds := spawn.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return mcp.NewTool("flow.add_node",
		mcp.WithDescription("Add a palette node to the canvas"),
		mcp.WithString("kind", mcp.Required(), mcp.Enum(names...), mcp.Description("Palette kind of the node")),
		mcp.WithString("value", mcp.Description("Initial value")),
		mcp.WithNumber("x", mcp.Description("Canvas x position")),
		mcp.WithNumber("y", mcp.Description("Canvas y position")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent")),
	)
}

func updateNodeTool() mcp.Tool {
	return mcp.NewTool("flow.update_node",
		mcp.WithDescription("Update the label or value of a node"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node ID")),
		mcp.WithString("value", mcp.Description("New value")),
		mcp.WithString("label", mcp.Description("New label")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent")),
	)
}

func deleteNodeTool() mcp.Tool {
	return mcp.NewTool("flow.delete_node",
		mcp.WithDescription("Delete a node and every edge touching it"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Node ID")),
	)
}

func connectTool() mcp.Tool {
	return mcp.NewTool("flow.connect",
		mcp.WithDescription("Connect two nodes with an edge"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source node ID")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target node ID")),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("flow.execute",
		mcp.WithDescription("Execute the flow. A complete FlowDir parameter set opens an approval instead of running"),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent; receives execution notifications")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("flow.approve",
		mcp.WithDescription("Approve the pending FlowDir execution"),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("flow.cancel",
		mcp.WithDescription("Cancel the pending FlowDir execution"),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("flow.save",
		mcp.WithDescription("Save the flow under a name"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Flow name")),
		mcp.WithString("id", mcp.Description("Existing flow ID to overwrite")),
	)
}

func loadTool() mcp.Tool {
	return mcp.NewTool("flow.load",
		mcp.WithDescription("Load a saved flow onto the canvas"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Flow ID")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flow.list",
		mcp.WithDescription("List saved flows"),
	)
}

// executionEvents are forwarded to agents registered through agent_id.
var executionEvents = []string{
	schema.EventExecutionGated,
	schema.EventExecutionCompleted,
	schema.EventExecutionFailed,
	schema.EventExecutionCancelled,
}
