package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/pinnacle/internal/streaming"
)

// NotificationMethod is the MCP method used for flow event notifications.
const NotificationMethod = "notifications/message"

// AgentNotifier pushes notifications to connected agents.
type AgentNotifier interface {
	Notify(ctx context.Context, agentID string, payload map[string]any) error
}

// MCPNotifier delivers notifications to the MCP session an agent last used.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier over mcpServer's sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends payload to agentID. Unknown agents are ignored and agents
// whose session is gone are unregistered.
func (n *MCPNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(agentID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, NotificationMethod, payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// ForwardEvents relays execution lifecycle events from the hub to every
// registered agent until ctx is cancelled.
func (s *EditorServer) ForwardEvents(ctx context.Context, notifier AgentNotifier) error {
	if s.hub == nil {
		return nil
	}
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: executionEvents})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			s.broadcast(ctx, notifier, eventNotification(ev))
		}
	}
}

func (s *EditorServer) broadcast(ctx context.Context, notifier AgentNotifier, payload map[string]any) {
	for _, agentID := range s.sessions.Agents() {
		if err := notifier.Notify(ctx, agentID, payload); err != nil {
			s.logger.WarnContext(ctx, "agent notification failed", "agent_id", agentID, "error", err)
		}
	}
}

func eventNotification(ev streaming.StreamEvent) map[string]any {
	n := map[string]any{
		"event":        ev.EventType,
		"execution_id": ev.ExecutionID,
		"payload":      ev.Payload,
	}
	if ev.FlowID != "" {
		n["flow_id"] = ev.FlowID
	}
	if !ev.Timestamp.IsZero() {
		n["timestamp"] = ev.Timestamp
	}
	return n
}
