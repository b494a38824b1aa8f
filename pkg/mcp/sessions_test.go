package mcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/pinnacle/internal/streaming"
	"github.com/rendis/pinnacle/pkg/schema"
)

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("agent-1")
	assert.False(t, ok)

	r.Register("agent-1", "sess-1")
	r.Register("agent-2", "sess-2")
	sid, ok := r.SessionFor("agent-1")
	require.True(t, ok)
	assert.Equal(t, "sess-1", sid)
	assert.Equal(t, []string{"agent-1", "agent-2"}, r.Agents())

	// reconnect overwrites
	r.Register("agent-1", "sess-3")
	sid, _ = r.SessionFor("agent-1")
	assert.Equal(t, "sess-3", sid)

	r.Remove("sess-3")
	_, ok = r.SessionFor("agent-1")
	assert.False(t, ok)
	assert.Equal(t, []string{"agent-2"}, r.Agents())
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]map[string]any
}

func (n *recordingNotifier) Notify(_ context.Context, agentID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]map[string]any)
	}
	n.sent[agentID] = append(n.sent[agentID], payload)
	return nil
}

func (n *recordingNotifier) count(agentID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent[agentID])
}

func TestForwardEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := NewEditorServer(EditorServerDeps{Hub: hub})
	s.Sessions().Register("agent-1", "sess-1")

	ctx, cancel := context.WithCancel(context.Background())
	notifier := &recordingNotifier{}
	done := make(chan error, 1)
	go func() { done <- s.ForwardEvents(ctx, notifier) }()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	streaming.Emit(ctx, hub, streaming.StreamEvent{EventType: schema.EventExecutionLog, ExecutionID: "x"})
	streaming.Emit(ctx, hub, streaming.StreamEvent{EventType: schema.EventExecutionGated, ExecutionID: "x"})

	require.Eventually(t, func() bool { return notifier.count("agent-1") == 1 }, time.Second, 5*time.Millisecond)
	notifier.mu.Lock()
	assert.Equal(t, schema.EventExecutionGated, notifier.sent["agent-1"][0]["event"])
	notifier.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ForwardEvents did not stop")
	}
}

func TestForwardEvents_NoHub(t *testing.T) {
	s := NewEditorServer(EditorServerDeps{})
	assert.NoError(t, s.ForwardEvents(context.Background(), &recordingNotifier{}))
}
