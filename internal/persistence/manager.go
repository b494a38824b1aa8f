// Package persistence layers the session cache over the backend flow store
// and keeps both in step with the Graph Store.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/pinnacle/internal/graph"
	"github.com/rendis/pinnacle/internal/logging"
	"github.com/rendis/pinnacle/internal/session"
	"github.com/rendis/pinnacle/internal/spawn"
	"github.com/rendis/pinnacle/pkg/schema"
)

// Backend is the flow-storage service. *flowclient.Client satisfies it.
type Backend interface {
	ListFlows(ctx context.Context) ([]schema.FlowSummary, error)
	GetFlow(ctx context.Context, id string) (*schema.SavedFlow, error)
	SaveFlow(ctx context.Context, req schema.SaveFlowRequest) (*schema.SaveFlowResponse, error)
	Autosave(ctx context.Context, req schema.SaveFlowRequest) (*schema.SaveFlowResponse, error)
	DeleteFlow(ctx context.Context, id string) error
	GetWorkspaceSettings(ctx context.Context) (json.RawMessage, error)
}

// Tier names the source that populated the graph on mount.
type Tier string

const (
	TierSession   Tier = "session"
	TierBackend   Tier = "backend"
	TierBootstrap Tier = "bootstrap"
	// TierExisting means the graph already held user content and was left alone.
	TierExisting Tier = "existing"
)

// Manager owns the mount sequence, session mirroring and explicit
// save/load/delete of named flows.
type Manager struct {
	store   *graph.Store
	canvas  graph.Canvas
	cache   session.Cache
	backend Backend
	gen     *spawn.Generator
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	currentID   string
	currentName string
	unsubscribe func()

	dirty atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the clock used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. Call Start to begin mirroring.
func NewManager(store *graph.Store, canvas graph.Canvas, cache session.Cache, backend Backend, gen *spawn.Generator, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		canvas:  canvas,
		cache:   cache,
		backend: backend,
		gen:     gen,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start subscribes the session mirror to the Graph Store.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe == nil {
		m.unsubscribe = m.store.Subscribe(m.mirror)
	}
}

// Stop removes the session mirror.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// CurrentFlow returns the id and name of the last saved or loaded flow.
func (m *Manager) CurrentFlow() (id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID, m.currentName
}

// Dirty reports whether the graph changed since the last save or autosave.
func (m *Manager) Dirty() bool { return m.dirty.Load() }

// mirror writes the session cache after every structural mutation once the
// graph holds anything.
func (m *Manager) mirror(c graph.Change) {
	if !c.Structural() {
		return
	}
	m.dirty.Store(true)
	st := m.store.Snapshot()
	if len(st.Nodes) == 0 && len(st.Edges) == 0 {
		return
	}
	snap := session.Snapshot{
		Nodes:     st.Nodes,
		Edges:     st.Edges,
		Viewport:  m.canvas.Viewport(),
		Timestamp: m.now().UnixMilli(),
	}
	if err := m.cache.Save(context.Background(), snap); err != nil {
		m.logger.Warn("session mirror failed", "op", string(c.Op), "error", err)
	}
}

// Mount populates the graph from the first tier that has content: the
// session cache, then the most recently updated named flow, then the default
// bootstrap chain. Tier failures are logged and fall through to the next tier.
func (m *Manager) Mount(ctx context.Context) (Tier, error) {
	tier, err := m.mount(ctx)
	if err != nil {
		return "", err
	}
	if m.store.WorkspaceSettings() == nil {
		m.store.SetWorkspaceSettings(m.FetchWorkspaceSettings(ctx))
	}
	m.logger.InfoContext(ctx, "flow mounted", "tier", string(tier),
		"nodes", len(m.store.Nodes()), "edges", len(m.store.Edges()))
	return tier, nil
}

func (m *Manager) mount(ctx context.Context) (Tier, error) {
	snap, err := m.cache.Load(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "session restore failed, starting empty", "error", err)
		snap = nil
	}
	if snap != nil && !snap.Empty() {
		m.store.Replace(snap.Nodes, snap.Edges, m.store.WorkspaceSettings())
		m.canvas.SetViewport(snap.Viewport)
		return TierSession, nil
	}

	if id := m.latestFlowID(ctx); id != "" {
		err := m.Load(ctx, id)
		if err == nil {
			return TierBackend, nil
		}
		m.logger.WarnContext(ctx, "load latest flow failed", "flow_id", id, "error", err)
	}

	nodes := m.store.Nodes()
	if !spawn.ShouldBootstrap(nodes) {
		return TierExisting, nil
	}
	if len(nodes) > 0 {
		m.store.ClearFlow()
	}
	if err := spawn.Commit(ctx, m.store, m.gen.Bootstrap(schema.Position{X: 100, Y: 100})); err != nil {
		return "", fmt.Errorf("bootstrap flow: %w", err)
	}
	return TierBootstrap, nil
}

// latestFlowID returns the most recently updated named flow, or "".
func (m *Manager) latestFlowID(ctx context.Context) string {
	flows, err := m.backend.ListFlows(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "list flows failed", "error", err)
		return ""
	}
	var latest *schema.FlowSummary
	for i := range flows {
		f := &flows[i]
		if f.IsAutoSave {
			continue
		}
		if latest == nil || f.UpdatedAt.After(latest.UpdatedAt) {
			latest = f
		}
	}
	if latest == nil {
		return ""
	}
	return latest.ID
}

// FetchWorkspaceSettings returns the backend workspace settings, or nil when
// they are absent or cannot be fetched.
func (m *Manager) FetchWorkspaceSettings(ctx context.Context) json.RawMessage {
	settings, err := m.backend.GetWorkspaceSettings(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "workspace settings unavailable", "error", err)
		return nil
	}
	return settings
}

func (m *Manager) request(id, name string) schema.SaveFlowRequest {
	st := m.store.Snapshot()
	return schema.SaveFlowRequest{
		ID:                id,
		Name:              name,
		Nodes:             st.Nodes,
		Edges:             st.Edges,
		Viewport:          m.canvas.Viewport(),
		WorkspaceSettings: st.WorkspaceSettings,
	}
}

// Save stores the graph as a named flow. An empty id creates a new flow.
// The session cache is cleared once the backend has accepted the save.
func (m *Manager) Save(ctx context.Context, name, id string) (*schema.SaveFlowResponse, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "flow name is required")
	}
	resp, err := m.backend.SaveFlow(ctx, m.request(id, name))
	if err != nil {
		return nil, err
	}
	ctx = logging.WithFlowID(ctx, resp.ID)
	if err := m.cache.Clear(ctx); err != nil {
		m.logger.WarnContext(ctx, "clear session cache failed", "error", err)
	}

	m.mu.Lock()
	m.currentID, m.currentName = resp.ID, firstNonEmpty(resp.Name, name)
	m.mu.Unlock()
	m.dirty.Store(false)

	m.logger.InfoContext(ctx, "flow saved", "name", name)
	return resp, nil
}

// Load replaces the graph with a saved flow and clears the session cache.
func (m *Manager) Load(ctx context.Context, id string) error {
	flow, err := m.backend.GetFlow(ctx, id)
	if err != nil {
		return err
	}
	ctx = logging.WithFlowID(ctx, id)

	m.store.Replace(flow.Nodes, flow.Edges, flow.WorkspaceSettings)
	m.canvas.SetViewport(flow.CanvasState.Viewport)
	if err := m.cache.Clear(ctx); err != nil {
		m.logger.WarnContext(ctx, "clear session cache failed", "error", err)
	}

	m.mu.Lock()
	m.currentID, m.currentName = firstNonEmpty(flow.ID, id), flow.Name
	m.mu.Unlock()
	m.dirty.Store(false)

	m.logger.InfoContext(ctx, "flow loaded", "name", flow.Name, "nodes", len(flow.Nodes), "edges", len(flow.Edges))
	return nil
}

// Delete removes a saved flow. Deleting the current flow forgets it; the
// graph itself is left untouched.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.backend.DeleteFlow(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	if m.currentID == id {
		m.currentID, m.currentName = "", ""
	}
	m.mu.Unlock()
	return nil
}

// List returns the saved flows, newest first.
func (m *Manager) List(ctx context.Context) ([]schema.FlowSummary, error) {
	return m.backend.ListFlows(ctx)
}

// Autosave sends a background snapshot of a non-empty graph. It is a no-op
// when the graph is empty.
func (m *Manager) Autosave(ctx context.Context) error {
	if m.store.IsEmpty() {
		return nil
	}
	id, name := m.CurrentFlow()
	m.dirty.Store(false)
	if _, err := m.backend.Autosave(ctx, m.request(id, name)); err != nil {
		m.dirty.Store(true)
		return err
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
