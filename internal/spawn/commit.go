package spawn

import (
	"context"
	"log/slog"

	"github.com/rendis/pinnacle/internal/graph"
	"github.com/rendis/pinnacle/pkg/schema"
)

// Commit adds r to the store. Edges are added only after the store has
// acknowledged the node insert, and only when both endpoints exist.
func Commit(ctx context.Context, s *graph.Store, r Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(r.Nodes) > 0 {
		<-s.AddNodes(r.Nodes)
	}
	if len(r.Edges) == 0 {
		return nil
	}

	present := make(map[string]bool)
	for _, n := range s.Nodes() {
		present[n.ID] = true
	}
	edges := make([]schema.FlowEdge, 0, len(r.Edges))
	for _, e := range r.Edges {
		if present[e.Source] && present[e.Target] {
			edges = append(edges, e)
		}
	}
	if len(edges) > 0 {
		s.AddEdges(edges)
	}
	return nil
}

// Watcher listens to Graph Store updates and commits a tool-selection spawn
// whenever the rules match.
type Watcher struct {
	store   *graph.Store
	gen     *Generator
	rules   *Rules
	logger  *slog.Logger
	replace bool
	onSpawn func(triggerID string, r Result)
	cancel  func()
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReplaceOnRetrigger removes the blocks previously spawned by a trigger
// before spawning again. Without it, retriggering creates a parallel set.
func WithReplaceOnRetrigger() WatcherOption {
	return func(w *Watcher) { w.replace = true }
}

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithOnSpawn registers a callback run after every committed spawn.
func WithOnSpawn(fn func(triggerID string, r Result)) WatcherOption {
	return func(w *Watcher) { w.onSpawn = fn }
}

// NewWatcher creates a Watcher. Nil rules use DefaultRule.
func NewWatcher(store *graph.Store, gen *Generator, rules *Rules, opts ...WatcherOption) *Watcher {
	if gen == nil {
		gen = NewGenerator(nil)
	}
	if rules == nil {
		rules = MustCompileRules()
	}
	w := &Watcher{store: store, gen: gen, rules: rules, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start subscribes the watcher to the store.
func (w *Watcher) Start() {
	if w.cancel == nil {
		w.cancel = w.store.Subscribe(w.handle)
	}
}

// Stop unsubscribes the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Watcher) handle(c graph.Change) {
	if c.Op != graph.OpUpdateNode || c.Before == nil || c.After == nil || len(c.NodeIDs) == 0 {
		return
	}
	ok, err := w.rules.Match(*c.After, c.Before.Value)
	if err != nil {
		w.logger.Warn("spawn rule failed", "node_id", c.NodeIDs[0], "error", err)
		return
	}
	if !ok {
		return
	}

	triggerID := c.NodeIDs[0]
	st := w.store.Snapshot()
	trigger, found := st.Node(triggerID)
	if !found {
		return
	}

	if w.replace {
		for _, n := range st.Nodes {
			if by, _ := n.Data.Parameters[SpawnedByKey].(string); by == triggerID {
				w.store.DeleteNode(n.ID)
			}
		}
		st = w.store.Snapshot()
	}

	cfg := ConfigFromGraph(st.Nodes, triggerID)
	r := w.gen.ToolSpawn(triggerID, trigger.Position, cfg)
	if err := Commit(context.Background(), w.store, r); err != nil {
		w.logger.Warn("spawn commit failed", "node_id", triggerID, "error", err)
		return
	}
	w.logger.Info("spawned blocks",
		"node_id", triggerID,
		"stage", cfg.StageSelection,
		"pd_steps", cfg.RunFlowSteps,
		"nodes", len(r.Nodes),
		"edges", len(r.Edges),
	)
	if w.onSpawn != nil {
		w.onSpawn(triggerID, r)
	}
}
