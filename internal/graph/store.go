// Package graph holds the canonical flow graph of one editor session.
//
// The Store is the single writer of nodes, edges, selection and execution logs.
// Every mutation goes through one of its transitions; transitions never fail,
// never perform I/O and never read the clock. Side effects such as session
// mirroring or node spawning are attached as listeners and run after the
// transition has been committed.
package graph

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Op names a Store transition.
type Op string

const (
	OpSetNodes             Op = "set_nodes"
	OpSetEdges             Op = "set_edges"
	OpReplace              Op = "replace"
	OpAddNodes             Op = "add_nodes"
	OpAddEdges             Op = "add_edges"
	OpUpdateNode           Op = "update_node"
	OpUpdateNodePosition   Op = "update_node_position"
	OpSetAllNodeStatus     Op = "set_all_node_status"
	OpDeleteNode           Op = "delete_node"
	OpDeleteEdge           Op = "delete_edge"
	OpSelectNode           Op = "select_node"
	OpSetExecuting         Op = "set_executing"
	OpAddLog               Op = "add_log"
	OpClearLogs            Op = "clear_logs"
	OpSetWorkspaceSettings Op = "set_workspace_settings"
	OpClearFlow            Op = "clear_flow"
)

// Change describes a committed transition.
type Change struct {
	Op      Op
	NodeIDs []string
	EdgeIDs []string
	// Before and After are set for OpUpdateNode when the node exists.
	Before *schema.NodeData
	After  *schema.NodeData
}

// Structural reports whether the change touched nodes or edges.
func (c Change) Structural() bool {
	switch c.Op {
	case OpSelectNode, OpSetExecuting, OpAddLog, OpClearLogs, OpSetWorkspaceSettings:
		return false
	default:
		return true
	}
}

// Listener observes committed transitions. Listeners run synchronously after
// the Store lock is released and may read or mutate the Store.
type Listener func(Change)

// State is an immutable copy of the Store contents.
type State struct {
	Nodes             []schema.FlowNode `json:"nodes"`
	Edges             []schema.FlowEdge `json:"edges"`
	SelectedNode      *schema.FlowNode  `json:"selectedNode"`
	IsExecuting       bool              `json:"isExecuting"`
	ExecutionLogs     []string          `json:"executionLogs"`
	WorkspaceSettings json.RawMessage   `json:"workspaceSettings"`
}

// Node returns the first node with the given id.
func (s State) Node(id string) (schema.FlowNode, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return schema.FlowNode{}, false
}

// Store holds the flow graph. It is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	nodes      []schema.FlowNode
	edges      []schema.FlowEdge
	incident   map[string]map[string]int // node id -> edge id -> edges with that id touching it
	selectedID string
	executing  bool
	logs       []string
	settings   json.RawMessage

	lmu       sync.RWMutex
	listeners []listenerEntry
	seq       atomic.Uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{incident: make(map[string]map[string]int)}
}

// Subscribe registers a listener and returns a function removing it.
// Listeners are called in registration order.
func (s *Store) Subscribe(l Listener) func() {
	id := s.seq.Add(1)
	s.lmu.Lock()
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) notify(c Change) {
	s.lmu.RLock()
	ls := make([]listenerEntry, len(s.listeners))
	copy(ls, s.listeners)
	s.lmu.RUnlock()
	for _, e := range ls {
		e.fn(c)
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Nodes:         make([]schema.FlowNode, len(s.nodes)),
		Edges:         make([]schema.FlowEdge, len(s.edges)),
		IsExecuting:   s.executing,
		ExecutionLogs: append([]string{}, s.logs...),
	}
	for i, n := range s.nodes {
		st.Nodes[i] = n.Clone()
	}
	copy(st.Edges, s.edges)
	if s.settings != nil {
		st.WorkspaceSettings = append(json.RawMessage(nil), s.settings...)
	}
	if s.selectedID != "" {
		if i := s.indexOf(s.selectedID); i >= 0 {
			n := s.nodes[i].Clone()
			st.SelectedNode = &n
		}
	}
	return st
}

// Nodes returns a copy of the node list.
func (s *Store) Nodes() []schema.FlowNode { return s.Snapshot().Nodes }

// Edges returns a copy of the edge list.
func (s *Store) Edges() []schema.FlowEdge { return s.Snapshot().Edges }

// IsEmpty reports whether the graph has neither nodes nor edges.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes) == 0 && len(s.edges) == 0
}

// SetNodes replaces the node list wholesale. Edges are left as they are.
func (s *Store) SetNodes(nodes []schema.FlowNode) {
	s.mu.Lock()
	s.nodes = cloneNodes(nodes)
	s.mu.Unlock()
	s.notify(Change{Op: OpSetNodes, NodeIDs: nodeIDs(nodes)})
}

// SetEdges replaces the edge list wholesale and rebuilds the incident index.
func (s *Store) SetEdges(edges []schema.FlowEdge) {
	s.mu.Lock()
	s.edges = append([]schema.FlowEdge(nil), edges...)
	s.reindex()
	s.mu.Unlock()
	s.notify(Change{Op: OpSetEdges, EdgeIDs: edgeIDs(edges)})
}

// Replace swaps nodes, edges and workspace settings in one transition.
// Loaded data is taken as is; dangling edges are not filtered.
func (s *Store) Replace(nodes []schema.FlowNode, edges []schema.FlowEdge, settings json.RawMessage) {
	s.mu.Lock()
	s.nodes = cloneNodes(nodes)
	s.edges = append([]schema.FlowEdge(nil), edges...)
	s.reindex()
	s.settings = cloneRaw(settings)
	if s.selectedID != "" && s.indexOf(s.selectedID) < 0 {
		s.selectedID = ""
	}
	s.mu.Unlock()
	s.notify(Change{Op: OpReplace, NodeIDs: nodeIDs(nodes), EdgeIDs: edgeIDs(edges)})
}

// AddNode appends a node. Ids are not de-duplicated; callers guarantee uniqueness.
func (s *Store) AddNode(n schema.FlowNode) {
	<-s.AddNodes([]schema.FlowNode{n})
}

// AddNodes appends a batch of nodes and returns a channel that is closed once
// the nodes are committed and every listener has observed them.
func (s *Store) AddNodes(nodes []schema.FlowNode) <-chan struct{} {
	done := make(chan struct{})
	s.mu.Lock()
	for _, n := range nodes {
		s.nodes = append(s.nodes, n.Clone())
	}
	s.mu.Unlock()
	s.notify(Change{Op: OpAddNodes, NodeIDs: nodeIDs(nodes)})
	close(done)
	return done
}

// AddEdge appends an edge.
func (s *Store) AddEdge(e schema.FlowEdge) {
	s.AddEdges([]schema.FlowEdge{e})
}

// AddEdges appends a batch of edges.
func (s *Store) AddEdges(edges []schema.FlowEdge) {
	s.mu.Lock()
	for _, e := range edges {
		s.edges = append(s.edges, e)
		s.link(e)
	}
	s.mu.Unlock()
	s.notify(Change{Op: OpAddEdges, EdgeIDs: edgeIDs(edges)})
}

// UpdateNode merges patch into the data of the node with the given id.
// Unknown ids are a no-op and produce no notification.
func (s *Store) UpdateNode(id string, patch schema.NodePatch) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	before := s.nodes[i].Data.Clone()
	s.nodes[i].Data = s.nodes[i].Data.Merge(patch)
	after := s.nodes[i].Data.Clone()
	s.mu.Unlock()
	s.notify(Change{Op: OpUpdateNode, NodeIDs: []string{id}, Before: &before, After: &after})
}

// UpdateNodePosition replaces the position of the node with the given id.
func (s *Store) UpdateNodePosition(id string, pos schema.Position) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.nodes[i].Position = pos
	s.mu.Unlock()
	s.notify(Change{Op: OpUpdateNodePosition, NodeIDs: []string{id}})
}

// SetAllNodeStatus sets the status of every node in one transition.
func (s *Store) SetAllNodeStatus(status schema.NodeStatus) {
	s.mu.Lock()
	ids := make([]string, len(s.nodes))
	for i := range s.nodes {
		s.nodes[i].Data.Status = status
		ids[i] = s.nodes[i].ID
	}
	s.mu.Unlock()
	s.notify(Change{Op: OpSetAllNodeStatus, NodeIDs: ids})
}

// DeleteNode removes the node and every edge whose source or target is id.
// The selection is cleared if it referenced the node.
func (s *Store) DeleteNode(id string) {
	s.mu.Lock()
	kept := s.nodes[:0]
	for _, n := range s.nodes {
		if n.ID != id {
			kept = append(kept, n)
		}
	}
	s.nodes = kept

	var removed []string
	if inc := s.incident[id]; len(inc) > 0 {
		drop := make(map[string]struct{}, len(inc))
		for eid := range inc {
			drop[eid] = struct{}{}
		}
		edges := s.edges[:0]
		for _, e := range s.edges {
			if _, ok := drop[e.ID]; ok && (e.Source == id || e.Target == id) {
				removed = append(removed, e.ID)
				s.unlink(e)
				continue
			}
			edges = append(edges, e)
		}
		s.edges = edges
	}
	delete(s.incident, id)

	if s.selectedID == id {
		s.selectedID = ""
	}
	s.mu.Unlock()
	s.notify(Change{Op: OpDeleteNode, NodeIDs: []string{id}, EdgeIDs: removed})
}

// DeleteEdge removes every edge with the given id.
func (s *Store) DeleteEdge(id string) {
	s.mu.Lock()
	edges := s.edges[:0]
	for _, e := range s.edges {
		if e.ID == id {
			s.unlink(e)
			continue
		}
		edges = append(edges, e)
	}
	s.edges = edges
	s.mu.Unlock()
	s.notify(Change{Op: OpDeleteEdge, EdgeIDs: []string{id}})
}

// SelectNode selects the node with the given id. An empty or unknown id clears the selection.
func (s *Store) SelectNode(id string) {
	s.mu.Lock()
	if id != "" && s.indexOf(id) < 0 {
		id = ""
	}
	s.selectedID = id
	s.mu.Unlock()
	s.notify(Change{Op: OpSelectNode, NodeIDs: []string{id}})
}

// SelectedNode returns the selected node, if any.
func (s *Store) SelectedNode() *schema.FlowNode {
	return s.Snapshot().SelectedNode
}

// SetExecuting sets the executing flag.
func (s *Store) SetExecuting(v bool) {
	s.mu.Lock()
	s.executing = v
	s.mu.Unlock()
	s.notify(Change{Op: OpSetExecuting})
}

// IsExecuting reports the executing flag.
func (s *Store) IsExecuting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

// AddLog appends an execution log line.
func (s *Store) AddLog(line string) {
	s.mu.Lock()
	s.logs = append(s.logs, line)
	s.mu.Unlock()
	s.notify(Change{Op: OpAddLog})
}

// Logs returns a copy of the execution logs.
func (s *Store) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.logs...)
}

// ClearLogs empties the execution logs.
func (s *Store) ClearLogs() {
	s.mu.Lock()
	s.logs = nil
	s.mu.Unlock()
	s.notify(Change{Op: OpClearLogs})
}

// SetWorkspaceSettings replaces the workspace settings; nil clears them.
func (s *Store) SetWorkspaceSettings(settings json.RawMessage) {
	s.mu.Lock()
	s.settings = cloneRaw(settings)
	s.mu.Unlock()
	s.notify(Change{Op: OpSetWorkspaceSettings})
}

// WorkspaceSettings returns the workspace settings, or nil.
func (s *Store) WorkspaceSettings() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRaw(s.settings)
}

// ClearFlow resets nodes, edges, selection and logs. Workspace settings survive.
func (s *Store) ClearFlow() {
	s.mu.Lock()
	s.nodes = nil
	s.edges = nil
	s.incident = make(map[string]map[string]int)
	s.selectedID = ""
	s.logs = nil
	s.mu.Unlock()
	s.notify(Change{Op: OpClearFlow})
}

// --- internals (callers hold s.mu) ---

func (s *Store) indexOf(id string) int {
	for i := range s.nodes {
		if s.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) reindex() {
	s.incident = make(map[string]map[string]int, len(s.nodes))
	for _, e := range s.edges {
		s.link(e)
	}
}

// link and unlink count edges per (node, edge id) since edge ids are not
// guaranteed unique.
func (s *Store) link(e schema.FlowEdge) {
	for _, id := range []string{e.Source, e.Target} {
		inc, ok := s.incident[id]
		if !ok {
			inc = make(map[string]int)
			s.incident[id] = inc
		}
		inc[e.ID]++
	}
}

func (s *Store) unlink(e schema.FlowEdge) {
	for _, id := range []string{e.Source, e.Target} {
		inc, ok := s.incident[id]
		if !ok {
			continue
		}
		if inc[e.ID]--; inc[e.ID] <= 0 {
			delete(inc, e.ID)
		}
		if len(inc) == 0 {
			delete(s.incident, id)
		}
	}
}

func cloneNodes(nodes []schema.FlowNode) []schema.FlowNode {
	out := make([]schema.FlowNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

func nodeIDs(nodes []schema.FlowNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

func edgeIDs(edges []schema.FlowEdge) []string {
	ids := make([]string, len(edges))
	for i, e := range edges {
		ids[i] = e.ID
	}
	return ids
}
