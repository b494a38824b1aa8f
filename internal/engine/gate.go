package engine

import (
	"slices"
	"sync"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

// ApprovalRequest is what the gate surfaces to the user.
type ApprovalRequest struct {
	ExecutionID string                   `json:"executionId"`
	Parameters  schema.FlowdirParameters `json:"parameters"`
	Violations  []string                 `json:"violations,omitempty"`
	OpenedAt    time.Time                `json:"openedAt"`
}

// Gate holds at most one pending approval request. Observers are notified
// whenever it opens or closes.
type Gate struct {
	mu        sync.Mutex
	pending   *ApprovalRequest
	observers []func(*ApprovalRequest)
}

// NewGate creates a closed gate.
func NewGate() *Gate { return &Gate{} }

// OnChange registers fn; it receives the new request on open and nil on close.
func (g *Gate) OnChange(fn func(*ApprovalRequest)) {
	g.mu.Lock()
	g.observers = append(g.observers, fn)
	g.mu.Unlock()
}

// Open surfaces req, replacing any pending request.
func (g *Gate) Open(req ApprovalRequest) {
	g.set(&req)
}

// Close dismisses the pending request, if any.
func (g *Gate) Close() {
	g.set(nil)
}

// Pending returns a copy of the pending request, or nil.
func (g *Gate) Pending() *ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return nil
	}
	cp := *g.pending
	return &cp
}

// IsOpen reports whether a request is pending.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

func (g *Gate) set(req *ApprovalRequest) {
	g.mu.Lock()
	g.pending = req
	observers := slices.Clone(g.observers)
	g.mu.Unlock()
	for _, fn := range observers {
		if req == nil {
			fn(nil)
			continue
		}
		cp := *req
		fn(&cp)
	}
}
