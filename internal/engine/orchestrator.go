// Package engine drives flow execution: parameter extraction, the approval
// gate, the direct execution path and the FlowDir protocol.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/pinnacle/internal/flowclient"
	"github.com/rendis/pinnacle/internal/graph"
	"github.com/rendis/pinnacle/internal/logging"
	"github.com/rendis/pinnacle/internal/params"
	"github.com/rendis/pinnacle/internal/streaming"
	"github.com/rendis/pinnacle/pkg/schema"
)

// DefaultFlowdirTimeout is the client-side ceiling of one directory-creation call.
const DefaultFlowdirTimeout = 120 * time.Second

// Backend is the execution side of the backend API. *flowclient.Client satisfies it.
type Backend interface {
	ExecuteFlow(ctx context.Context, req schema.ExecuteFlowRequest) (*schema.ExecuteFlowResponse, error)
	CreateAudit(ctx context.Context, req schema.AuditCreateRequest) (string, error)
	UpdateAudit(ctx context.Context, id string, req schema.AuditUpdateRequest) error
	ExecuteFlowdir(ctx context.Context, p schema.FlowdirParameters) (*flowclient.FlowdirResult, error)
}

// Outcome reports where an orchestrator call left the execution.
type Outcome struct {
	ExecutionID string                    `json:"executionId"`
	State       schema.ExecutionState     `json:"state"`
	Parameters  *schema.FlowdirParameters `json:"parameters,omitempty"`
	Summary     *Summary                  `json:"summary,omitempty"`
	AuditID     string                    `json:"auditId,omitempty"`
}

// Orchestrator runs executions of one editor session. At most one execution
// is in flight; a second Execute while busy fails with INVALID_TRANSITION.
type Orchestrator struct {
	store      *graph.Store
	canvas     graph.Canvas
	backend    Backend
	gate       *Gate
	fsm        *ExecutionFSM
	hub        streaming.EventHub
	policy     *ApprovalPolicy
	summarizer *Summarizer
	logger     *slog.Logger
	flowID     func() string
	now        func() time.Time

	timeout      time.Duration
	auditTimeout time.Duration

	mu      sync.Mutex
	state   schema.ExecutionState
	execID  string
	pending *schema.FlowdirParameters
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the FlowDir call ceiling.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithHub publishes execution events to hub.
func WithHub(hub streaming.EventHub) Option {
	return func(o *Orchestrator) { o.hub = hub }
}

// WithPolicy sets the auto-approve policy.
func WithPolicy(p *ApprovalPolicy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithGate sets the approval gate.
func WithGate(g *Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithSummarizer replaces the default result summarizer.
func WithSummarizer(s *Summarizer) Option {
	return func(o *Orchestrator) { o.summarizer = s }
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithFlowID sets the source of the current flow id recorded on audit records.
func WithFlowID(fn func() string) Option {
	return func(o *Orchestrator) { o.flowID = fn }
}

// WithClock sets the clock used for synthesized run names.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an idle orchestrator over store, reading the graph
// through canvas.
func NewOrchestrator(store *graph.Store, canvas graph.Canvas, backend Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		canvas:       canvas,
		backend:      backend,
		logger:       slog.Default(),
		flowID:       func() string { return "" },
		now:          time.Now,
		timeout:      DefaultFlowdirTimeout,
		auditTimeout: 10 * time.Second,
		state:        schema.ExecutionIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.gate == nil {
		o.gate = NewGate()
	}
	if o.summarizer == nil {
		o.summarizer = NewSummarizer()
	}
	o.fsm = NewExecutionFSM(o.hub)
	return o
}

// FSM exposes the transition machine so callers can register hooks.
func (o *Orchestrator) FSM() *ExecutionFSM { return o.fsm }

// Gate returns the approval gate.
func (o *Orchestrator) Gate() *Gate { return o.gate }

// State returns the current state.
func (o *Orchestrator) State() schema.ExecutionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// advance moves to state to, optionally starting a new execution id. After
// hooks run outside o.mu so they may inspect the orchestrator.
func (o *Orchestrator) advance(ctx context.Context, to schema.ExecutionState, newExecution bool) (string, error) {
	o.mu.Lock()
	execID := o.execID
	if newExecution {
		execID = uuid.NewString()
	}
	ev := streaming.StreamEvent{FlowID: o.flowID(), ExecutionID: execID}
	after, err := o.fsm.Begin(ctx, ev, o.state, to)
	if err != nil {
		o.mu.Unlock()
		return "", err
	}
	from := o.state
	o.state = to
	o.execID = execID
	o.mu.Unlock()

	if err := after(); err != nil {
		o.logger.WarnContext(ctx, "execution transition hook failed",
			"from", string(from), "to", string(to), "error", err)
	}
	return execID, nil
}

// Execute extracts FlowDir parameters from the graph. When they are complete
// the execution is gated for approval and nothing else happens; otherwise
// the graph runs through the ordinary execution endpoint.
func (o *Orchestrator) Execute(ctx context.Context) (*Outcome, error) {
	execID, err := o.advance(ctx, schema.ExecutionExtracting, true)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithIDs(ctx, o.flowID(), execID, "")

	p := params.Extract(o.canvas.Nodes(), o.now())
	if p == nil {
		if _, err := o.advance(ctx, schema.ExecutionDirectExecuting, false); err != nil {
			return nil, err
		}
		return o.runDirect(ctx, execID)
	}

	o.mu.Lock()
	o.pending = p
	o.mu.Unlock()
	if _, err := o.advance(ctx, schema.ExecutionGated, false); err != nil {
		return nil, err
	}
	o.gate.Open(ApprovalRequest{
		ExecutionID: execID,
		Parameters:  *p,
		Violations:  params.Validate(*p),
		OpenedAt:    o.now(),
	})
	o.logger.InfoContext(ctx, "execution gated", "project", p.ProjectName, "block", p.BlockName, "stage", p.Stage)

	auto, err := o.policy.AutoApprove(*p)
	if err != nil {
		o.logger.WarnContext(ctx, "approval policy failed, asking user", "error", err)
	}
	if auto {
		o.logger.InfoContext(ctx, "execution auto-approved", "policy", o.policy.String())
		return o.Approve(ctx)
	}
	return &Outcome{ExecutionID: execID, State: schema.ExecutionGated, Parameters: p}, nil
}

// Approve validates the gated parameters and, when valid, runs the FlowDir
// protocol. Invalid parameters block submission and return to idle.
func (o *Orchestrator) Approve(ctx context.Context) (*Outcome, error) {
	o.mu.Lock()
	p, execID, state := o.pending, o.execID, o.state
	o.mu.Unlock()
	if state != schema.ExecutionGated || p == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition, "no execution awaiting approval (state %s)", state)
	}
	ctx = logging.WithIDs(ctx, o.flowID(), execID, "")

	if violations := params.Validate(*p); len(violations) > 0 {
		for _, v := range violations {
			o.log(ctx, "Validation failed: "+v)
		}
		o.release()
		o.gate.Close()
		if _, err := o.advance(ctx, schema.ExecutionIdle, false); err != nil {
			return nil, err
		}
		return &Outcome{ExecutionID: execID, State: schema.ExecutionIdle, Parameters: p}, params.Check(*p)
	}

	if _, err := o.advance(ctx, schema.ExecutionFlowdirExecuting, false); err != nil {
		return nil, err
	}
	o.release()
	return o.runFlowdir(ctx, execID, *p)
}

// Cancel dismisses the gated execution and discards its parameters.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	execID, state := o.execID, o.state
	o.mu.Unlock()
	if state != schema.ExecutionGated {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "no execution awaiting approval (state %s)", state)
	}
	ctx = logging.WithIDs(ctx, o.flowID(), execID, "")

	if _, err := o.advance(ctx, schema.ExecutionIdle, false); err != nil {
		return err
	}
	o.release()
	o.gate.Close()
	o.log(ctx, "FlowDir execution cancelled by user")
	return nil
}

// release drops the pending parameters.
func (o *Orchestrator) release() {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}

func (o *Orchestrator) runDirect(ctx context.Context, execID string) (out *Outcome, err error) {
	out = &Outcome{ExecutionID: execID}
	o.store.SetExecuting(true)
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeRemoteExecution, "execution panicked: %v", r)
			o.store.SetAllNodeStatus(schema.NodeStatusError)
			o.finish(ctx, out, schema.ExecutionFailed)
		}
		o.store.SetExecuting(false)
	}()

	o.store.SetAllNodeStatus(schema.NodeStatusRunning)
	o.store.ClearLogs()

	st := o.store.Snapshot()
	req := schema.ExecuteFlowRequest{
		Nodes:             o.canvas.Nodes(),
		Edges:             o.canvas.Edges(),
		WorkspaceSettings: st.WorkspaceSettings,
	}
	o.log(ctx, fmt.Sprintf("Executing flow with %d nodes and %d edges", len(req.Nodes), len(req.Edges)))

	resp, err := o.backend.ExecuteFlow(ctx, req)
	if err != nil {
		o.store.SetAllNodeStatus(schema.NodeStatusError)
		o.log(ctx, "Execution failed: "+errorMessage(err))
		o.finish(ctx, out, schema.ExecutionFailed)
		return out, err
	}

	o.store.SetAllNodeStatus(schema.NodeStatusSuccess)
	executed := resp.ExecutedNodes
	if executed == 0 {
		executed = len(req.Nodes)
	}
	o.log(ctx, fmt.Sprintf("Flow executed successfully: %d nodes processed", executed))
	if resp.Message != "" {
		o.log(ctx, resp.Message)
	}
	o.finish(ctx, out, schema.ExecutionCompleted)
	return out, nil
}

// finish records the terminal state on out.
func (o *Orchestrator) finish(ctx context.Context, out *Outcome, to schema.ExecutionState) {
	if _, err := o.advance(ctx, to, false); err != nil {
		o.logger.ErrorContext(ctx, "execution state transition failed", "to", string(to), "error", err)
	}
	out.State = o.State()
}

// log appends a line to the execution log and publishes it.
func (o *Orchestrator) log(ctx context.Context, line string) {
	o.store.AddLog(line)
	streaming.Emit(ctx, o.hub, streaming.StreamEvent{
		FlowID:      logging.FlowID(ctx),
		ExecutionID: logging.ExecutionID(ctx),
		EventType:   schema.EventExecutionLog,
		Payload:     map[string]any{"line": line},
	})
}

func errorMessage(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
