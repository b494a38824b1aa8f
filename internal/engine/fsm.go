package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/pinnacle/internal/streaming"
	"github.com/rendis/pinnacle/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.ExecutionState) error

type hookKey struct {
	from, to schema.ExecutionState
}

// ExecutionFSM validates orchestrator state transitions and publishes the
// matching lifecycle events. The caller owns the current state.
//
// Before hooks run while the orchestrator holds its state lock and must not
// call back into it; after hooks run once the lock is released.
type ExecutionFSM struct {
	mu     sync.Mutex
	hub    streaming.EventHub
	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook
}

// NewExecutionFSM creates an FSM publishing to hub. A nil hub disables events.
func NewExecutionFSM(hub streaming.EventHub) *ExecutionFSM {
	return &ExecutionFSM{
		hub:    hub,
		before: make(map[hookKey][]TransitionHook),
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition. A hook error aborts it.
func (f *ExecutionFSM) OnBefore(from, to schema.ExecutionState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to, runs hooks and publishes the lifecycle event.
func (f *ExecutionFSM) Transition(ctx context.Context, ev streaming.StreamEvent, from, to schema.ExecutionState) error {
	after, err := f.Begin(ctx, ev, from, to)
	if err != nil {
		return err
	}
	return after()
}

// Begin validates from -> to, runs the before hooks and publishes the
// lifecycle event. The returned func runs the after hooks; callers invoke it
// once they have recorded the new state and released their own locks.
func (f *ExecutionFSM) Begin(ctx context.Context, ev streaming.StreamEvent, from, to schema.ExecutionState) (func() error, error) {
	if !IsValidTransition(from, to) {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": ev.ExecutionID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	f.mu.Lock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(from, to); err != nil {
			return nil, err
		}
	}

	if eventType := transitionEventType(from, to); eventType != "" {
		ev.EventType = eventType
		streaming.Emit(ctx, f.hub, ev)
	}

	return func() error {
		for _, hook := range after {
			if err := hook(from, to); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

// IsValidTransition reports whether the transition table allows from -> to.
func IsValidTransition(from, to schema.ExecutionState) bool {
	allowed, ok := ValidTransitions[from]
	return ok && slices.Contains(allowed, to)
}

// IsBusy reports whether s is a non-terminal, non-idle state.
func IsBusy(s schema.ExecutionState) bool {
	switch s {
	case schema.ExecutionExtracting, schema.ExecutionGated,
		schema.ExecutionDirectExecuting, schema.ExecutionFlowdirExecuting:
		return true
	default:
		return false
	}
}

func transitionEventType(from, to schema.ExecutionState) string {
	switch to {
	case schema.ExecutionGated:
		return schema.EventExecutionGated
	case schema.ExecutionDirectExecuting, schema.ExecutionFlowdirExecuting:
		return schema.EventExecutionStarted
	case schema.ExecutionCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionIdle:
		if from == schema.ExecutionGated {
			return schema.EventExecutionCancelled
		}
	}
	return ""
}

// ValidTransitions defines the allowed orchestrator state transitions.
var ValidTransitions = map[schema.ExecutionState][]schema.ExecutionState{
	schema.ExecutionIdle:             {schema.ExecutionExtracting},
	schema.ExecutionExtracting:       {schema.ExecutionGated, schema.ExecutionDirectExecuting, schema.ExecutionFailed},
	schema.ExecutionGated:            {schema.ExecutionFlowdirExecuting, schema.ExecutionIdle},
	schema.ExecutionDirectExecuting:  {schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionFlowdirExecuting: {schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionCompleted:        {schema.ExecutionExtracting, schema.ExecutionIdle},
	schema.ExecutionFailed:           {schema.ExecutionExtracting, schema.ExecutionIdle},
}
