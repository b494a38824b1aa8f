package logging

import (
	"context"
	"log/slog"
)

// Correlation identifies where a log line comes from in the editor: the
// saved flow on the canvas, the execution running against it and the node
// being processed. Empty fields are omitted from log output.
type Correlation struct {
	FlowID      string
	ExecutionID string
	NodeID      string
}

func (c Correlation) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if c.FlowID != "" {
		attrs = append(attrs, slog.String("flow_id", c.FlowID))
	}
	if c.ExecutionID != "" {
		attrs = append(attrs, slog.String("execution_id", c.ExecutionID))
	}
	if c.NodeID != "" {
		attrs = append(attrs, slog.String("node_id", c.NodeID))
	}
	return attrs
}

type correlationKey struct{}

// CorrelationFrom returns the correlation stored on ctx.
func CorrelationFrom(ctx context.Context) Correlation {
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

// WithCorrelation stores c on ctx, replacing any previous correlation.
func WithCorrelation(ctx context.Context, c Correlation) context.Context {
	return context.WithValue(ctx, correlationKey{}, c)
}

// WithFlowID scopes ctx to a saved flow.
func WithFlowID(ctx context.Context, id string) context.Context {
	c := CorrelationFrom(ctx)
	c.FlowID = id
	return WithCorrelation(ctx, c)
}

// WithExecutionID scopes ctx to one execution of the current flow.
func WithExecutionID(ctx context.Context, id string) context.Context {
	c := CorrelationFrom(ctx)
	c.ExecutionID = id
	return WithCorrelation(ctx, c)
}

// WithNodeID scopes ctx to a single canvas node.
func WithNodeID(ctx context.Context, id string) context.Context {
	c := CorrelationFrom(ctx)
	c.NodeID = id
	return WithCorrelation(ctx, c)
}

// WithIDs replaces all three ids at once. The orchestrator calls it when an
// execution starts, with an empty node id.
func WithIDs(ctx context.Context, flowID, executionID, nodeID string) context.Context {
	return WithCorrelation(ctx, Correlation{FlowID: flowID, ExecutionID: executionID, NodeID: nodeID})
}

func FlowID(ctx context.Context) string      { return CorrelationFrom(ctx).FlowID }
func ExecutionID(ctx context.Context) string { return CorrelationFrom(ctx).ExecutionID }
func NodeID(ctx context.Context) string      { return CorrelationFrom(ctx).NodeID }

// LogWith binds the ids on ctx to logger.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := CorrelationFrom(ctx).attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// CorrelationHandler adds the ids on the record's context to every record,
// so InfoContext(ctx, ...) calls from the engine and the server carry them
// without an explicit LogWith.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(CorrelationFrom(ctx).attrs()...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
