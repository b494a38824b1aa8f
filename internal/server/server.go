// Package server is the Pinnacle backend HTTP API: saved flows, ordinary flow
// execution, FlowDir audit records, directory creation and the SSE event stream.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rendis/pinnacle/internal/store"
	"github.com/rendis/pinnacle/internal/streaming"
	"github.com/rendis/pinnacle/internal/validation"
	"github.com/rendis/pinnacle/pkg/schema"
)

const (
	maxBodySize     = 8 << 20
	shutdownTimeout = 10 * time.Second
	settingsKey     = "workspace"
)

// FlowdirRunner executes the directory tool.
type FlowdirRunner interface {
	Run(ctx context.Context, p schema.FlowdirParameters) (*schema.FlowdirResponse, error)
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Store     store.Store
	Runner    FlowdirRunner
	Hub       streaming.EventHub
	Validator *validation.RequestValidator
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server serves the backend API.
type Server struct {
	deps Deps
}

// New creates a Server. A request validator is built when none is given.
func New(deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "server: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Validator == nil {
		v, err := validation.NewRequestValidator()
		if err != nil {
			return nil, err
		}
		deps.Validator = v
	}
	return &Server{deps: deps}, nil
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Flows.
	mux.HandleFunc("GET /api/flows", s.handleListFlows)
	mux.HandleFunc("POST /api/flows", s.handleSaveFlow)
	mux.HandleFunc("POST /api/flows/autosave", s.handleAutosave)
	mux.HandleFunc("POST /api/flows/execute", s.handleExecuteFlow)
	mux.HandleFunc("GET /api/flows/{id}", s.handleGetFlow)
	mux.HandleFunc("DELETE /api/flows/{id}", s.handleDeleteFlow)
	mux.HandleFunc("GET /api/flows/{id}/events", s.handleFlowEvents)

	// Workspace settings.
	mux.HandleFunc("GET /api/workspace-settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/workspace-settings", s.handlePutSettings)

	// FlowDir.
	mux.HandleFunc("GET /api/flowdir-executions", s.handleListAudits)
	mux.HandleFunc("POST /api/flowdir-executions", s.handleCreateAudit)
	mux.HandleFunc("GET /api/flowdir-executions/{id}", s.handleGetAudit)
	mux.HandleFunc("PUT /api/flowdir-executions/{id}", s.handleUpdateAudit)
	mux.HandleFunc("POST /api/dir-create/execute-flowdir", s.handleExecuteFlowdir)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/flows/{id}", s.handleSSEFlow)

	return mux
}

// ListenAndServe serves the API on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// record appends an activity log entry and publishes the event on the hub.
// Failures are logged and never fail the request.
func (s *Server) record(ctx context.Context, flowID, eventType string, payload any) {
	if flowID != "" {
		if err := s.deps.Store.RecordEvent(ctx, flowID, eventType, payload); err != nil {
			s.deps.Logger.WarnContext(ctx, "record event failed", "flow_id", flowID, "event", eventType, "error", err)
		}
	}
	streaming.Emit(ctx, s.deps.Hub, streaming.StreamEvent{
		FlowID:    flowID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: s.deps.Now(),
	})
}
