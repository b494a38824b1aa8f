package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/rendis/pinnacle/internal/store"
	"github.com/rendis/pinnacle/internal/validation"
	"github.com/rendis/pinnacle/pkg/schema"
)

func (s *Server) handleCreateAudit(w http.ResponseWriter, r *http.Request) {
	var req schema.AuditCreateRequest
	if !s.readBody(w, r, validation.SchemaAuditCreate, &req) {
		return
	}
	ctx := r.Context()
	rec := &schema.AuditRecord{
		ID:         uuid.New().String(),
		FlowID:     req.FlowID,
		Parameters: req.FlowdirParameters,
		Status:     schema.AuditStatusRunning,
		CreatedAt:  s.deps.Now(),
	}
	if err := s.deps.Store.CreateExecution(ctx, rec); err != nil {
		writeFlowError(w, err)
		return
	}
	s.record(ctx, rec.FlowID, schema.EventAuditCreated, map[string]any{
		"id":         rec.ID,
		"parameters": rec.Parameters,
	})
	writeJSON(w, http.StatusCreated, schema.AuditCreateResponse{ID: rec.ID})
}

func (s *Server) handleUpdateAudit(w http.ResponseWriter, r *http.Request) {
	var req schema.AuditUpdateRequest
	if !s.readBody(w, r, validation.SchemaAuditUpdate, &req) {
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")
	if err := s.deps.Store.CompleteExecution(ctx, id, req); err != nil {
		writeFlowError(w, err)
		return
	}

	var flowID string
	if rec, err := s.deps.Store.GetExecution(ctx, id); err == nil {
		flowID = rec.FlowID
	}
	s.record(ctx, flowID, schema.EventAuditUpdated, map[string]any{
		"id":      id,
		"success": req.Success,
		"error":   req.ErrorMessage,
	})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "success": true})
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := s.deps.Store.ListExecutions(r.Context(), store.ExecutionFilter{
		FlowID: q.Get("flowId"),
		Status: schema.AuditStatus(q.Get("status")),
		Limit:  queryInt(r, "limit", 50),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if recs == nil {
		recs = []*schema.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleExecuteFlowdir validates the parameters and runs the directory tool.
// Tool failures are answered with 200 and success:false; only a tool that
// cannot be started is a 5xx.
func (s *Server) handleExecuteFlowdir(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, schema.FlowdirResponse{
			Error:        "directory creation is not configured",
			CreatedPaths: []string{},
		})
		return
	}

	var p schema.FlowdirParameters
	if !s.readBody(w, r, validation.SchemaFlowdir, &p) {
		return
	}
	ctx := r.Context()
	log := s.deps.Logger
	log.InfoContext(ctx, "flowdir request",
		"project", p.ProjectName,
		"block", p.BlockName,
		"tool", p.ToolName,
		"stage", p.Stage,
		"run", p.RunName,
	)

	resp, err := s.deps.Runner.Run(ctx, p)
	if err != nil {
		log.ErrorContext(ctx, "flowdir run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, schema.FlowdirResponse{
			Error:        err.Error(),
			CreatedPaths: []string{},
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
