package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/rendis/pinnacle/internal/store"
	"github.com/rendis/pinnacle/internal/validation"
	"github.com/rendis/pinnacle/pkg/schema"
)

// autosaveIDPrefix namespaces autosave rows so they never overwrite a named flow.
const autosaveIDPrefix = "autosave-"

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.deps.Store.ListFlows(r.Context(), store.FlowFilter{
		ExcludeAutoSave: queryBool(r, "excludeAutoSave"),
		Limit:           queryInt(r, "limit", 0),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if flows == nil {
		flows = []*schema.FlowSummary{}
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.deps.Store.GetFlow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (s *Server) handleSaveFlow(w http.ResponseWriter, r *http.Request) {
	var req schema.SaveFlowRequest
	if !s.readBody(w, r, validation.SchemaSaveFlow, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.IsAutoSave = false
	s.upsert(w, r, req, schema.EventFlowSaved)
}

func (s *Server) handleAutosave(w http.ResponseWriter, r *http.Request) {
	var req schema.SaveFlowRequest
	if !s.readBody(w, r, validation.SchemaExecuteFlow, &req) {
		return
	}
	suffix := req.ID
	if suffix == "" {
		suffix = "default"
	}
	req.ID = autosaveIDPrefix + suffix
	if req.Name == "" {
		req.Name = fmt.Sprintf("Autosave %s", s.deps.Now().Format("2006-01-02 15:04:05"))
	}
	req.IsAutoSave = true
	s.upsert(w, r, req, schema.EventFlowAutosave)
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request, req schema.SaveFlowRequest, eventType string) {
	ctx := r.Context()
	now := s.deps.Now()
	viewport := req.Viewport
	if viewport.Zoom <= 0 {
		viewport.Zoom = schema.DefaultViewport.Zoom
	}
	flow := &schema.SavedFlow{
		ID:                req.ID,
		Name:              req.Name,
		Nodes:             req.Nodes,
		Edges:             req.Edges,
		CanvasState:       schema.CanvasState{Viewport: viewport},
		WorkspaceSettings: req.WorkspaceSettings,
		IsAutoSave:        req.IsAutoSave,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.deps.Store.UpsertFlow(ctx, flow); err != nil {
		writeFlowError(w, err)
		return
	}
	s.record(ctx, flow.ID, eventType, map[string]any{
		"name":  flow.Name,
		"nodes": len(flow.Nodes),
		"edges": len(flow.Edges),
	})
	writeJSON(w, http.StatusOK, schema.SaveFlowResponse{ID: flow.ID, Name: flow.Name, UpdatedAt: flow.UpdatedAt})
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if err := s.deps.Store.DeleteFlow(ctx, id); err != nil {
		writeFlowError(w, err)
		return
	}
	s.record(ctx, id, schema.EventFlowDeleted, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleExecuteFlow checks the graph structure and reports the execution
// order. Structural problems are returned as success:false.
func (s *Server) handleExecuteFlow(w http.ResponseWriter, r *http.Request) {
	var req schema.ExecuteFlowRequest
	if !s.readBody(w, r, validation.SchemaExecuteFlow, &req) {
		return
	}
	ctx := r.Context()

	report, err := validation.CheckGraph(req.Nodes, req.Edges)
	if err != nil {
		msg := err.Error()
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			msg = fe.Message
		}
		s.record(ctx, "", schema.EventExecutionFailed, map[string]any{"error": msg})
		writeJSON(w, http.StatusOK, schema.ExecuteFlowResponse{Success: false, Error: msg})
		return
	}

	resp := schema.ExecuteFlowResponse{
		Success:       true,
		ExecutedNodes: len(report.Order),
		Order:         report.Order,
		Message:       fmt.Sprintf("Executed %d nodes", len(report.Order)),
	}
	s.record(ctx, "", schema.EventExecutionCompleted, map[string]any{"executedNodes": resp.ExecutedNodes})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFlowEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), int64(queryInt(r, "since", 0)))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Store.GetSetting(r.Context(), settingsKey)
	if schema.IsCode(err, schema.ErrCodeNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		writeFlowError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(v)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("read body: %v", err))
		return
	}
	if !json.Valid(data) {
		writeError(w, http.StatusBadRequest, "workspace settings must be JSON")
		return
	}
	if err := s.deps.Store.PutSetting(r.Context(), settingsKey, data); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
