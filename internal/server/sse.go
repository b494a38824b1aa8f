package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rendis/pinnacle/internal/streaming"
)

// handleSSEGlobal streams hub events, optionally narrowed by the flowId,
// executionId, nodeId and types query params.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, filterFromQuery(r, ""))
}

// handleSSEFlow streams events for a specific flow.
func (s *Server) handleSSEFlow(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, filterFromQuery(r, r.PathValue("id")))
}

func filterFromQuery(r *http.Request, flowID string) streaming.EventFilter {
	q := r.URL.Query()
	f := streaming.EventFilter{FlowID: flowID, ExecutionID: q.Get("executionId"), NodeID: q.Get("nodeId")}
	if f.FlowID == "" {
		f.FlowID = q.Get("flowId")
	}
	if types := q.Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.EventTypes = append(f.EventTypes, t)
			}
		}
	}
	return f
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
