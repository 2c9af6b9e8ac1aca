package httpapi

import (
	"net/http"
	"strconv"
)

// handleObservabilityEvents serves a paginated replay of the audit
// ledger: GET /api/observability/events?task_id=&from_event_id=
func (s *Server) handleObservabilityEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, "observability ledger not configured")
		return
	}

	taskID := r.URL.Query().Get("task_id")
	var fromEventID int64
	if raw := r.URL.Query().Get("from_event_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from_event_id must be an integer")
			return
		}
		fromEventID = v
	}

	events, err := s.audit.Events(r.Context(), taskID, fromEventID, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query ledger: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
