package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/basket/sprintd/internal/board"
)

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	var resolved *bool
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolved must be a boolean")
			return
		}
		resolved = &b
	}
	failures, err := s.board.ListFailures(resolved)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]board.AgentFailure{"failures": failures})
}

func (s *Server) handleResolveFailure(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.board.ResolveFailure(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRunningTasks(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	running := s.scheduler.Running()
	out := make(map[string]runningEntryView, len(running))
	for id, info := range running {
		out[id] = runningEntryView{
			Agent:          info.Agent,
			Role:           info.Role,
			Runtime:        info.Runtime,
			StartedAt:      info.StartedAt,
			ElapsedSeconds: now.Sub(info.StartedAt).Seconds(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]map[string]runningEntryView{"running": out})
}

type runningEntryView struct {
	Agent          string    `json:"agent"`
	Role           string    `json:"role"`
	Runtime        string    `json:"runtime"`
	StartedAt      time.Time `json:"started_at"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
}
