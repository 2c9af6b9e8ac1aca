package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/runner"
)

const keepaliveInterval = 30 * time.Second

// handleBoardEvents is GET /api/board-events: every board_changed mutation,
// plus a keepalive comment every ~30s so intermediaries don't time out an
// idle connection.
func (s *Server) handleBoardEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.bus.Subscribe(bus.TopicBoardChanged)
	defer s.bus.Unsubscribe(sub)

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !writeKeepalive(w, flusher) {
				return
			}
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if !writeSSEEvent(w, flusher, ev.Payload) {
				return
			}
		}
	}
}

// handleAgentStream is GET /api/agent-stream/{name}: replays the named
// agent's current-or-last run in full, then tails live events, ending with
// a stream_end sentinel when the run finishes.
func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	agent := r.PathValue("name")

	flusher, ok := startSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, replay, known := s.bus.SubscribeAgentStream(agent)
	defer s.bus.Unsubscribe(sub)

	if !known {
		// No run, current or past, has ever published to this agent's
		// stream: an empty stream terminated immediately by stream_end,
		// rather than tailing forever for an event that will never come.
		writeSSEEvent(w, flusher, runner.StreamEvent{Type: "stream_end"})
		return
	}

	for _, ev := range replay {
		if !writeSSEEvent(w, flusher, ev.Payload) {
			return
		}
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !writeKeepalive(w, flusher) {
				return
			}
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			if !writeSSEEvent(w, flusher, ev.Payload) {
				return
			}
		}
	}
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	return flusher, ok
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return true
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func writeKeepalive(w http.ResponseWriter, flusher http.Flusher) bool {
	if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
