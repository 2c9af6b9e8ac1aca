package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/sprintd/internal/bus"
)

// wsRunningSnapshot is sent once, right after connect.
type wsRunningSnapshot struct {
	Type    string                      `json:"type"`
	Running map[string]runningEntryView `json:"running"`
}

// wsBoardChanged forwards a board_changed bus event as-is.
type wsBoardChanged struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// wsCancelRequest is the one inbound message type the control channel
// accepts.
type wsCancelRequest struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
}

// handleWebsocket is the optional bidirectional control channel: on
// connect it sends a running-tasks snapshot, then forwards board_changed
// events; the one inbound message it accepts is a cancel request, routed
// through the same path PUT /api/tasks-list/{id}/status uses for an
// operator cancellation.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := r.Context()

	now := time.Now().UTC()
	running := s.scheduler.Running()
	view := make(map[string]runningEntryView, len(running))
	for id, info := range running {
		view[id] = runningEntryView{
			Agent:          info.Agent,
			Role:           info.Role,
			Runtime:        info.Runtime,
			StartedAt:      info.StartedAt,
			ElapsedSeconds: now.Sub(info.StartedAt).Seconds(),
		}
	}
	if err := wsjson.Write(ctx, conn, wsRunningSnapshot{Type: "running_snapshot", Running: view}); err != nil {
		return
	}

	sub := s.bus.Subscribe(bus.TopicBoardChanged)
	defer s.bus.Unsubscribe(sub)

	go s.wsReadLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			bc, ok := ev.Payload.(bus.BoardChangedEvent)
			if !ok {
				continue
			}
			if err := wsjson.Write(ctx, conn, wsBoardChanged{Type: bc.Type, TS: bc.TS}); err != nil {
				return
			}
		}
	}
}

// wsReadLoop handles the one inbound message type this channel accepts.
// It runs until the read fails (client disconnect, context cancelled),
// at which point the caller's write loop will also unwind on its next send.
func (s *Server) wsReadLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var req wsCancelRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			return
		}
		if req.Type != "cancel" || req.TaskID == "" {
			continue
		}
		s.scheduler.Cancel(req.TaskID)
	}
}
