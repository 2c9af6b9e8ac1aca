// Package httpapi is the thin HTTP surface over the board, bus and
// scheduler: REST endpoints for task/sprint/failure CRUD and the two SSE
// feeds (board changes, per-agent stream replay-then-tail). It holds no
// state of its own beyond what it needs to serve a request.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/basket/sprintd/internal/audit"
	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/scheduler"
)

// Server wires the board/bus/scheduler into an http.Handler.
type Server struct {
	board     *board.Board
	bus       *bus.Bus
	scheduler *scheduler.Scheduler
	audit     *audit.Ledger
	logger    *slog.Logger

	auth *AuthMiddleware
	cors func(http.Handler) http.Handler

	mux http.Handler
}

// Options configures a Server beyond its required collaborators.
type Options struct {
	Logger *slog.Logger
	Auth   AuthConfig
	CORS   CORSConfig
	// Audit is optional; when nil, GET /api/observability/events returns 501.
	Audit *audit.Ledger
}

// New builds a Server and its full route table.
func New(bd *board.Board, b *bus.Bus, sched *scheduler.Scheduler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		board:     bd,
		bus:       b,
		scheduler: sched,
		audit:     opts.Audit,
		logger:    logger,
		auth:      NewAuthMiddleware(opts.Auth),
		cors:      NewCORSMiddleware(opts.CORS),
	}
	s.mux = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /api/tasks-list", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks-list", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks-list/{id}/trigger", s.handleTriggerTask)
	mux.HandleFunc("PUT /api/tasks-list/{id}/status", s.handleUpdateTaskStatus)

	mux.HandleFunc("POST /api/bugs", s.handleCreateBug)

	mux.HandleFunc("POST /api/sprints", s.handleCreateSprint)
	mux.HandleFunc("GET /api/sprints", s.handleListSprints)
	mux.HandleFunc("PUT /api/sprints/{id}", s.handleUpdateSprint)

	mux.HandleFunc("GET /api/running-tasks", s.handleRunningTasks)

	mux.HandleFunc("GET /api/agent-failures", s.handleListFailures)
	mux.HandleFunc("DELETE /api/agent-failures/{id}", s.handleResolveFailure)

	mux.HandleFunc("GET /api/board-events", s.handleBoardEvents)
	mux.HandleFunc("GET /api/agent-stream/{name}", s.handleAgentStream)

	mux.HandleFunc("GET /api/ws", s.handleWebsocket)

	mux.HandleFunc("GET /api/observability/events", s.handleObservabilityEvents)

	return s.cors(s.auth.Wrap(mux))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
