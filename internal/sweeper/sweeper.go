// Package sweeper runs the orchestrator's periodic backstop: reclaiming
// running records whose lease has expired without a heartbeat, and
// recomputing each sprint's finalize-task dependency gate in case a board
// mutation raced past the inline recompute that normally covers it.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/sprintd/internal/board"
)

// Reclaimer is the subset of *scheduler.Scheduler the sweeper needs. Kept
// as an interface so sweeper tests don't have to stand up a full runner.
type Reclaimer interface {
	ReclaimExpired(now time.Time) []string
}

// Config holds the sweeper's dependencies.
type Config struct {
	Board     *board.Board
	Scheduler Reclaimer
	Logger    *slog.Logger
	Interval  time.Duration // tick interval; defaults to 1 minute if zero
}

// Sweeper periodically reclaims expired leases and recomputes finalize-task
// dependency gates across every sprint, driven by a robfig/cron entry
// rather than a bare ticker so its schedule can later grow a real cron
// expression (e.g. a cheaper off-hours cadence) without changing the loop.
type Sweeper struct {
	board     *board.Board
	scheduler Reclaimer
	logger    *slog.Logger
	interval  time.Duration

	cron *cronlib.Cron
}

// New creates a new Sweeper with the given config.
func New(cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		board:     cfg.Board,
		scheduler: cfg.Scheduler,
		logger:    logger,
		interval:  interval,
	}
}

// Start begins the sweep loop. ctx cancellation is honored via Stop; the
// caller is still responsible for calling Stop on shutdown.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron = cronlib.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		s.logger.Error("sweeper: invalid schedule, falling back to 1m", "error", err, "spec", spec)
		_, _ = s.cron.AddFunc("@every 1m", func() { s.tick(ctx) })
	}
	s.tick(ctx)
	s.cron.Start()
	s.logger.Info("sweeper started", "interval", s.interval)
}

// Stop halts the cron entry and waits for any in-flight tick to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) tick(ctx context.Context) {
	s.reclaimExpiredLeases(ctx)
	s.recomputeFinalizeDeps(ctx)
}

func (s *Sweeper) reclaimExpiredLeases(_ context.Context) {
	if s.scheduler == nil {
		return
	}
	reclaimed := s.scheduler.ReclaimExpired(time.Now().UTC())
	for _, taskID := range reclaimed {
		s.logger.Warn("sweeper: reclaimed expired lease", "task_id", taskID)
	}
}

func (s *Sweeper) recomputeFinalizeDeps(_ context.Context) {
	sprints, err := s.board.ListSprints()
	if err != nil {
		s.logger.Error("sweeper: failed to list sprints", "error", err)
		return
	}
	for _, sp := range sprints {
		if err := s.board.RecomputeFinalizeDeps(sp.ID); err != nil {
			s.logger.Error("sweeper: failed to recompute finalize deps",
				"sprint_id", sp.ID,
				"error", err,
			)
		}
	}
}
