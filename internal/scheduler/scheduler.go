package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/sprintd/internal/audit"
	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/obs"
	"github.com/basket/sprintd/internal/runner"
	"github.com/basket/sprintd/internal/store"
)

// DefaultMaxAttempts and DefaultAgentTimeout mirror the trigger contract's
// stated defaults (§4.E).
const (
	DefaultMaxAttempts  = 3
	DefaultAgentTimeout = 10 * time.Minute

	// leaseGrace extends past AgentTimeout so a lease never expires while an
	// attempt is still legitimately running; it only lapses once an attempt
	// has overrun its own timeout by a wide margin, which only happens if
	// the owning goroutine is stuck.
	leaseGrace = 2 * time.Minute
)

// runningEntry is the in-memory, never-persisted record of one attempt in
// flight, plus the cancel func that lets an operator cancellation or a
// process shutdown abort the underlying invocation's context.
type runningEntry struct {
	info      RunningInfo
	cancel    context.CancelFunc
	cancelled bool
}

// RunningInfo is the snapshot surfaced by GET /api/running-tasks. LeaseOwner
// and LeaseExpiresAt exist so a background sweeper can tell a merely-slow
// run from one whose owning goroutine leaked or deadlocked: the lease is
// renewed on every invocation attempt boundary, and an entry whose lease
// has lapsed is reclaimable without waiting for the process to restart.
type RunningInfo struct {
	TaskID         string    `json:"task_id"`
	Agent          string    `json:"agent"`
	Role           string    `json:"role"`
	Runtime        string    `json:"runtime"`
	StartedAt      time.Time `json:"started_at"`
	LeaseOwner     string    `json:"lease_owner"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

// TriggerResult is the synchronous response body for POST .../trigger.
type TriggerResult struct {
	TaskID  string `json:"task_id"`
	Agent   string `json:"agent"`
	Role    string `json:"role"`
	Runtime string `json:"runtime"`
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// Scheduler is the task trigger: single-flight per task id, dependency
// gating, retry/backoff around the agent runner, and the post-completion
// race guard that keeps a late transport error from overwriting a result
// the agent already committed.
type Scheduler struct {
	board  *board.Board
	bus    *bus.Bus
	store  *store.Store
	runner *runner.Runner
	logger *slog.Logger
	audit  *audit.Ledger
	obs    obs.Recorder

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	AgentTimeout   time.Duration

	mu      sync.Mutex
	running map[string]*runningEntry

	sem chan struct{} // nil: no global concurrency ceiling
}

// New returns a Scheduler wired to the given board, bus, store and runner.
func New(bd *board.Board, b *bus.Bus, s *store.Store, r *runner.Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		board:        bd,
		bus:          b,
		store:        s,
		runner:       r,
		logger:       logger,
		MaxAttempts:  DefaultMaxAttempts,
		AgentTimeout: DefaultAgentTimeout,
		running:      make(map[string]*runningEntry),
	}
}

// SetAudit wires an event ledger into the scheduler; nil (the default) is
// a valid, no-op configuration for callers that don't need a queryable
// history of transitions.
func (s *Scheduler) SetAudit(l *audit.Ledger) {
	s.audit = l
}

// SetObs wires a telemetry recorder into the scheduler; nil (the default)
// is a valid, no-op configuration.
func (s *Scheduler) SetObs(r obs.Recorder) {
	s.obs = r
}

// SetMaxConcurrent bounds how many attempts may be in flight across every
// task at once. n <= 0 removes the ceiling (the default: only the
// per-task single-flight guard applies).
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n <= 0 {
		s.sem = nil
		return
	}
	s.sem = make(chan struct{}, n)
}

// Running returns a snapshot of every attempt currently in flight.
func (s *Scheduler) Running() map[string]RunningInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]RunningInfo, len(s.running))
	for id, e := range s.running {
		out[id] = e.info
	}
	return out
}

// Cancel marks taskID's in-flight attempt cancelled: the retry loop will not
// start another attempt, and the in-flight invocation's context is
// cancelled so the runner can stop streaming at its next frame boundary.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.running[taskID]
	if !ok {
		return false
	}
	e.cancelled = true
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

func (s *Scheduler) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (s *Scheduler) agentTimeout() time.Duration {
	if s.AgentTimeout > 0 {
		return s.AgentTimeout
	}
	return DefaultAgentTimeout
}

// Trigger implements the eleven-step trigger contract (§4.E). It blocks
// until the run reaches a terminal state.
func (s *Scheduler) Trigger(ctx context.Context, taskID string) (TriggerResult, error) {
	// Step 1: load & validate.
	task, err := s.board.GetTask(taskID)
	if err != nil {
		if err == board.ErrTaskNotFound {
			return TriggerResult{}, rejectErr(CodeNotFound, taskID)
		}
		return TriggerResult{}, err
	}
	if board.NormalizeStatus(task.Status) != board.StatusNew {
		return TriggerResult{}, rejectErr(CodeInvalidStatus, taskID)
	}

	// Step 2: single-flight guard.
	if !s.admit(taskID) {
		return TriggerResult{}, rejectErr(CodeAlreadyRunning, taskID)
	}
	defer s.release(taskID)

	// Step 3: dependency check.
	runnable, err := s.board.IsRunnable(taskID)
	if err != nil {
		return TriggerResult{}, err
	}
	if !runnable {
		return TriggerResult{}, rejectErr(CodeBlocked, taskID)
	}

	// Step 4: executor resolution.
	emp, err := s.board.ResolveExecutor(task.Executor)
	if err != nil {
		return TriggerResult{}, rejectErr(CodeNoExecutor, taskID)
	}

	// An explicit re-trigger is the operator's way of saying "try again" —
	// any failures recorded against this task before now are stale.
	_ = s.board.ResolveFailuresForTask(taskID)

	// Concurrency ceiling: block until a slot frees up or ctx is cancelled.
	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return TriggerResult{}, ctx.Err()
		}
	}

	// Step 5: commit running record, publish board_changed.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.commit(taskID, emp, task, runCtx, cancel)
	s.bus.Publish(bus.TopicBoardChanged, bus.BoardChangedEvent{Type: "running_started", TS: time.Now().Unix()})
	s.recordTransition(ctx, taskID, task.Executor, "trigger", string(task.Status), "running")

	startedAt := time.Now().UTC()

	// Step 6: compose prompt.
	prompt, err := composePrompt(s.store, task)
	if err != nil {
		return TriggerResult{}, err
	}

	var endSpan func(bool, string)
	if s.obs != nil {
		runCtx, endSpan = s.obs.StartTask(runCtx, taskID, task.Executor)
	}

	result, outcome, attempts := s.runWithRetry(runCtx, taskID, emp, task, prompt)
	if endSpan != nil {
		endSpan(result, outcome)
	}
	s.recordMetric(ctx, taskID, task.Executor, attempts, startedAt, result, outcome)

	return TriggerResult{
		TaskID:  taskID,
		Agent:   task.Executor,
		Role:    emp.Role,
		Runtime: runtimeOf(emp),
		Success: result,
		Result:  outcome,
	}, nil
}

// recordTransition is a no-op when no audit ledger is wired; it never
// blocks or fails Trigger on a ledger write error, since the ledger is a
// derived index and must never become a dependency of the state model.
func (s *Scheduler) recordTransition(ctx context.Context, taskID, agent, eventType, from, to string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.RecordTransition(ctx, audit.TaskEvent{
		TaskID:    taskID,
		EventType: eventType,
		StateFrom: from,
		StateTo:   to,
	}, map[string]string{"agent": agent}); err != nil {
		s.logger.Warn("audit: record transition", "task_id", taskID, "error", err)
	}
}

func (s *Scheduler) recordMetric(ctx context.Context, taskID, agent string, attempts int, startedAt time.Time, success bool, outcome string) {
	if s.audit == nil {
		return
	}
	completedAt := time.Now().UTC()
	status := "failed"
	errMsg := outcome
	if success {
		status = "done"
		errMsg = ""
	}
	m := audit.TaskMetric{
		TaskID:       taskID,
		AgentID:      agent,
		Attempts:     attempts,
		StartedAt:    startedAt,
		CompletedAt:  &completedAt,
		DurationMS:   completedAt.Sub(startedAt).Milliseconds(),
		Status:       status,
		ErrorMessage: errMsg,
	}
	if err := s.audit.RecordMetric(ctx, m); err != nil {
		s.logger.Warn("audit: record metric", "task_id", taskID, "error", err)
	}
	s.recordTransition(ctx, taskID, agent, "trigger_complete", "running", status)
}

// runWithRetry executes steps 7-10: invoke with retry, timeout-resume
// prompting, the post-completion race guard, and terminal outcome
// persistence.
func (s *Scheduler) runWithRetry(ctx context.Context, taskID string, emp board.Employee, task board.Task, prompt string) (success bool, result string, attempts int) {
	var sessionID string
	var lastOutcome runner.Outcome

	for attempt := 1; attempt <= s.maxAttempts(); attempt++ {
		attempts = attempt
		if s.cancelled(taskID) {
			ok, text := s.checkPostCompletion(taskID)
			return ok, text, attempts
		}
		s.renewLease(taskID)

		invPrompt := prompt
		if lastOutcome.ErrorType == board.ErrTimeout && sessionID != "" {
			invPrompt = resumePrompt(task)
		}

		inv := runner.Invocation{
			Agent:          task.Executor,
			Prompt:         invPrompt,
			Model:          emp.Model,
			Workdir:        emp.Workdir,
			SessionID:      sessionID,
			Tools:          emp.AllowedTools,
			PermissionMode: emp.PermissionMode,
			MaxBudgetUSD:   emp.MaxBudgetUSD,
			Timeout:        s.agentTimeout(),
		}

		callStart := time.Now()
		outcome := s.runner.Run(ctx, emp, inv, taskID)
		if s.obs != nil {
			var callErr error
			if !outcome.Success {
				callErr = fmt.Errorf("%s: %s", outcome.ErrorType, outcome.ErrorMessage)
			}
			s.obs.RecordLLMCall(ctx, task.Executor, time.Since(callStart).Seconds(), callErr)
		}
		lastOutcome = outcome
		sessionID = outcome.SessionID

		if outcome.Success {
			return true, outcome.PartialResult, attempts
		}

		// Step 9: post-completion race guard.
		if ok, text := s.checkPostCompletion(taskID); ok {
			return true, text, attempts
		}

		// Poison comparison is against task.LastErrorFingerprint as loaded at
		// the top of Trigger — the fingerprint of the *previous terminal*
		// failure recorded for this task, if any. It never moves within this
		// retry loop: only a terminal RecordFailure advances it.
		fingerprint := board.Fingerprint(outcome.ErrorType, outcome.ErrorMessage)
		poison := task.IsPoison(fingerprint)
		if _, err := s.board.RecordAttempt(taskID); err != nil {
			s.logger.Warn("record attempt", "task_id", taskID, "error", err)
		}

		if poison || !outcome.ErrorType.Retryable() || attempt == s.maxAttempts() {
			s.recordFailure(taskID, task.Executor, outcome, fingerprint, poison)
			return false, outcome.ErrorMessage, attempts
		}

		if s.obs != nil {
			s.obs.RecordRetry(ctx, taskID)
		}

		select {
		case <-ctx.Done():
			return false, outcome.ErrorMessage, attempts
		case <-time.After(backoffDelay(taskID, attempt, s.RetryBaseDelay, s.RetryMaxDelay)):
		}
	}
	return false, lastOutcome.ErrorMessage, attempts
}

// checkPostCompletion re-reads the task; if it already reached a terminal
// status (the agent itself set it, a tail-of-stream error notwithstanding),
// the run is reported as success instead of a failure.
func (s *Scheduler) checkPostCompletion(taskID string) (bool, string) {
	fresh, err := s.board.GetTask(taskID)
	if err != nil {
		return false, ""
	}
	if fresh.Status.Terminal() {
		return true, fresh.Result
	}
	return false, ""
}

// recordFailure persists a terminal failure. When poison is true, the
// dead-letter is recorded with error_type "unknown" and a "[poison]"-prefixed
// message so it's distinguishable from an ordinary terminal failure, but the
// fingerprint carried onto the task is still the original error's (via
// RecordFailureInput.Fingerprint), so repeated poisoning keeps comparing
// against the real error text rather than the overridden one.
func (s *Scheduler) recordFailure(taskID, agent string, outcome runner.Outcome, fingerprint string, poison bool) {
	errType := outcome.ErrorType
	message := outcome.ErrorMessage
	if poison {
		errType = board.ErrUnknown
		message = "[poison] " + message
	}
	_, err := s.board.RecordFailure(board.RecordFailureInput{
		TaskID:      taskID,
		Agent:       agent,
		ErrorType:   errType,
		Message:     message,
		Fingerprint: fingerprint,
	})
	if err != nil {
		s.logger.Warn("record failure", "task_id", taskID, "error", err)
	}
}

func (s *Scheduler) admit(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[taskID]; ok {
		return false
	}
	s.running[taskID] = &runningEntry{}
	return true
}

func (s *Scheduler) commit(taskID string, emp board.Employee, task board.Task, ctx context.Context, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.running[taskID] = &runningEntry{
		info: RunningInfo{
			TaskID:         taskID,
			Agent:          task.Executor,
			Role:           emp.Role,
			Runtime:        runtimeOf(emp),
			StartedAt:      now,
			LeaseOwner:     processLeaseOwner,
			LeaseExpiresAt: now.Add(s.agentTimeout() + leaseGrace),
		},
		cancel: cancel,
	}
}

// renewLease extends taskID's lease by one more agent-timeout-plus-grace
// window; called at each retry attempt boundary so a long but healthy
// sequence of retries doesn't get reclaimed out from under it.
func (s *Scheduler) renewLease(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.running[taskID]; ok {
		e.info.LeaseExpiresAt = time.Now().UTC().Add(s.agentTimeout() + leaseGrace)
	}
}

// ReclaimExpired cancels and releases every in-flight attempt whose lease
// has lapsed as of now. It returns the task ids reclaimed. A background
// sweeper calls this periodically; under normal operation it finds nothing,
// since every attempt renews its own lease well before expiry.
func (s *Scheduler) ReclaimExpired(now time.Time) []string {
	s.mu.Lock()
	var expired []string
	for id, e := range s.running {
		if now.After(e.info.LeaseExpiresAt) {
			e.cancelled = true
			if e.cancel != nil {
				e.cancel()
			}
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.running, id)
	}
	s.mu.Unlock()

	for range expired {
		s.bus.Publish(bus.TopicBoardChanged, bus.BoardChangedEvent{Type: "lease_reclaimed", TS: now.Unix()})
	}
	return expired
}

// processLeaseOwner identifies this process's in-memory running map in the
// lease record; a single-process orchestrator always owns its own leases,
// but the field exists so the shape matches board.RunningTask and a future
// multi-process deployment (explicitly out of scope, §1 Non-goals) would
// have somewhere to put a real owner id.
const processLeaseOwner = "local"

func (s *Scheduler) cancelled(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.running[taskID]
	return ok && e.cancelled
}

func (s *Scheduler) release(taskID string) {
	s.mu.Lock()
	delete(s.running, taskID)
	s.mu.Unlock()
	s.bus.Publish(bus.TopicBoardChanged, bus.BoardChangedEvent{Type: "running_ended", TS: time.Now().Unix()})
}

func runtimeOf(emp board.Employee) string {
	if emp.UsesGateway() {
		return "gateway"
	}
	return "alternate"
}
