// Package board implements the task/sprint state model: the typed records,
// status graph, dependency gating and auto-finalize invariant that sit on
// top of the locked JSON store. It is the only package allowed to touch
// tasks.json / employees.json / agent_failures.json directly.
package board

import "time"

// TaskType distinguishes a regular unit of work from a bug report.
type TaskType string

const (
	TaskTypeTask TaskType = "task"
	TaskTypeBug  TaskType = "bug"
)

// TaskStatus is the canonical status graph the engine writes. Four legacy
// values (pending, in_progress, in_review) may still appear in state files
// written by an older version of the system; NormalizeStatus folds them
// into StatusNew on read so the engine never has to special-case them.
type TaskStatus string

const (
	StatusNew       TaskStatus = "new"
	StatusDone      TaskStatus = "done"
	StatusQuestions TaskStatus = "questions"
	StatusCancelled TaskStatus = "cancelled"
)

// legacyStatuses maps statuses written by an older revision of the system
// onto their modern equivalent. The engine itself never writes these.
var legacyStatuses = map[TaskStatus]TaskStatus{
	"pending":     StatusNew,
	"in_progress": StatusNew,
	"in_review":   StatusNew,
}

// NormalizeStatus folds legacy status values into their canonical form.
func NormalizeStatus(s TaskStatus) TaskStatus {
	if canon, ok := legacyStatuses[s]; ok {
		return canon
	}
	return s
}

// ValidStatus reports whether s is one of the four canonical statuses an
// operator-facing transition may target.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusNew, StatusDone, StatusQuestions, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether s represents a task that will not be retried or
// rerun without explicit operator action.
func (s TaskStatus) Terminal() bool {
	s = NormalizeStatus(s)
	return s == StatusDone || s == StatusCancelled
}

// SprintStatus is the status graph for a sprint.
type SprintStatus string

const (
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
	SprintReleased  SprintStatus = "released"
)

// ErrorType classifies why an agent invocation terminated without success.
// It doubles as the HTTP-edge error taxonomy (§7) and the scheduler's
// retry/no-retry decision input.
type ErrorType string

const (
	ErrTimeout        ErrorType = "timeout"
	ErrOverloaded     ErrorType = "overloaded"
	ErrRateLimit      ErrorType = "rate_limit"
	ErrNetwork        ErrorType = "network"
	ErrAuthentication ErrorType = "authentication"
	ErrBudget         ErrorType = "budget"
	ErrUnknown        ErrorType = "unknown"
)

// Retryable reports whether the scheduler should attempt another invocation
// after a failure of this type.
func (e ErrorType) Retryable() bool {
	switch e {
	case ErrTimeout, ErrOverloaded, ErrRateLimit, ErrNetwork:
		return true
	default:
		return false
	}
}

// Task is the unit of work an agent executes.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	TaskType     TaskType   `json:"task_type"`
	RelatedTask  string     `json:"related_task,omitempty"`
	Status       TaskStatus `json:"status"`
	Author       string     `json:"author"`
	Executor     string     `json:"executor"`
	SprintID     string     `json:"sprint_id,omitempty"`
	DependsOn    []string   `json:"depends_on"`
	IsFinalize   bool       `json:"is_finalize"`
	Result       string     `json:"result,omitempty"`
	ProjectPath  string     `json:"project_path,omitempty"`

	// Attempt bookkeeping lives on the task itself (rather than only being
	// reconstructed from chat history) so a crash mid-retry resumes with
	// the right counter instead of resetting to zero retries spent.
	Attempt              int    `json:"attempt"`
	MaxAttempts          int    `json:"max_attempts"`
	LastErrorFingerprint string `json:"last_error_fingerprint,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRunnable reports whether t is eligible for trigger(): status new and
// every dependency resolved to a terminal (done/cancelled) task. byID is
// looked up for each dependency; a missing dependency id blocks the task.
func (t Task) IsRunnable(byID map[string]Task) bool {
	if NormalizeStatus(t.Status) != StatusNew {
		return false
	}
	for _, depID := range t.DependsOn {
		dep, ok := byID[depID]
		if !ok {
			return false
		}
		if !dep.Status.Terminal() {
			return false
		}
	}
	return true
}

// IsPoison reports whether newFingerprint repeats the task's previously
// recorded failure fingerprint — two consecutive terminal failures that
// normalize to the same error text. The scheduler treats a poison task as
// exhausted even if attempts remain under MaxAttempts.
func (t Task) IsPoison(newFingerprint string) bool {
	return t.LastErrorFingerprint != "" && newFingerprint != "" && t.LastErrorFingerprint == newFingerprint
}

// Sprint groups tasks and tracks completion through its finalize task.
type Sprint struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	CreatedBy       string       `json:"created_by"`
	CreatedAt       time.Time    `json:"created_at"`
	Status          SprintStatus `json:"status"`
	Version         string       `json:"version,omitempty"`
	ReadyToExecute  bool         `json:"ready_to_execute"`
	FinalizeTaskID  string       `json:"finalize_task_id,omitempty"`
}

// Employee is the external, engine-read-only registry record describing who
// can execute a task and how.
type Employee struct {
	Name           string   `json:"-"`
	Role           string   `json:"role"`
	Model          string   `json:"model"`
	Workdir        string   `json:"workdir"`
	ProjectPath    string   `json:"project_path,omitempty"`
	AllowedTools   []string `json:"allowed_tools"`
	PermissionMode string   `json:"permission_mode"`
	MaxBudgetUSD   float64  `json:"max_budget_usd"`
	FallbackModel  string   `json:"fallback_model,omitempty"`
}

// gatewayModels partitions employee models into the gateway-served runtime
// (an HTTP call to a local LLM gateway) and the alternate, directly-invoked
// CLI runtime.
var gatewayModels = map[string]bool{
	"opus":   true,
	"sonnet": true,
	"haiku":  true,
}

// UsesGateway reports whether this employee's configured model is served
// through the HTTP gateway path rather than the alternate CLI path.
func (e Employee) UsesGateway() bool {
	return gatewayModels[e.Model]
}

// AgentFailure is the persisted sidecar record of one terminal failed
// attempt.
type AgentFailure struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Agent       string    `json:"agent"`
	ErrorType   ErrorType `json:"error_type"`
	Message     string    `json:"message"`
	Traceback   string    `json:"traceback,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Resolved    bool      `json:"resolved"`
}

// RunningTask is the in-memory-only record of an attempt in flight. It
// never touches disk; a process restart loses it, which is an accepted
// crash-recovery tradeoff (see sweeper lease reclamation for the
// strengthened variant used internally by the scheduler).
type RunningTask struct {
	TaskID          string    `json:"task_id"`
	Agent           string    `json:"agent"`
	Role            string    `json:"role"`
	Runtime         string    `json:"runtime"`
	StartedAt       time.Time `json:"started_at"`
	LeaseOwner      string    `json:"lease_owner"`
	LeaseExpiresAt  time.Time `json:"lease_expires_at"`
}

// stateFile is the on-disk shape of tasks.json.
type stateFile struct {
	Tasks         []Task   `json:"tasks"`
	Sprints       []Sprint `json:"sprints"`
	NextID        int      `json:"next_id"`
	NextBugID     int      `json:"next_bug_id"`
	NextSprintID  int      `json:"next_sprint_id"`
}

// TaskFilter narrows GetTasks queries. Zero-value fields are unconstrained.
type TaskFilter struct {
	Status   TaskStatus
	SprintID string
	TaskType TaskType
}

func (f TaskFilter) matches(t Task) bool {
	if f.Status != "" && NormalizeStatus(t.Status) != f.Status {
		return false
	}
	if f.SprintID != "" && t.SprintID != f.SprintID {
		return false
	}
	if f.TaskType != "" && t.TaskType != f.TaskType {
		return false
	}
	return true
}
