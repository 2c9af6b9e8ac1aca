// Package scheduler implements the task trigger: the single entry point
// that resolves an executor for a task, enforces the single-flight and
// dependency-gating rules, drives the agent runner through its retry and
// backoff policy, and reports the terminal outcome.
package scheduler

import "fmt"

// Code is the rejection/failure taxonomy trigger() can return before ever
// reaching the agent runner. It doubles as the HTTP-edge status mapping
// (§7): NotFound→404, the rest of the pre-flight codes→409.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeInvalidStatus  Code = "invalid_status"
	CodeBlocked        Code = "blocked"
	CodeNoExecutor     Code = "no_executor"
	CodeAlreadyRunning Code = "already_running"
)

// TriggerError is returned for every pre-flight rejection (steps 1-4 of the
// trigger contract); none of them mutate state.
type TriggerError struct {
	Code Code
	Task string
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("trigger %s: %s", e.Task, e.Code)
}

func rejectErr(code Code, taskID string) error {
	return &TriggerError{Code: code, Task: taskID}
}
