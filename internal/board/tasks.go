package board

import (
	"fmt"
	"time"

	"github.com/basket/sprintd/internal/store"
)

// CreateTaskInput gathers the optional fields a caller may supply; Title,
// Author and Executor are required.
type CreateTaskInput struct {
	Title       string
	Description string
	Author      string
	Executor    string
	SprintID    string
	DependsOn   []string
	ProjectPath string
}

// CreateTask assigns the next monotonic task id, links it to its sprint's
// finalize task if one exists, and commits the mutation in a single
// critical section.
func (bd *Board) CreateTask(in CreateTaskInput) (Task, error) {
	now := time.Now().UTC()
	var created Task

	sf, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		id := fmtTaskID(sf.NextID)
		sf.NextID++

		created = Task{
			ID:          id,
			Title:       in.Title,
			Description: in.Description,
			TaskType:    TaskTypeTask,
			Status:      StatusNew,
			Author:      in.Author,
			Executor:    in.Executor,
			SprintID:    in.SprintID,
			DependsOn:   append([]string{}, in.DependsOn...),
			ProjectPath: in.ProjectPath,
			MaxAttempts: DefaultMaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		sf.Tasks = append(sf.Tasks, created)

		if in.SprintID != "" {
			linkToFinalize(&sf, in.SprintID)
		}
		return sf, nil
	})
	if err != nil {
		return Task{}, err
	}
	_ = sf
	bd.publishBoardChanged(now.Unix())
	return created, nil
}

// CreateBugInput mirrors CreateTaskInput for the bug-report flavor of task.
type CreateBugInput struct {
	Title       string
	Description string
	Author      string
	Executor    string
	SprintID    string
	RelatedTask string
}

// CreateBug assigns the next monotonic bug id (a counter independent of
// regular tasks) and otherwise behaves like CreateTask, including
// finalize-linking.
func (bd *Board) CreateBug(in CreateBugInput) (Task, error) {
	now := time.Now().UTC()
	var created Task

	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		id := fmtBugID(sf.NextBugID)
		sf.NextBugID++

		created = Task{
			ID:          id,
			Title:       in.Title,
			Description: in.Description,
			TaskType:    TaskTypeBug,
			RelatedTask: in.RelatedTask,
			Status:      StatusNew,
			Author:      in.Author,
			Executor:    in.Executor,
			SprintID:    in.SprintID,
			DependsOn:   []string{},
			MaxAttempts: DefaultMaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		sf.Tasks = append(sf.Tasks, created)

		if in.SprintID != "" {
			linkToFinalize(&sf, in.SprintID)
		}
		return sf, nil
	})
	if err != nil {
		return Task{}, err
	}
	bd.publishBoardChanged(now.Unix())
	return created, nil
}

// linkToFinalize appends taskID to the sprint's finalize task's depends_on,
// if the sprint has one. Must be called while already holding the store's
// update critical section (sf is the in-flight mutation).
func linkToFinalize(sf *stateFile, sprintID string) {
	si := findSprintIndex(sf.Sprints, sprintID)
	if si < 0 || sf.Sprints[si].FinalizeTaskID == "" {
		return
	}
	fi := findTaskIndex(sf.Tasks, sf.Sprints[si].FinalizeTaskID)
	if fi < 0 {
		return
	}
	justCreated := sf.Tasks[len(sf.Tasks)-1].ID
	sf.Tasks[fi].DependsOn = append(sf.Tasks[fi].DependsOn, justCreated)
	sf.Tasks[fi].UpdatedAt = time.Now().UTC()
}

// GetTask returns a single task by id.
func (bd *Board) GetTask(id string) (Task, error) {
	sf, err := bd.load()
	if err != nil {
		return Task{}, err
	}
	idx := findTaskIndex(sf.Tasks, id)
	if idx < 0 {
		return Task{}, ErrTaskNotFound
	}
	return sf.Tasks[idx], nil
}

// GetTasks returns every task matching filter.
func (bd *Board) GetTasks(filter TaskFilter) ([]Task, error) {
	sf, err := bd.load()
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(sf.Tasks))
	for _, t := range sf.Tasks {
		if filter.matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// IsRunnable reports whether the task with the given id is currently
// runnable: status new and every dependency terminal.
func (bd *Board) IsRunnable(id string) (bool, error) {
	sf, err := bd.load()
	if err != nil {
		return false, err
	}
	idx := findTaskIndex(sf.Tasks, id)
	if idx < 0 {
		return false, ErrTaskNotFound
	}
	return sf.Tasks[idx].IsRunnable(indexByID(sf.Tasks)), nil
}

// UpdateTaskStatus validates and applies an operator- or agent-driven
// status transition, completing the owning sprint when its finalize task
// reaches done with every sibling terminal.
func (bd *Board) UpdateTaskStatus(id string, newStatus TaskStatus) (Task, error) {
	if !ValidStatus(newStatus) {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	now := time.Now().UTC()
	var updated Task

	sf, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		idx := findTaskIndex(sf.Tasks, id)
		if idx < 0 {
			return sf, ErrTaskNotFound
		}
		sf.Tasks[idx].Status = newStatus
		sf.Tasks[idx].UpdatedAt = now
		updated = sf.Tasks[idx]

		if newStatus == StatusDone && sf.Tasks[idx].IsFinalize && sf.Tasks[idx].SprintID != "" {
			maybeCompleteSprint(&sf, sf.Tasks[idx].SprintID, now)
		}
		return sf, nil
	})
	if err != nil {
		return Task{}, err
	}
	_ = sf
	bd.publishBoardChanged(now.Unix())
	return updated, nil
}

// maybeCompleteSprint sets a sprint's status to completed once every
// non-finalize sibling of its finalize task is terminal. Caller must already
// be inside the store's update critical section.
func maybeCompleteSprint(sf *stateFile, sprintID string, now time.Time) {
	si := findSprintIndex(sf.Sprints, sprintID)
	if si < 0 {
		return
	}
	for _, t := range sf.Tasks {
		if t.SprintID != sprintID || t.IsFinalize {
			continue
		}
		if !t.Status.Terminal() {
			return
		}
	}
	sf.Sprints[si].Status = SprintCompleted
}

// SetTaskResult persists the free-text outcome the executing agent wrote.
func (bd *Board) SetTaskResult(id, result string) (Task, error) {
	now := time.Now().UTC()
	var updated Task

	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		idx := findTaskIndex(sf.Tasks, id)
		if idx < 0 {
			return sf, ErrTaskNotFound
		}
		sf.Tasks[idx].Result = result
		sf.Tasks[idx].UpdatedAt = now
		updated = sf.Tasks[idx]
		return sf, nil
	})
	if err != nil {
		return Task{}, err
	}
	bd.publishBoardChanged(now.Unix())
	return updated, nil
}

// RecordAttempt bumps a task's attempt counter after a failed invocation,
// terminal or not. It does not change Status or LastErrorFingerprint: a
// failed attempt leaves the task in its current (usually still new) status
// so the operator or the scheduler's own retry loop decides what happens
// next, and the poison-pill fingerprint is only ever updated by a terminal
// RecordFailure (see setLastErrorFingerprint).
func (bd *Board) RecordAttempt(id string) (Task, error) {
	now := time.Now().UTC()
	var updated Task

	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		idx := findTaskIndex(sf.Tasks, id)
		if idx < 0 {
			return sf, ErrTaskNotFound
		}
		sf.Tasks[idx].Attempt++
		sf.Tasks[idx].UpdatedAt = now
		updated = sf.Tasks[idx]
		return sf, nil
	})
	if err != nil {
		return Task{}, err
	}
	return updated, nil
}

// setLastErrorFingerprint persists fingerprint as the task's poison-pill
// comparison point. Only RecordFailure calls this, since the poison check
// (Task.IsPoison) is defined over consecutive *terminal* failures — a
// retryable attempt that hasn't exhausted its retries yet must never move
// this value.
func (bd *Board) setLastErrorFingerprint(id, fingerprint string) error {
	now := time.Now().UTC()
	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		idx := findTaskIndex(sf.Tasks, id)
		if idx < 0 {
			return sf, ErrTaskNotFound
		}
		sf.Tasks[idx].LastErrorFingerprint = fingerprint
		sf.Tasks[idx].UpdatedAt = now
		return sf, nil
	})
	return err
}
