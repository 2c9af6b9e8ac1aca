package board

import (
	"time"

	"github.com/basket/sprintd/internal/store"
)

// CreateSprintInput gathers sprint-creation fields.
type CreateSprintInput struct {
	Title          string
	Description    string
	CreatedBy      string
	ReadyToExecute bool
}

// CreateSprint assigns the next monotonic sprint id and atomically creates
// its companion finalize task (depends_on starts empty; every future
// sibling add/remove recomputes it).
func (bd *Board) CreateSprint(in CreateSprintInput) (Sprint, Task, error) {
	now := time.Now().UTC()
	var createdSprint Sprint
	var createdFinalize Task

	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		sprintID := fmtSprintID(sf.NextSprintID)
		sf.NextSprintID++
		taskID := fmtTaskID(sf.NextID)
		sf.NextID++

		createdFinalize = Task{
			ID:          taskID,
			Title:       "Finalize " + in.Title,
			TaskType:    TaskTypeTask,
			Status:      StatusNew,
			Author:      in.CreatedBy,
			SprintID:    sprintID,
			DependsOn:   []string{},
			IsFinalize:  true,
			MaxAttempts: DefaultMaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		createdSprint = Sprint{
			ID:             sprintID,
			Title:          in.Title,
			Description:    in.Description,
			CreatedBy:      in.CreatedBy,
			CreatedAt:      now,
			Status:         SprintActive,
			ReadyToExecute: in.ReadyToExecute,
			FinalizeTaskID: taskID,
		}

		sf.Sprints = append(sf.Sprints, createdSprint)
		sf.Tasks = append(sf.Tasks, createdFinalize)
		return sf, nil
	})
	if err != nil {
		return Sprint{}, Task{}, err
	}
	bd.publishBoardChanged(now.Unix())
	return createdSprint, createdFinalize, nil
}

// ListSprints returns every sprint.
func (bd *Board) ListSprints() ([]Sprint, error) {
	sf, err := bd.load()
	if err != nil {
		return nil, err
	}
	return sf.Sprints, nil
}

// GetSprint returns a single sprint by id.
func (bd *Board) GetSprint(id string) (Sprint, error) {
	sf, err := bd.load()
	if err != nil {
		return Sprint{}, err
	}
	idx := findSprintIndex(sf.Sprints, id)
	if idx < 0 {
		return Sprint{}, ErrSprintNotFound
	}
	return sf.Sprints[idx], nil
}

// SetSprintReady persists the UI's advisory "ready to auto-run" flag; the
// engine never enforces it itself.
func (bd *Board) SetSprintReady(id string, ready bool) (Sprint, error) {
	now := time.Now().UTC()
	var updated Sprint

	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		idx := findSprintIndex(sf.Sprints, id)
		if idx < 0 {
			return sf, ErrSprintNotFound
		}
		sf.Sprints[idx].ReadyToExecute = ready
		updated = sf.Sprints[idx]
		return sf, nil
	})
	if err != nil {
		return Sprint{}, err
	}
	bd.publishBoardChanged(now.Unix())
	return updated, nil
}

// SetSprintStatus transitions a sprint's status field directly; callers are
// responsible for the status making sense (the board does not validate a
// transition graph for sprints the way it does for tasks).
func (bd *Board) SetSprintStatus(id string, status SprintStatus) (Sprint, error) {
	now := time.Now().UTC()
	var updated Sprint

	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		idx := findSprintIndex(sf.Sprints, id)
		if idx < 0 {
			return sf, ErrSprintNotFound
		}
		sf.Sprints[idx].Status = status
		updated = sf.Sprints[idx]
		return sf, nil
	})
	if err != nil {
		return Sprint{}, err
	}
	bd.publishBoardChanged(now.Unix())
	return updated, nil
}

// RecomputeFinalizeDeps rebuilds the sprint's finalize task depends_on set
// from scratch as the id-set of its non-finalize siblings. Safe to call
// after any task add/remove/reassignment as a consistency backstop — it is
// idempotent and does not require that it run after every single mutation,
// unlike the imperative append used by CreateTask/CreateBug.
func (bd *Board) RecomputeFinalizeDeps(sprintID string) error {
	now := time.Now().UTC()

	_, err := store.Update(bd.store, bd.path(), emptyState(), func(sf stateFile) (stateFile, error) {
		sf = normalizeLoaded(sf)
		si := findSprintIndex(sf.Sprints, sprintID)
		if si < 0 {
			return sf, ErrSprintNotFound
		}
		if sf.Sprints[si].FinalizeTaskID == "" {
			return sf, nil
		}
		fi := findTaskIndex(sf.Tasks, sf.Sprints[si].FinalizeTaskID)
		if fi < 0 {
			return sf, nil
		}

		deps := make([]string, 0, len(sf.Tasks))
		for _, t := range sf.Tasks {
			if t.SprintID == sprintID && !t.IsFinalize {
				deps = append(deps, t.ID)
			}
		}
		sf.Tasks[fi].DependsOn = deps
		sf.Tasks[fi].UpdatedAt = now
		return sf, nil
	})
	return err
}
