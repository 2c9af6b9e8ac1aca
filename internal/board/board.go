package board

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/basket/sprintd/internal/bus"
	"github.com/basket/sprintd/internal/store"
)

// Sentinel errors returned by Board operations; the HTTP surface maps these
// onto the status codes in §7 of the design.
var (
	ErrTaskNotFound     = errors.New("board: task not found")
	ErrSprintNotFound   = errors.New("board: sprint not found")
	ErrInvalidStatus    = errors.New("board: invalid status")
	ErrNoExecutor       = errors.New("board: executor not resolvable")
)

const (
	tasksFileName = "tasks.json"
	// DefaultMaxAttempts is applied to a task created without an explicit
	// override.
	DefaultMaxAttempts = 3
)

// Board is the state model: pure queries and mutating operations layered
// over the locked JSON store, publishing board_changed on every mutation.
type Board struct {
	store  *store.Store
	bus    *bus.Bus
	logger *slog.Logger
}

// New constructs a Board rooted at the given store.
func New(s *store.Store, b *bus.Bus, logger *slog.Logger) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{store: s, bus: b, logger: logger}
}

func (bd *Board) path() string {
	return bd.store.Path(tasksFileName)
}

func (bd *Board) publishBoardChanged(ts int64) {
	if bd.bus == nil {
		return
	}
	bd.bus.Publish(bus.TopicBoardChanged, bus.BoardChangedEvent{Type: bus.TopicBoardChanged, TS: ts})
}

func emptyState() stateFile {
	return stateFile{Tasks: []Task{}, Sprints: []Sprint{}, NextID: 1, NextBugID: 1, NextSprintID: 1}
}

func normalizeLoaded(sf stateFile) stateFile {
	for i := range sf.Tasks {
		sf.Tasks[i].Status = NormalizeStatus(sf.Tasks[i].Status)
	}
	return sf
}

func (bd *Board) load() (stateFile, error) {
	sf, err := store.Read[stateFile](bd.store, bd.path(), emptyState())
	if err != nil {
		return stateFile{}, err
	}
	return normalizeLoaded(sf), nil
}

// indexByID builds a lookup table, used by IsRunnable and dependency
// resolution.
func indexByID(tasks []Task) map[string]Task {
	out := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t
	}
	return out
}

func findTaskIndex(tasks []Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func findSprintIndex(sprints []Sprint, id string) int {
	for i, s := range sprints {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func fmtTaskID(n int) string { return fmt.Sprintf("T%03d", n) }
func fmtBugID(n int) string  { return fmt.Sprintf("B%03d", n) }
func fmtSprintID(n int) string { return fmt.Sprintf("S%03d", n) }
