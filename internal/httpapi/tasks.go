package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/basket/sprintd/internal/board"
)

// createTaskRequest accepts either a single object or a batch array; both
// forms decode into the same field shape per task.
type createTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Executor    string   `json:"executor"`
	SprintID    string   `json:"sprint_id"`
	DependsOn   []string `json:"depends_on"`
	ProjectPath string   `json:"project_path"`
}

func (in createTaskRequest) toBoardInput() board.CreateTaskInput {
	return board.CreateTaskInput{
		Title:       in.Title,
		Description: in.Description,
		Author:      in.Author,
		Executor:    in.Executor,
		SprintID:    in.SprintID,
		DependsOn:   in.DependsOn,
		ProjectPath: in.ProjectPath,
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, err := decodeOneOrMany[createTaskRequest](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created := make([]board.Task, 0, len(body))
	for _, in := range body {
		if in.Title == "" || in.Author == "" || in.Executor == "" {
			writeError(w, http.StatusBadRequest, "title, author and executor are required")
			return
		}
		task, err := s.board.CreateTask(in.toBoardInput())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		created = append(created, task)
	}

	if len(created) == 1 {
		writeJSON(w, http.StatusCreated, created[0])
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := board.TaskFilter{
		Status:   board.TaskStatus(r.URL.Query().Get("status")),
		SprintID: r.URL.Query().Get("sprint_id"),
		TaskType: board.TaskType(r.URL.Query().Get("task_type")),
	}
	tasks, err := s.board.GetTasks(filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type triggerResponse = struct {
	TaskID  string `json:"task_id"`
	Agent   string `json:"agent"`
	Role    string `json:"role"`
	Runtime string `json:"runtime"`
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

func (s *Server) handleTriggerTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.scheduler.Trigger(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse(result))
}

type updateTaskStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body updateTaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !board.ValidStatus(board.TaskStatus(body.Status)) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	if _, err := s.board.UpdateTaskStatus(id, board.TaskStatus(body.Status)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type createBugRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Executor    string `json:"executor"`
	SprintID    string `json:"sprint_id"`
	RelatedTask string `json:"related_task"`
}

func (s *Server) handleCreateBug(w http.ResponseWriter, r *http.Request) {
	var in createBugRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Title == "" || in.Author == "" || in.Executor == "" {
		writeError(w, http.StatusBadRequest, "title, author and executor are required")
		return
	}
	bug, err := s.board.CreateBug(board.CreateBugInput{
		Title:       in.Title,
		Description: in.Description,
		Author:      in.Author,
		Executor:    in.Executor,
		SprintID:    in.SprintID,
		RelatedTask: in.RelatedTask,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bug)
}

// decodeOneOrMany decodes a request body that's either a single JSON object
// or an array of them into a uniform slice.
func decodeOneOrMany[T any](r *http.Request) ([]T, error) {
	raw := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	var asSlice []T
	if err := json.Unmarshal(raw, &asSlice); err == nil {
		return asSlice, nil
	}
	var single T
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []T{single}, nil
}
