package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/basket/sprintd/internal/board"
)

type createSprintRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	CreatedBy      string `json:"created_by"`
	ReadyToExecute bool   `json:"ready_to_execute"`
}

func (s *Server) handleCreateSprint(w http.ResponseWriter, r *http.Request) {
	var in createSprintRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Title == "" || in.CreatedBy == "" {
		writeError(w, http.StatusBadRequest, "title and created_by are required")
		return
	}
	sprint, _, err := s.board.CreateSprint(board.CreateSprintInput{
		Title:          in.Title,
		Description:    in.Description,
		CreatedBy:      in.CreatedBy,
		ReadyToExecute: in.ReadyToExecute,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sprint)
}

func (s *Server) handleListSprints(w http.ResponseWriter, r *http.Request) {
	sprints, err := s.board.ListSprints()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sprints)
}

// updateSprintRequest carries the two mutable sprint fields the HTTP
// surface exposes; a nil pointer means "leave this field alone" so a caller
// can update status without clobbering ready_to_execute or vice versa.
type updateSprintRequest struct {
	Status         *string `json:"status"`
	ReadyToExecute *bool   `json:"ready_to_execute"`
}

func (s *Server) handleUpdateSprint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var in updateSprintRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var sprint board.Sprint
	var err error
	if in.ReadyToExecute != nil {
		sprint, err = s.board.SetSprintReady(id, *in.ReadyToExecute)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if in.Status != nil {
		sprint, err = s.board.SetSprintStatus(id, board.SprintStatus(*in.Status))
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sprint)
}
