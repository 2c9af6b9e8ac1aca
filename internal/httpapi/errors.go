package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/scheduler"
	"github.com/basket/sprintd/internal/store"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the {detail:<message>} shape every error response carries.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Detail: msg})
}

// writeDomainError maps a board/scheduler/store error onto the HTTP status
// taxonomy in §7 and writes the {detail:...} body.
func writeDomainError(w http.ResponseWriter, err error) {
	status, msg := classifyDomainError(err)
	writeError(w, status, msg)
}

func classifyDomainError(err error) (int, string) {
	var triggerErr *scheduler.TriggerError
	if errors.As(err, &triggerErr) {
		switch triggerErr.Code {
		case scheduler.CodeInvalidStatus, scheduler.CodeBlocked, scheduler.CodeNoExecutor, scheduler.CodeAlreadyRunning:
			return http.StatusConflict, triggerErr.Error()
		}
	}

	switch {
	case errors.Is(err, board.ErrTaskNotFound), errors.Is(err, board.ErrSprintNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, board.ErrNoExecutor):
		return http.StatusConflict, err.Error()
	case errors.Is(err, store.ErrLockTimeout):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// errorTypeStatus maps an AgentFailure's error_type onto the HTTP status a
// synchronous trigger response should carry per §7, for the (rare) case
// where the caller wants the runner's own classification surfaced directly
// rather than the scheduler's pre-flight rejection taxonomy.
func errorTypeStatus(t board.ErrorType) int {
	switch t {
	case board.ErrTimeout:
		return http.StatusGatewayTimeout
	case board.ErrOverloaded:
		return http.StatusServiceUnavailable
	case board.ErrRateLimit:
		return http.StatusBadGateway
	case board.ErrNetwork:
		return http.StatusBadGateway
	case board.ErrAuthentication:
		return http.StatusUnauthorized
	case board.ErrBudget:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
