package runner

import (
	"strings"

	"github.com/basket/sprintd/internal/board"
)

// classifyPatterns maps a lowercased substring to the error type it
// indicates. Patterns are checked in order; the first match wins, so more
// specific phrases should sort before generic ones within the same type.
var classifyPatterns = []struct {
	substr string
	typ    board.ErrorType
}{
	{"context deadline exceeded", board.ErrTimeout},
	{"deadline exceeded", board.ErrTimeout},
	{"timed out", board.ErrTimeout},
	{"timeout", board.ErrTimeout},

	{"529", board.ErrOverloaded},
	{"overloaded", board.ErrOverloaded},
	{"server is busy", board.ErrOverloaded},
	{"rate limit exceeded due to load", board.ErrOverloaded},

	{"429", board.ErrRateLimit},
	{"rate limit", board.ErrRateLimit},
	{"too many requests", board.ErrRateLimit},
	{"quota exceeded", board.ErrRateLimit},

	{"connection refused", board.ErrNetwork},
	{"connection reset", board.ErrNetwork},
	{"no such host", board.ErrNetwork},
	{"eof", board.ErrNetwork},
	{"broken pipe", board.ErrNetwork},
	{"network is unreachable", board.ErrNetwork},

	{"401", board.ErrAuthentication},
	{"403", board.ErrAuthentication},
	{"unauthorized", board.ErrAuthentication},
	{"forbidden", board.ErrAuthentication},
	{"invalid api key", board.ErrAuthentication},
	{"invalid_api_key", board.ErrAuthentication},

	{"insufficient funds", board.ErrBudget},
	{"billing", board.ErrBudget},
	{"payment required", board.ErrBudget},
	{"budget exceeded", board.ErrBudget},
	{"max_budget_usd", board.ErrBudget},
}

// ClassifyError maps a raw error/stderr string onto the error taxonomy used
// throughout the board, the scheduler's retry decision and the HTTP edge.
// Matching is substring-based on the lowercased text, since the wire format
// of the underlying CLI/gateway error is not itself structured.
func ClassifyError(msg string) board.ErrorType {
	lower := strings.ToLower(msg)
	for _, p := range classifyPatterns {
		if strings.Contains(lower, p.substr) {
			return p.typ
		}
	}
	return board.ErrUnknown
}
