package runner

import (
	"testing"

	"github.com/basket/sprintd/internal/board"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		msg  string
		want board.ErrorType
	}{
		{"context deadline exceeded", board.ErrTimeout},
		{"request timed out after 60s", board.ErrTimeout},
		{"Error: 529 Overloaded, server is busy", board.ErrOverloaded},
		{"429 Too Many Requests: rate limit exceeded", board.ErrRateLimit},
		{"rate limit exceeded due to load", board.ErrOverloaded},
		{"dial tcp: connection refused", board.ErrNetwork},
		{"unexpected EOF", board.ErrNetwork},
		{"401 Unauthorized: invalid api key", board.ErrAuthentication},
		{"403 Forbidden", board.ErrAuthentication},
		{"insufficient funds on account", board.ErrBudget},
		{"max_budget_usd exceeded for employee", board.ErrBudget},
		{"some completely novel failure text", board.ErrUnknown},
	}
	for _, c := range cases {
		got := ClassifyError(c.msg)
		if got != c.want {
			t.Errorf("ClassifyError(%q) = %q, want %q", c.msg, got, c.want)
		}
	}
}

func TestClassifyError_Retryable(t *testing.T) {
	retryable := []board.ErrorType{board.ErrTimeout, board.ErrOverloaded, board.ErrRateLimit, board.ErrNetwork}
	for _, e := range retryable {
		if !e.Retryable() {
			t.Errorf("expected %q to be retryable", e)
		}
	}
	notRetryable := []board.ErrorType{board.ErrAuthentication, board.ErrBudget, board.ErrUnknown}
	for _, e := range notRetryable {
		if e.Retryable() {
			t.Errorf("expected %q to not be retryable", e)
		}
	}
}
