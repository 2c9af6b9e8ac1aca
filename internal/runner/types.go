// Package runner implements the agent runner: given an agent, a prompt and
// a model, it spawns the LLM CLI (directly, or via a local HTTP gateway),
// parses its streaming output, republishes it on the per-agent bus, and
// records the outcome to chat history and agent memory.
package runner

import (
	"time"

	"github.com/basket/sprintd/internal/board"
)

// Invocation is one request to run an agent against a prompt.
type Invocation struct {
	Agent          string
	Prompt         string
	Model          string
	Workdir        string
	SessionID      string // empty for a fresh conversation
	Tools          []string
	PermissionMode string
	MaxBudgetUSD   float64
	Timeout        time.Duration // agent_timeout; HTTP deadline is this + gatewayGrace
}

// Outcome is what an invocation produced, whether it finished, timed out or
// errored outright.
type Outcome struct {
	Success      bool
	PartialResult string
	CostUSD      float64
	DurationSec  float64
	NumTurns     int
	SessionID    string
	ErrorType    board.ErrorType
	ErrorMessage string
}

// ChatHistoryEntry is one append-only record of a terminated invocation.
type ChatHistoryEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Prompt      string          `json:"prompt"`
	Result      string          `json:"result"`
	Model       string          `json:"model"`
	CostUSD     float64         `json:"cost_usd"`
	DurationSec float64         `json:"duration_sec"`
	NumTurns    int             `json:"num_turns"`
	TaskID      string          `json:"task_id"`
	Success     bool            `json:"success"`
	ErrorType   board.ErrorType `json:"error_type,omitempty"`
}

// StreamEvent is the tagged union of everything the runner's streaming
// parser can recognize. Only the fields relevant to Type are populated.
type StreamEvent struct {
	Type string `json:"type"`

	// assistant / message text accumulation.
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`

	// tool_use / tool_result.
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolInput string `json:"tool_input,omitempty"`
	Content   string `json:"content,omitempty"`

	// result (final).
	Result    string  `json:"result,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
	NumTurns  int     `json:"num_turns,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
}

// streamEndSentinel is the event every per-agent stream terminates with,
// success or failure, so subscribers know to stop reading.
var streamEndSentinel = StreamEvent{Type: "stream_end"}
