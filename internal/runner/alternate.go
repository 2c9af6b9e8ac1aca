package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/basket/sprintd/internal/board"
)

// AlternateRunner invokes the LLM through a local CLI binary directly
// (os/exec), for employees whose configured model is not gateway-served.
// Unlike the gateway path its stdout is a single JSON document emitted once
// the CLI exits, not a stream of frames, so it is folded into a single
// synthetic StreamEvent rather than parsed incrementally.
type AlternateRunner struct {
	// Binary is the CLI executable name or path, e.g. "codex".
	Binary string
	// ExtraArgs is appended after the fixed flags, e.g. ["--dangerously-skip-permissions"].
	ExtraArgs []string
}

// alternateResult is the shape of the CLI's single terminal JSON document.
type alternateResult struct {
	Result    string  `json:"result"`
	CostUSD   float64 `json:"cost_usd"`
	NumTurns  int     `json:"num_turns"`
	SessionID string  `json:"session_id"`
	IsError   bool    `json:"is_error"`
	Error     string  `json:"error"`
}

// Invoke runs the CLI to completion or until ctx is done. on is called with
// a single synthetic StreamEvent once the process exits (the alternate path
// has no incremental output to relay).
func (r *AlternateRunner) Invoke(ctx context.Context, inv Invocation, on func(StreamEvent)) Outcome {
	args := []string{"--output-format", "json", "--model", inv.Model}
	if inv.SessionID != "" {
		args = append(args, "--resume", inv.SessionID)
	}
	if inv.PermissionMode != "" {
		args = append(args, "--permission-mode", inv.PermissionMode)
	}
	args = append(args, r.ExtraArgs...)
	args = append(args, "--prompt", inv.Prompt)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	if inv.Workdir != "" {
		cmd.Dir = inv.Workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return Outcome{
			Success:      false,
			PartialResult: lastNonEmptyLine(stdout.String()),
			SessionID:    inv.SessionID,
			ErrorType:    board.ErrTimeout,
			ErrorMessage: "agent timed out",
		}
	}

	if runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return Outcome{
			Success:      false,
			ErrorType:    ClassifyError(msg),
			ErrorMessage: msg,
			SessionID:    inv.SessionID,
		}
	}

	var res alternateResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &res); err != nil {
		return Outcome{
			Success:      false,
			ErrorType:    board.ErrUnknown,
			ErrorMessage: fmt.Sprintf("unparsable CLI output: %v", err),
			SessionID:    inv.SessionID,
		}
	}

	if on != nil {
		on(StreamEvent{
			Type:      "result",
			Result:    res.Result,
			CostUSD:   res.CostUSD,
			NumTurns:  res.NumTurns,
			SessionID: res.SessionID,
		})
	}

	if res.IsError {
		return Outcome{
			Success:      false,
			ErrorType:    ClassifyError(res.Error),
			ErrorMessage: res.Error,
			SessionID:    res.SessionID,
			CostUSD:      res.CostUSD,
			NumTurns:     res.NumTurns,
		}
	}

	return Outcome{
		Success:     true,
		CostUSD:     res.CostUSD,
		NumTurns:    res.NumTurns,
		SessionID:   res.SessionID,
		PartialResult: res.Result,
	}
}

// lastNonEmptyLine recovers a best-effort partial result from stdout
// accumulated before a timeout killed the process.
func lastNonEmptyLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	var last string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}
