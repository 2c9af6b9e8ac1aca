package runner

import (
	"context"
	"log/slog"

	"github.com/basket/sprintd/internal/board"
	"github.com/basket/sprintd/internal/bus"
)

// gatewayInvoker and alternateInvoker let Runner be tested without a real
// HTTP gateway or CLI binary behind it.
type gatewayInvoker interface {
	Invoke(ctx context.Context, inv Invocation, on func(StreamEvent)) Outcome
}

// Runner dispatches an invocation to the gateway or alternate path per the
// employee's configured model, republishing every parsed StreamEvent on the
// bus under the agent's stream topic and recording the terminal outcome to
// chat history and memory.
type Runner struct {
	Gateway   gatewayInvoker
	Alternate gatewayInvoker

	Bus     *bus.Bus
	History *ChatHistory
	Memory  *Memory
	Logger  *slog.Logger
}

// Run executes inv against the path implied by emp, streaming every event
// it produces onto the bus's per-agent topic, and returns once the
// invocation has reached a terminal state (success, error or timeout).
func (r *Runner) Run(ctx context.Context, emp board.Employee, inv Invocation, taskID string) Outcome {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	postscript := ""
	if r.Memory != nil {
		postscript = r.Memory.LoadPostscript(inv.Agent)
	}
	if postscript != "" {
		inv.Prompt = inv.Prompt + "\n\n" + postscript
	}

	on := func(ev StreamEvent) {
		if r.Bus == nil {
			return
		}
		r.Bus.PublishStreamEvent(inv.Agent, ev.Type, ev)
	}

	invoker := r.Alternate
	if emp.UsesGateway() {
		invoker = r.Gateway
	}

	outcome := invoker.Invoke(ctx, inv, on)

	if r.Bus != nil {
		r.Bus.PublishStreamEvent(inv.Agent, streamEndSentinel.Type, streamEndSentinel)
	}

	if r.History != nil {
		entry := ChatHistoryEntry{
			Prompt:      inv.Prompt,
			Result:      outcomeText(outcome),
			Model:       inv.Model,
			CostUSD:     outcome.CostUSD,
			DurationSec: outcome.DurationSec,
			NumTurns:    outcome.NumTurns,
			TaskID:      taskID,
			Success:     outcome.Success,
			ErrorType:   outcome.ErrorType,
		}
		if err := r.History.Append(inv.Agent, entry); err != nil {
			logger.Warn("chat history append failed", "agent", inv.Agent, "error", err)
		}
	}

	if r.Memory != nil {
		if err := r.Memory.Record(inv.Agent, outcome, inv); err != nil {
			logger.Warn("memory record failed", "agent", inv.Agent, "error", err)
		}
	}

	return outcome
}

func outcomeText(o Outcome) string {
	if o.Success {
		return o.PartialResult
	}
	if o.PartialResult != "" {
		return o.PartialResult
	}
	return o.ErrorMessage
}
