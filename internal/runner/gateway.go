package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/basket/sprintd/internal/board"
)

// gatewayGrace is added to the invocation's agent_timeout to build the HTTP
// deadline, so the gateway itself has a chance to return a graceful timeout
// frame before the transport cancels the request out from under it.
const gatewayGrace = 60 * time.Second

// drainGrace is how much longer Invoke keeps reading the response body,
// once ctx has already been cancelled by the caller's agent_timeout, in
// order to recover a partial result and session id before giving up.
const drainGrace = 30 * time.Second

// GatewayRunner invokes the LLM through a local HTTP gateway process (e.g.
// a sidecar translating to the provider's own streaming API), for employees
// whose configured model is gateway-served.
type GatewayRunner struct {
	BaseURL string
	Client  *http.Client
}

type gatewayRequest struct {
	Name           string   `json:"name"`
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model"`
	Workdir        string   `json:"workdir,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	PermissionMode string   `json:"permission_mode,omitempty"`
}

// Invoke POSTs the invocation to the gateway's /run endpoint and folds its
// newline-delimited `data: <json>` response stream into StreamEvents, calling
// on for each one as it arrives. If the caller's agent_timeout fires first,
// Invoke keeps draining the response for up to drainGrace looking for a
// session id to resume from, then returns a timeout Outcome without losing
// that session.
func (r *GatewayRunner) Invoke(ctx context.Context, inv Invocation, on func(StreamEvent)) Outcome {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	deadline := inv.Timeout + gatewayGrace
	httpCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	body, err := json.Marshal(gatewayRequest{
		Name:           inv.Agent,
		Prompt:         inv.Prompt,
		Model:          inv.Model,
		Workdir:        inv.Workdir,
		SessionID:      inv.SessionID,
		Tools:          inv.Tools,
		PermissionMode: inv.PermissionMode,
	})
	if err != nil {
		return Outcome{Success: false, ErrorType: board.ErrUnknown, ErrorMessage: err.Error(), SessionID: inv.SessionID}
	}

	req, err := http.NewRequestWithContext(httpCtx, http.MethodPost, strings.TrimSuffix(r.BaseURL, "/")+"/run", bytes.NewReader(body))
	if err != nil {
		return Outcome{Success: false, ErrorType: board.ErrUnknown, ErrorMessage: err.Error(), SessionID: inv.SessionID}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		msg := err.Error()
		return Outcome{Success: false, ErrorType: ClassifyError(msg), ErrorMessage: msg, SessionID: inv.SessionID}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("gateway returned %d", resp.StatusCode)
		return Outcome{Success: false, ErrorType: ClassifyError(msg), ErrorMessage: msg, SessionID: inv.SessionID}
	}

	parser := NewParser()
	var lastSessionID string
	var partial strings.Builder
	var finalOutcome *Outcome

	agentTimeout := time.NewTimer(inv.Timeout)
	defer agentTimeout.Stop()

	frames := make(chan []byte)
	scanErr := make(chan error, 1)
	go scanSSE(resp.Body, frames, scanErr)

	for finalOutcome == nil {
		select {
		case <-agentTimeout.C:
			return r.drainForSession(resp.Body, frames, scanErr, inv, lastSessionID, partial.String())

		case frame, ok := <-frames:
			if !ok {
				err := <-scanErr
				if err != nil && err != io.EOF {
					return Outcome{Success: false, ErrorType: ClassifyError(err.Error()), ErrorMessage: err.Error(), SessionID: lastSessionID, PartialResult: partial.String()}
				}
				return Outcome{Success: false, ErrorType: board.ErrUnknown, ErrorMessage: "gateway closed stream without a result frame", SessionID: lastSessionID, PartialResult: partial.String()}
			}
			events, ok := parser.Feed(frame)
			if !ok {
				continue
			}
			for _, ev := range events {
				if on != nil {
					on(ev)
				}
				switch ev.Type {
				case "assistant", "message":
					partial.WriteString(ev.Text)
				case "result":
					if ev.SessionID != "" {
						lastSessionID = ev.SessionID
					}
					finalOutcome = &Outcome{
						Success:     true,
						PartialResult: ev.Result,
						CostUSD:     ev.CostUSD,
						NumTurns:    ev.NumTurns,
						SessionID:   lastSessionID,
					}
				}
			}
		}
	}
	return *finalOutcome
}

// drainForSession keeps reading frames for up to drainGrace after the
// caller's agent_timeout has elapsed, purely to recover a session id the
// gateway may emit shortly after — the saved session must survive a timeout
// so the next attempt can resume instead of starting over.
func (r *GatewayRunner) drainForSession(body io.Reader, frames <-chan []byte, scanErr <-chan error, inv Invocation, sessionID, partial string) Outcome {
	deadline := time.NewTimer(drainGrace)
	defer deadline.Stop()

	for {
		select {
		case <-deadline.C:
			return timeoutOutcome(inv, sessionID, partial)
		case frame, ok := <-frames:
			if !ok {
				return timeoutOutcome(inv, sessionID, partial)
			}
			parser := NewParser()
			events, ok := parser.Feed(frame)
			if !ok {
				continue
			}
			for _, ev := range events {
				if ev.Type == "result" && ev.SessionID != "" {
					sessionID = ev.SessionID
				}
				if ev.Type == "assistant" || ev.Type == "message" {
					partial += ev.Text
				}
			}
		}
	}
}

func timeoutOutcome(inv Invocation, sessionID, partial string) Outcome {
	return Outcome{
		Success:      false,
		PartialResult: partial,
		SessionID:    sessionID,
		ErrorType:    board.ErrTimeout,
		ErrorMessage: "agent timed out",
	}
}

// scanSSE reads "data: <json>" lines off r, stripping the prefix and
// forwarding the JSON payload on frames. Blank lines and comment (": ...")
// keep-alive lines are dropped silently.
func scanSSE(r io.Reader, frames chan<- []byte, errc chan<- error) {
	defer close(frames)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := []byte(strings.TrimPrefix(line, "data: "))
		frames <- payload
	}
	errc <- scanner.Err()
}
