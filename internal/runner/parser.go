package runner

import (
	"strings"

	"github.com/buger/jsonparser"
)

// ignoredFrameTypes are internal bookkeeping frames the wire protocol emits
// that never need to surface as stream content.
var ignoredFrameTypes = map[string]bool{
	"system":        true,
	"user":          true,
	"message_start": true,
	"message_delta": true,
	"message_stop":  true,
}

// Parser is the streaming-JSON state machine described by the runner's
// design notes: a small amount of state (the current accumulating text
// node's message id, and an optional pending tool-use descriptor collecting
// its input_json fragments) folds the large event taxonomy into a single
// tagged-union switch. One Parser is used for the lifetime of a single
// invocation; it is not safe for concurrent use.
type Parser struct {
	currentMsgID   string
	currentText    strings.Builder
	havePending    bool
	pendingToolID  string
	pendingToolName string
	pendingInput   strings.Builder
	pendingIsTool  bool
}

// NewParser returns a ready-to-use Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed parses one newline-delimited `data: <json>` frame (already stripped
// of the "data: " prefix) and returns zero or more StreamEvents derived from
// it. Unknown frame types are dropped (ok=false) rather than surfaced.
func (p *Parser) Feed(raw []byte) (events []StreamEvent, ok bool) {
	raw = unwrapStreamEvent(raw)

	typ, err := jsonparser.GetString(raw, "type")
	if err != nil {
		return nil, false
	}

	if ignoredFrameTypes[typ] {
		return nil, true
	}

	switch typ {
	case "assistant":
		return p.handleText(raw), true

	case "content_block_start":
		return p.handleBlockStart(raw), true

	case "content_block_delta", "delta":
		return p.handleDelta(raw), true

	case "content_block_stop":
		return p.flush(), true

	case "tool_use":
		return []StreamEvent{{
			Type:      "tool_use",
			ToolUseID: getString(raw, "id", "tool_use_id"),
			ToolName:  getString(raw, "name", "tool_name"),
			ToolInput: getRaw(raw, "input"),
		}}, true

	case "tool_result":
		return []StreamEvent{{
			Type:      "tool_result",
			ToolUseID: getString(raw, "tool_use_id", "id"),
			Content:   getString(raw, "content", "text"),
		}}, true

	case "message":
		return []StreamEvent{{
			Type: "message",
			Text: getString(raw, "content", "text"),
		}}, true

	case "result":
		return []StreamEvent{{
			Type:      "result",
			Result:    getString(raw, "result", "text"),
			CostUSD:   getFloat(raw, "cost_usd"),
			NumTurns:  int(getFloat(raw, "num_turns")),
			SessionID: getString(raw, "session_id"),
		}}, true

	default:
		return nil, false
	}
}

// handleText deals with a complete (non-delta) assistant text frame.
func (p *Parser) handleText(raw []byte) []StreamEvent {
	text := getString(raw, "text")
	if text == "" {
		return nil
	}
	return []StreamEvent{{Type: "assistant", Text: text}}
}

// handleBlockStart begins tracking either a text node or a tool-use
// descriptor, keyed by the block's message id if present.
func (p *Parser) handleBlockStart(raw []byte) []StreamEvent {
	var out []StreamEvent
	msgID := getString(raw, "message_id")
	if msgID != "" && msgID != p.currentMsgID {
		out = append(out, p.flush()...)
		p.currentMsgID = msgID
	}

	blockType := getString(raw, "content_block.type", "block_type")
	if blockType == "tool_use" {
		p.pendingIsTool = true
		p.havePending = true
		p.pendingToolID = getString(raw, "content_block.id", "tool_use_id")
		p.pendingToolName = getString(raw, "content_block.name", "tool_name")
		p.pendingInput.Reset()
	}
	return out
}

// handleDelta accumulates either plain text or a fragment of a tool's
// input_json, depending on what is currently pending.
func (p *Parser) handleDelta(raw []byte) []StreamEvent {
	deltaType := getString(raw, "delta.type")
	switch deltaType {
	case "input_json_delta":
		p.havePending = true
		p.pendingIsTool = true
		p.pendingInput.WriteString(getString(raw, "delta.partial_json"))
		return nil
	default:
		text := getString(raw, "delta.text", "text")
		if text == "" {
			return nil
		}
		p.havePending = true
		p.currentText.WriteString(text)
		return nil
	}
}

// flush emits whatever is currently accumulating (a text node or a tool-use
// descriptor) as a single StreamEvent and resets the accumulator.
func (p *Parser) flush() []StreamEvent {
	if !p.havePending {
		return nil
	}
	defer p.reset()

	if p.pendingIsTool {
		return []StreamEvent{{
			Type:      "tool_use",
			ToolUseID: p.pendingToolID,
			ToolName:  p.pendingToolName,
			ToolInput: p.pendingInput.String(),
		}}
	}
	text := p.currentText.String()
	if text == "" {
		return nil
	}
	return []StreamEvent{{Type: "assistant", MessageID: p.currentMsgID, Text: text}}
}

func (p *Parser) reset() {
	p.havePending = false
	p.pendingIsTool = false
	p.pendingToolID = ""
	p.pendingToolName = ""
	p.pendingInput.Reset()
	p.currentText.Reset()
}

// unwrapStreamEvent peels off a {"type":"stream_event","event":{...}}
// wrapper, returning the inner frame unmodified if there is no wrapper.
func unwrapStreamEvent(raw []byte) []byte {
	typ, err := jsonparser.GetString(raw, "type")
	if err != nil || typ != "stream_event" {
		return raw
	}
	inner, _, _, err := jsonparser.Get(raw, "event")
	if err != nil {
		return raw
	}
	return inner
}

// getString tries each dotted path in order (jsonparser paths are
// slash-free; dots separate nesting) and returns the first that resolves to
// a non-empty string.
func getString(raw []byte, paths ...string) string {
	for _, p := range paths {
		parts := strings.Split(p, ".")
		if v, err := jsonparser.GetString(raw, parts...); err == nil && v != "" {
			return v
		}
	}
	return ""
}

func getFloat(raw []byte, path string) float64 {
	parts := strings.Split(path, ".")
	v, err := jsonparser.GetFloat(raw, parts...)
	if err != nil {
		return 0
	}
	return v
}

// getRaw returns the raw (still-encoded) JSON value at path, e.g. to pass a
// tool's input object through without re-encoding it.
func getRaw(raw []byte, path string) string {
	parts := strings.Split(path, ".")
	v, _, _, err := jsonparser.Get(raw, parts...)
	if err != nil {
		return ""
	}
	return string(v)
}
