package runner

import "testing"

func TestParser_AssistantText(t *testing.T) {
	p := NewParser()
	events, ok := p.Feed([]byte(`{"type":"assistant","text":"hello"}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if len(events) != 1 || events[0].Type != "assistant" || events[0].Text != "hello" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParser_IgnoredFrameTypesDropSilently(t *testing.T) {
	p := NewParser()
	for _, typ := range []string{"system", "user", "message_start", "message_delta", "message_stop"} {
		events, ok := p.Feed([]byte(`{"type":"` + typ + `"}`))
		if !ok {
			t.Fatalf("expected %q to be recognized (ok) but ignored", typ)
		}
		if len(events) != 0 {
			t.Fatalf("expected no events for %q, got %+v", typ, events)
		}
	}
}

func TestParser_UnknownFrameTypeNotOK(t *testing.T) {
	p := NewParser()
	_, ok := p.Feed([]byte(`{"type":"something_weird"}`))
	if ok {
		t.Fatal("expected unknown frame type to report not ok")
	}
}

func TestParser_UnwrapsStreamEventWrapper(t *testing.T) {
	p := NewParser()
	events, ok := p.Feed([]byte(`{"type":"stream_event","event":{"type":"assistant","text":"wrapped"}}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if len(events) != 1 || events[0].Text != "wrapped" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestParser_TextDeltaAccumulatesUntilBlockStop(t *testing.T) {
	p := NewParser()

	if _, ok := p.Feed([]byte(`{"type":"content_block_start","message_id":"m1","content_block":{"type":"text"}}`)); !ok {
		t.Fatal("expected ok")
	}
	if _, ok := p.Feed([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}`)); !ok {
		t.Fatal("expected ok")
	}
	if _, ok := p.Feed([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`)); !ok {
		t.Fatal("expected ok")
	}
	events, ok := p.Feed([]byte(`{"type":"content_block_stop"}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if len(events) != 1 || events[0].Text != "hello" {
		t.Fatalf("expected accumulated text 'hello', got %+v", events)
	}
}

func TestParser_ToolUseInputJSONDeltaAccumulates(t *testing.T) {
	p := NewParser()

	p.Feed([]byte(`{"type":"content_block_start","content_block":{"type":"tool_use","id":"t1","name":"search"}}`))
	p.Feed([]byte(`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`))
	p.Feed([]byte(`{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"\"foo\"}"}}`))
	events, ok := p.Feed([]byte(`{"type":"content_block_stop"}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if len(events) != 1 || events[0].Type != "tool_use" {
		t.Fatalf("expected a tool_use event, got %+v", events)
	}
	if events[0].ToolUseID != "t1" || events[0].ToolName != "search" {
		t.Fatalf("unexpected tool descriptor: %+v", events[0])
	}
	if events[0].ToolInput != `{"q":"foo"}` {
		t.Fatalf("expected accumulated input json, got %q", events[0].ToolInput)
	}
}

func TestParser_ResultFrame(t *testing.T) {
	p := NewParser()
	events, ok := p.Feed([]byte(`{"type":"result","result":"done","cost_usd":0.5,"num_turns":3,"session_id":"sess-1"}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != "result" || ev.Result != "done" || ev.CostUSD != 0.5 || ev.NumTurns != 3 || ev.SessionID != "sess-1" {
		t.Fatalf("unexpected result event: %+v", ev)
	}
}

func TestParser_ToolResultFrame(t *testing.T) {
	p := NewParser()
	events, ok := p.Feed([]byte(`{"type":"tool_result","tool_use_id":"t1","content":"42"}`))
	if !ok {
		t.Fatal("expected ok")
	}
	if len(events) != 1 || events[0].ToolUseID != "t1" || events[0].Content != "42" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
