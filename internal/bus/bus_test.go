package bus

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicBoardChanged)
	defer b.Unsubscribe(sub)

	b.Publish(TopicBoardChanged, BoardChangedEvent{Type: TopicBoardChanged, TS: 1})

	select {
	case event := <-sub.Ch():
		if event.Topic != TopicBoardChanged {
			t.Fatalf("topic = %q, want %q", event.Topic, TopicBoardChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()

	streamSub := b.Subscribe(StreamTopicPrefix)
	defer b.Unsubscribe(streamSub)
	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.Publish(StreamTopicPrefix+"dev", "chunk")
	b.Publish(TopicBoardChanged, BoardChangedEvent{Type: TopicBoardChanged, TS: 2})

	select {
	case event := <-streamSub.Ch():
		if event.Topic != StreamTopicPrefix+"dev" {
			t.Fatalf("topic = %q, want stream.dev", event.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stream event")
	}

	select {
	case event := <-streamSub.Ch():
		t.Fatalf("unexpected second event on streamSub: %v", event)
	case <-time.After(50 * time.Millisecond):
	}

	received := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Ch():
			received++
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for all event")
		}
	}
	if received != 2 {
		t.Fatalf("allSub received %d events, want 2", received)
	}
}

func TestBus_DropsOldestNotNewest(t *testing.T) {
	b := New()
	sub := b.Subscribe("test")
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish("test.event", i)
	}

	// The buffer should contain the most recent defaultBufferSize events:
	// 10..defaultBufferSize+9. First value read must be 10, not 0.
	select {
	case ev := <-sub.Ch():
		if ev.Payload != 10 {
			t.Fatalf("expected oldest-dropped policy to keep newest events, first = %v, want 10", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}

	count := 1
	for {
		select {
		case <-sub.Ch():
			count++
		default:
			goto done
		}
	}
done:
	if count != defaultBufferSize {
		t.Fatalf("received %d events, expected %d (buffer size)", count, defaultBufferSize)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("test")

	if b.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", b.SubscriberCount())
	}
	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", b.SubscriberCount())
	}
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	const goroutines = 10
	const perGoroutine = 5
	total := goroutines * perGoroutine

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				b.Publish("concurrent", id*100+i)
			}
		}(g)
	}
	wg.Wait()

	received := 0
	for {
		select {
		case <-sub.Ch():
			received++
		default:
			goto done2
		}
	}
done2:
	if received != total {
		t.Fatalf("received %d events, want %d", received, total)
	}
}

func TestBus_DroppedEventLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	b := NewWithLogger(logger)
	sub := b.Subscribe("test")
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize; i++ {
		b.Publish("test.event", i)
	}
	for i := 0; i < 10; i++ {
		b.Publish("test.event", "drop")
	}

	logOutput := buf.String()
	if !bytes.Contains([]byte(logOutput), []byte("bus_dropped_events_reached_threshold")) {
		t.Fatalf("expected threshold warning in log output, got: %s", logOutput)
	}
	if b.DroppedEventCount() != 10 {
		t.Fatalf("dropped count = %d, want 10", b.DroppedEventCount())
	}
}

func TestBus_DropThreshold(t *testing.T) {
	tests := []struct{ count, expected int64 }{
		{1, 1}, {5, 1}, {10, 10}, {99, 10}, {100, 100}, {999, 100}, {1000, 1000}, {5000, 1000},
	}
	for _, tt := range tests {
		if got := dropThreshold(tt.count); got != tt.expected {
			t.Errorf("dropThreshold(%d) = %d, want %d", tt.count, got, tt.expected)
		}
	}
}

func TestSubscribeAgentStream_ReplaysCurrentRun(t *testing.T) {
	b := New()

	b.PublishStreamEvent("dev", "assistant", map[string]string{"text": "hello"})
	b.PublishStreamEvent("dev", "assistant", map[string]string{"text": "world"})

	sub, replay, known := b.SubscribeAgentStream("dev")
	defer b.Unsubscribe(sub)

	if len(replay) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(replay))
	}
	if !known {
		t.Fatal("expected an agent with replay history to be known")
	}
}

func TestSubscribeAgentStream_NewRunResetsBuffer(t *testing.T) {
	b := New()

	b.PublishStreamEvent("dev", "assistant", "run1-a")
	b.PublishStreamEvent("dev", "stream_end", map[string]string{"type": "stream_end"})

	b.PublishStreamEvent("dev", "assistant", "run2-a")

	_, replay, known := b.SubscribeAgentStream("dev")
	if len(replay) != 1 {
		t.Fatalf("expected replay buffer reset to the new run, got %d events", len(replay))
	}
	if replay[0].Payload != "run2-a" {
		t.Fatalf("expected run2-a, got %v", replay[0].Payload)
	}
	if !known {
		t.Fatal("expected a finished run to still be known")
	}
}

func TestSubscribeAgentStream_UnknownAgentEmptyReplay(t *testing.T) {
	b := New()
	sub, replay, known := b.SubscribeAgentStream("nobody")
	defer b.Unsubscribe(sub)
	if len(replay) != 0 {
		t.Fatalf("expected empty replay for unknown agent, got %d", len(replay))
	}
	if known {
		t.Fatal("expected an agent with no stream history to be unknown")
	}
}
