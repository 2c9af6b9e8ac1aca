// Package bus implements the in-process, two-topic event fan-out the
// orchestrator is built around: a per-agent streaming bus that relays live
// LLM output to however many browser tabs are watching, and a single
// board-change broadcast topic that tells every connected UI "something
// moved, refetch". Both are in-process only — there is no cross-process or
// cross-host delivery.
package bus

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	defaultBufferSize = 100
	// defaultReplayCap bounds how many events of an agent's current or most
	// recently finished run are retained so a subscriber that attaches
	// after the run started still sees the whole thing.
	defaultReplayCap = 500
)

// TopicBoardChanged is the single broadcast topic for board (task/sprint)
// mutations. Payload is always a BoardChangedEvent.
const TopicBoardChanged = "board_changed"

// StreamTopicPrefix namespaces the per-agent streaming topics; the full
// topic for a given agent is StreamTopicPrefix + agent name.
const StreamTopicPrefix = "stream."

// BoardChangedEvent is published whenever the state model commits a
// mutation. ts is epoch seconds at publish time.
type BoardChangedEvent struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a simple in-process pub/sub message bus with topic prefix matching
// and a drop-oldest overflow policy: a slow subscriber never applies
// backpressure to the publisher, it just falls behind and loses old events.
type Bus struct {
	mu              sync.RWMutex
	subs            map[int]*Subscription
	nextID          int
	logger          *slog.Logger
	droppedEvents   atomic.Int64
	lastDropWarning atomic.Int64 // last threshold at which a warning was logged

	replayMu    sync.Mutex
	replay      map[string][]Event // agent name -> events of current/last run
	replayOpen  map[string]bool    // agent name -> a run is currently in progress
	replayCap   int
}

// New creates a new Bus.
func New() *Bus {
	return NewWithLogger(nil)
}

// NewWithLogger creates a new Bus with an optional logger for observability.
func NewWithLogger(logger *slog.Logger) *Bus {
	return &Bus{
		subs:      make(map[int]*Subscription),
		logger:    logger,
		replay:    make(map[string][]Event),
		replayOpen: make(map[string]bool),
		replayCap: defaultReplayCap,
	}
}

// Subscribe creates a subscription for events matching the given topic
// prefix. An empty prefix matches all topics.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// SubscribeAgentStream subscribes to one agent's stream topic and returns
// the replay buffer of that agent's current-or-last run alongside the live
// subscription, so the caller can present "replay then tail" to an SSE
// client without racing the run's own progress. known reports whether this
// agent has ever published a stream event (run in progress or finished); a
// false value means the caller is subscribing to an agent with no stream
// history at all, which the HTTP surface terminates immediately rather than
// tailing forever.
func (b *Bus) SubscribeAgentStream(agent string) (sub *Subscription, replay []Event, known bool) {
	sub = b.Subscribe(StreamTopicPrefix + agent)

	b.replayMu.Lock()
	defer b.replayMu.Unlock()
	buf := b.replay[agent]
	out := make([]Event, len(buf))
	copy(out, buf)
	known = len(buf) > 0 || b.replayOpen[agent]
	return sub, out, known
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers. Delivery never blocks
// the publisher: if a subscriber's buffer is full, the oldest buffered event
// for that subscriber is discarded to make room.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			b.deliver(sub, event, topic)
		}
	}
}

func (b *Bus) deliver(sub *Subscription, event Event, topic string) {
	for {
		select {
		case sub.ch <- event:
			return
		default:
		}
		select {
		case <-sub.ch:
			newCount := b.droppedEvents.Add(1)
			b.maybeLogDropWarning(newCount, topic)
		default:
			// Raced with a concurrent drain; loop back and try the send again.
		}
	}
}

// PublishStreamEvent publishes a single streamed event for agent and
// maintains the replay buffer: a fresh run (the first event after a prior
// run's stream_end, or the very first event ever for that agent) starts a
// new buffer; a "stream_end" sentinel closes the run without clearing the
// buffer, so late subscribers to a just-finished run still see it in full.
func (b *Bus) PublishStreamEvent(agent string, eventType string, payload interface{}) {
	b.replayMu.Lock()
	if !b.replayOpen[agent] {
		b.replay[agent] = b.replay[agent][:0]
		b.replayOpen[agent] = true
	}
	ev := Event{Topic: StreamTopicPrefix + agent, Payload: payload}
	buf := append(b.replay[agent], ev)
	if len(buf) > b.replayCap {
		buf = buf[len(buf)-b.replayCap:]
	}
	b.replay[agent] = buf
	if eventType == "stream_end" {
		b.replayOpen[agent] = false
	}
	b.replayMu.Unlock()

	b.Publish(StreamTopicPrefix+agent, payload)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DroppedEventCount returns the total number of events dropped due to full
// buffers.
func (b *Bus) DroppedEventCount() int64 {
	return b.droppedEvents.Load()
}

// dropThreshold returns the next exponential threshold (1, 10, 100, ...) at
// or below count.
func dropThreshold(count int64) int64 {
	threshold := int64(1)
	for threshold*10 <= count {
		threshold *= 10
	}
	return threshold
}

// maybeLogDropWarning logs a warning when the dropped-event count crosses an
// exponential threshold, so a sustained overflow doesn't spam the log at
// every single drop.
func (b *Bus) maybeLogDropWarning(newCount int64, topic string) {
	if b.logger == nil {
		return
	}
	threshold := dropThreshold(newCount)
	if newCount != threshold {
		return
	}
	lastWarned := b.lastDropWarning.Load()
	if threshold <= lastWarned {
		return
	}
	if b.lastDropWarning.CompareAndSwap(lastWarned, threshold) {
		b.logger.Warn("bus_dropped_events_reached_threshold",
			slog.Int64("count", newCount),
			slog.String("topic", topic),
		)
	}
}
