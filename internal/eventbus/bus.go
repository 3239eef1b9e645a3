// Package eventbus implements the topic-based fan-out bus of spec §4.8:
// backtest:<id>, live:<id>, and dashboard topics, non-blocking publish with
// drop-on-full subscriber semantics, a 30s heartbeat, and the dashboard
// superset rule (every live.state_change is also published to dashboard).
//
// Grounded on the teacher's internal/api Hub/Client register/unregister/
// broadcast channel trio (internal/api/stream.go), generalized from one
// fixed dashboard hub to a topic-keyed map of subscriber sets, and on
// original_source/engine/src/api/ws/manager.py's send_event dual-publish
// pattern for the dashboard superset rule.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DashboardTopic receives a superset of every live.state_change event.
const DashboardTopic = "dashboard"

const heartbeatInterval = 30 * time.Second

// Event is the envelope delivered to subscribers: {type, timestamp, payload}.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Sink is a write-only destination for one subscription. Implementations
// (e.g. a WebSocket client's outbound channel) must not block Publish.
type Sink chan Event

const sinkBuffer = 64

// Bus is the process-wide event fan-out bus.
type Bus struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> subscriber set
}

// New constructs a Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a new sink on a topic and returns it along with an
// unsubscribe function.
func (b *Bus) Subscribe(topic string) (Sink, func()) {
	ch := make(chan Event, sinkBuffer)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan Event]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs[topic], ch)
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers an event to every current subscriber of topic. A sink
// that cannot accept immediately is dropped from the topic's subscriber
// set; Publish never blocks on a slow subscriber.
func (b *Bus) Publish(topic string, eventType string, payload any) {
	b.publish(topic, Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload})

	// Dashboard superset rule: every live.state_change also lands on the
	// dashboard topic.
	if eventType == "live.state_change" && topic != DashboardTopic {
		b.publish(DashboardTopic, Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload})
	}
}

func (b *Bus) publish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
			delete(b.subs[topic], ch)
			close(ch)
			b.logger.Warn("dropping slow subscriber", "topic", topic)
		}
	}
}

// RunHeartbeat broadcasts {type: ping} to every known topic every 30s until
// ctx is cancelled. Subscribers may respond with a pong, which the bus
// discards — it is a liveness signal only, for load balancers.
func (b *Bus) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			topics := make([]string, 0, len(b.subs))
			for t := range b.subs {
				topics = append(topics, t)
			}
			b.mu.Unlock()

			for _, t := range topics {
				b.publish(t, Event{Type: "ping", Timestamp: time.Now().UTC()})
			}
		}
	}
}

// Pong is a no-op acknowledging a client pong; kept as an explicit method so
// callers have one obvious place to route {type: "pong"} client messages.
func (b *Bus) Pong(string) {}

// SubscriberCount reports how many live subscribers a topic currently has
// (test/diagnostic helper).
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}
