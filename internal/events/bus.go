// Package events fans firewall events out to live subscribers (SSE and
// WebSocket). Publishing never blocks; slow subscribers drop events.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the firewall.
const (
	TypeThreatDetected = "threat-detected"
	TypeRequestBlocked = "request-blocked"
	TypeError          = "error"
)

// Event is one firewall occurrence pushed to subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Action    string    `json:"action,omitempty"`
	Message   string    `json:"message,omitempty"`
	Threats   any       `json:"threats,omitempty"`
}

// JSON returns the marshalled event, or a minimal error payload when the
// event itself cannot be marshalled.
func (e Event) JSON() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"type":"error","message":"event marshal failed"}`)
	}
	return b
}

// Bus is the fan-out hub. One instance serves all subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	logger      *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called when the subscriber disconnects; it closes the channel.
func (b *Bus) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber. Full subscriber channels drop
// the event with a warning rather than block the firewall path.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("events: dropped event for slow subscriber", "type", ev.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
