// Package events provides a pub/sub event bus for engine lifecycle events.
// Dashboards and reporting subscribe here; the engine core publishes typed
// results instead of holding listener registrations itself.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType classifies engine lifecycle events.
type EventType string

const (
	AlertCreated      EventType = "alert.created"
	AlertAcknowledged EventType = "alert.acknowledged"
	AlertResolved     EventType = "alert.resolved"
	AlertSuppressed   EventType = "alert.suppressed"
	RuleAdded         EventType = "rule.added"
	RuleUpdated       EventType = "rule.updated"
	RuleRemoved       EventType = "rule.removed"
	CorrelationFound  EventType = "correlation.detected"
	ChannelAdded      EventType = "channel.added"
	ChannelRemoved    EventType = "channel.removed"
	EngineStarted     EventType = "engine.started"
	EngineStopped     EventType = "engine.stopped"
)

// Event represents one engine event.
type Event struct {
	Type      EventType   `json:"type"`
	AlertID   string      `json:"alert_id,omitempty"`
	Summary   string      `json:"summary"`
	Detail    interface{} `json:"detail,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// JSON returns the event as a JSON byte slice.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// Bus is a simple pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	bufferSize  int
}

// NewBus creates an event bus.
func NewBus(bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		bufferSize:  bufferSize,
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: drops events for slow subscribers.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Drop for slow subscribers rather than blocking the publisher.
		}
	}
}

// Subscribe returns a channel of events. Call Unsubscribe with the returned id when done.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
