package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventCoordinatorRouted      EventType = "coordinator.routed"
	EventCoordinatorSynthesized EventType = "coordinator.synthesized"
	EventCoordinatorCompleted   EventType = "coordinator.completed"
	EventAgentCompleted         EventType = "agent.completed"
	EventAgentFailed            EventType = "agent.failed"
	EventProviderDegraded       EventType = "provider.degraded"
	EventBreakerStateChanged    EventType = "breaker.state_changed"
	EventWatchFired             EventType = "watch.fired"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type          EventType       `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event stamped with the current time.
// A payload that fails to marshal is dropped rather than failing the publisher.
func NewEvent(t EventType, correlationID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), CorrelationID: correlationID}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			ev.Payload = b
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
