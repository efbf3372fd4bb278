// Package eventbus is the in-process pub/sub that carries coordinator,
// agent, and provider lifecycle events to observers such as the WebSocket
// feed and the watch scheduler.
package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"supplyintel/internal/domain"
)

type subscription struct {
	id      uint64
	match   func(domain.EventType) bool
	handler domain.EventHandler
}

var _ domain.EventBus = (*Bus)(nil)

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger.With("component", "eventbus")}
}

// Publish fans out an event to every matching subscriber, each in its own
// goroutine. Handlers outlive the publishing request, so they receive a
// context that keeps ctx's values but not its cancellation.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.match(event.Type) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	hctx := context.WithoutCancel(ctx)
	for _, sub := range matched {
		b.dispatch(hctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"correlation_id", event.CorrelationID,
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(func(t domain.EventType) bool { return t == eventType }, handler)
}

// SubscribePrefix registers a handler for every type starting with prefix,
// such as "agent." for both completions and failures.
func (b *Bus) SubscribePrefix(prefix string, handler domain.EventHandler) func() {
	return b.add(func(t domain.EventType) bool { return strings.HasPrefix(string(t), prefix) }, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add(func(domain.EventType) bool { return true }, handler)
}

// add registers a subscription and returns its idempotent unsubscribe func.
func (b *Bus) add(match func(domain.EventType) bool, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, match: match, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Subscribers returns the current subscription count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close prevents new publishes and waits for in-flight handlers to finish.
// It is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}
