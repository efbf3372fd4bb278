package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"supplyintel/internal/domain"
)

// Feed is a bounded channel view of the bus for consumers that may fall
// behind, such as a WebSocket client. When the buffer is full the oldest
// queued event is dropped. Delivery order is not guaranteed.
type Feed struct {
	ch      chan domain.Event
	unsub   func()
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// Feed subscribes a buffered feed. With no types it receives every event.
func (b *Bus) Feed(buffer int, types ...domain.EventType) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	f := &Feed{ch: make(chan domain.Event, buffer)}

	want := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	f.unsub = b.add(func(t domain.EventType) bool {
		return len(want) == 0 || want[t]
	}, f.push)
	return f
}

// C returns the receive side of the feed. It is closed by Close.
func (f *Feed) C() <-chan domain.Event { return f.ch }

// Dropped reports how many events were discarded because the buffer was full.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

func (f *Feed) push(_ context.Context, ev domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- ev:
		return
	default:
	}
	select {
	case <-f.ch:
		f.dropped.Add(1)
	default:
	}
	select {
	case f.ch <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Close unsubscribes the feed and closes its channel. It is idempotent.
func (f *Feed) Close() {
	f.unsub()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}
