// Package eventbus fans dispatch events out to in-process consumers such as
// the MQTT bridge, the Prometheus collector and driver websocket streams.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber queue length. One optimization pass
// publishes an event per reservation change, so the queue is sized for a
// busy pass rather than a single event.
const DefaultBuffer = 64

// Event is any value published on the bus.
type Event = any

// EventBus is the publish/subscribe surface shared by producers and consumers.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Option customizes a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber queue length. Values below one are ignored.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// Bus delivers every event to every subscriber without blocking the
// publisher. A subscriber whose queue is full misses the event.
type Bus struct {
	buffer  int
	dropped atomic.Uint64

	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

func New(opts ...Option) *Bus {
	b := &Bus{buffer: DefaultBuffer}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Publish is a no-op once the bus is closed.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a new queue. On a closed bus the queue is already closed.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe detaches and closes sub. Unknown or already closed queues are
// ignored.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch != sub {
			continue
		}
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
		close(ch)
		return
	}
}

// Close closes every subscriber queue. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Dropped reports how many deliveries were skipped because a subscriber's
// queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }
