package events

import (
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

const defaultBufferSize = 100

type subscription struct {
	ch    chan Event
	types map[EventType]struct{} // empty means every type
}

func (s *subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans worker events out to subscribers without ever blocking a publisher.
// A subscriber whose buffer is full misses the event; misses are counted in Dropped.
type Bus struct {
	mu         sync.RWMutex
	subs       map[<-chan Event]*subscription
	bufferSize int
	closed     bool
	dropped    atomic.Uint64
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[<-chan Event]*subscription),
		bufferSize: defaultBufferSize,
	}
}

// Subscribe returns a channel receiving the given event types, or every type
// when none are given. After Close the returned channel is already closed.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	sub := &subscription{
		ch:    make(chan Event, b.bufferSize),
		types: lo.SliceToMap(types, func(t EventType) (EventType, struct{}) { return t, struct{}{} }),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subs[sub.ch] = sub
	return sub.ch
}

// Unsubscribe closes ch and stops delivering to it. Unknown channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(sub.ch)
	}
}

// Publish delivers event to every interested subscriber with buffer room and
// returns how many received it.
func (b *Bus) Publish(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Dropped returns the number of deliveries lost to full subscriber buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, ch)
	}
}
