package events

import (
	"sync"
	"time"

	"rag-engine/internal/models"
)

// StatusEvent is published after every successful status write. Subscribers
// receive the merged record as persisted.
type StatusEvent struct {
	StatusID string
	Record   *models.StatusRecord
	At       time.Time
}

const defaultBufferSize = 100

// Bus fans StatusEvents out to subscribers registered at boot. Publishing
// never blocks: a subscriber that falls behind loses events rather than
// stalling the status plane.
type Bus struct {
	mu         sync.RWMutex
	subs       []chan StatusEvent
	bufferSize int
	closed     bool
}

// NewBus creates an event bus with the default per-subscriber buffer
func NewBus() *Bus {
	return &Bus{
		bufferSize: defaultBufferSize,
	}
}

// Subscribe registers a new subscriber and returns its receive channel
func (b *Bus) Subscribe() <-chan StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan StatusEvent, b.bufferSize)
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Bus) Unsubscribe(ch <-chan StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Publish delivers the event to every subscriber without blocking
func (b *Bus) Publish(evt StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	for _, sub := range b.subs {
		select {
		case sub <- evt:
		default:
			// Subscriber buffer full, drop the event for this subscriber.
		}
	}
}

// SubscriberCount returns the number of registered subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}
