package main

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultEventBuffer is the per-subscriber channel capacity
const DefaultEventBuffer = 256

// EventBus fans ledger events out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	closed      bool
}

// NewEventBus creates an empty event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[uint64]chan Event),
	}
}

// Subscribe registers a new subscriber. The returned cancel func closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	UpdateEventSubscribersGauge(len(b.subscribers))

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
				UpdateEventSubscribersGauge(len(b.subscribers))
			}
		})
	}
	return ch, cancel
}

// Publish stamps the event and delivers it to every subscriber with room
func (b *EventBus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.EmittedAt == 0 {
		ev.EmittedAt = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	RecordEventPublished(ev.Type)
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			RecordEventDropped(ev.Type)
		}
	}
}

// Close closes every subscriber channel; later subscriptions receive a closed channel
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	UpdateEventSubscribersGauge(0)
}

// SubscriberCount returns the number of live subscriptions
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
