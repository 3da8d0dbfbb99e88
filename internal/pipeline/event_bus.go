package pipeline

import (
	"sync"
)

// EventBus fans stabilized results out to subscribers: the metrics
// collector, the event store, the websocket hub, and the overlay stream.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	channel chan *StabilizedResult
	handler ResultHandler
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for stabilized results.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	sub := &eventSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a channel that receives stabilized results and an
// unsubscribe function. Results are dropped for a subscriber whose channel
// is full; slow consumers never stall the frame path.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *StabilizedResult, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *StabilizedResult, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers a result to all subscribers.
// Handlers are called synchronously to preserve frame ordering; results must
// arrive in sequence so stale frames never appear after newer ones.
func (b *EventBus) Publish(result *StabilizedResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			sub.handler.OnResult(result)
		} else if sub.channel != nil {
			select {
			case sub.channel <- result:
			default:
				// Channel full, skip this result
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes subscriber channels.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
