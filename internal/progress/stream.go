package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MinBatchInterval is the enforced floor for batched delivery.
const MinBatchInterval = 100 * time.Millisecond

// Filter selects which events a subscriber receives. Zero fields match
// everything.
type Filter struct {
	SessionKey string
	EventTypes []EventType
}

func (f Filter) matches(event *Event) bool {
	if f.SessionKey != "" && event.SessionKey != f.SessionKey {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Handler receives deliveries. Single-event subscriptions get slices of
// length one, synchronously from Publish; batched subscriptions get the
// buffered events when the interval elapses or on unsubscribe.
type Handler func(events []*Event)

// subscription is one subscriber's registration.
type subscription struct {
	id      string
	filter  Filter
	handler Handler

	// batching state; zero interval means single-event delivery
	interval time.Duration
	mu       sync.Mutex
	buffer   []*Event
	timer    *time.Timer
}

// Stream is the in-process publish/subscribe bus. Delivery is FIFO per
// subscriber, even when batched.
type Stream struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[string]*subscription)}
}

// SubscribeOptions tunes a subscription.
type SubscribeOptions struct {
	// BatchInterval > 0 enables batched delivery; values below the
	// 100 ms floor are raised to it.
	BatchInterval time.Duration
}

// Subscribe registers a handler and returns the subscription id.
func (s *Stream) Subscribe(filter Filter, handler Handler, opts SubscribeOptions) string {
	sub := &subscription{
		id:      uuid.NewString(),
		filter:  filter,
		handler: handler,
	}
	if opts.BatchInterval > 0 {
		sub.interval = opts.BatchInterval
		if sub.interval < MinBatchInterval {
			sub.interval = MinBatchInterval
		}
	}

	s.mu.Lock()
	s.subs[sub.id] = sub
	s.mu.Unlock()
	return sub.id
}

// Unsubscribe removes the subscription, flushing any buffered batch.
func (s *Stream) Unsubscribe(id string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if ok {
		sub.flush()
	}
}

// Publish delivers the event to every matching subscriber.
// Single-event subscribers are invoked synchronously; the order across
// subscribers is not defined. Batched subscribers buffer.
func (s *Stream) Publish(event *Event) {
	s.mu.RLock()
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		if !sub.filter.matches(event) {
			continue
		}
		sub.deliver(event)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (s *Stream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (sub *subscription) deliver(event *Event) {
	if sub.interval == 0 {
		sub.handler([]*Event{event})
		return
	}

	sub.mu.Lock()
	sub.buffer = append(sub.buffer, event)
	if sub.timer == nil {
		sub.timer = time.AfterFunc(sub.interval, sub.flush)
	}
	sub.mu.Unlock()
}

// flush delivers and clears the buffered batch.
func (sub *subscription) flush() {
	sub.mu.Lock()
	batch := sub.buffer
	sub.buffer = nil
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
	sub.mu.Unlock()

	if len(batch) > 0 {
		sub.handler(batch)
	}
}
