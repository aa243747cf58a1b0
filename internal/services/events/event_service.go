// -----------------------------------------------------------------------
// Event service (C8) - in-process fan-out of job lifecycle events to SSE,
// WebSocket, and test subscribers. Per-subscriber queues are bounded; when
// a slow consumer falls behind, the oldest progress events are discarded
// first and terminal events are never discarded.
// -----------------------------------------------------------------------

package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

const defaultBuffer = 256

// EventService implements interfaces.EventBus
type EventService struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	logger      arbor.ILogger
	closed      bool
}

// subscriber owns a bounded queue drained by a pump goroutine. The queue
// (not the channel) is the bound so that drop-oldest can inspect event
// types before discarding.
type subscriber struct {
	filter  interfaces.SubscriptionFilter
	out     chan models.Event
	queue   []models.Event
	limit   int
	dropped atomic.Int64

	mu     sync.Mutex
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewEventService creates the event bus
func NewEventService(logger arbor.ILogger) interfaces.EventBus {
	return &EventService{
		subscribers: make(map[*subscriber]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. buffer <= 0 uses the default.
func (s *EventService) Subscribe(filter interfaces.SubscriptionFilter, buffer int) interfaces.Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	sub := &subscriber{
		filter: filter,
		out:    make(chan models.Event, 8),
		limit:  buffer,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.out)
		return sub
	}
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go sub.pump()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (s *EventService) Unsubscribe(subscription interfaces.Subscription) {
	sub, ok := subscription.(*subscriber)
	if !ok {
		return
	}

	s.mu.Lock()
	_, registered := s.subscribers[sub]
	delete(s.subscribers, sub)
	s.mu.Unlock()

	if registered {
		sub.shutdown()
	}
}

// Publish fans an event out to all matching subscribers. Never blocks on
// slow consumers.
func (s *EventService) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subscribers {
		if sub.matches(event) {
			sub.enqueue(event)
		}
	}
}

// Close shuts down the bus and all subscribers
func (s *EventService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[*subscriber]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}

// ---- Subscriber ----

func (sub *subscriber) Events() <-chan models.Event {
	return sub.out
}

func (sub *subscriber) Dropped() int64 {
	return sub.dropped.Load()
}

func (sub *subscriber) matches(event models.Event) bool {
	if sub.filter.JobID != "" && sub.filter.JobID != event.JobID {
		return false
	}
	if len(sub.filter.Types) > 0 {
		for _, t := range sub.filter.Types {
			if t == event.Type {
				return true
			}
		}
		return false
	}
	return true
}

// enqueue appends the event, evicting the oldest non-terminal entry when
// the queue is at its bound. Terminal events always survive, so the queue
// may exceed the bound by however many terminal events are backed up.
func (sub *subscriber) enqueue(event models.Event) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}

	if len(sub.queue) >= sub.limit {
		evicted := false
		for i, queued := range sub.queue {
			if !queued.Terminal() {
				sub.queue = append(sub.queue[:i], sub.queue[i+1:]...)
				sub.dropped.Add(1)
				evicted = true
				break
			}
		}
		if !evicted && !event.Terminal() {
			sub.dropped.Add(1)
			sub.mu.Unlock()
			return
		}
	}

	sub.queue = append(sub.queue, event)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// pump drains the queue into the out channel until shutdown. Sends race
// against done so a consumer that stops reading never strands the goroutine.
func (sub *subscriber) pump() {
	defer close(sub.out)

	for {
		sub.mu.Lock()
		for len(sub.queue) > 0 {
			event := sub.queue[0]
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()
			select {
			case sub.out <- event:
			case <-sub.done:
				return
			}
			sub.mu.Lock()
		}
		sub.mu.Unlock()

		select {
		case <-sub.wake:
		case <-sub.done:
			// Hand off whatever fits in the channel buffer without blocking
			// on a reader that may already be gone; drop the rest.
			sub.mu.Lock()
			remaining := sub.queue
			sub.queue = nil
			sub.mu.Unlock()
			for _, event := range remaining {
				select {
				case sub.out <- event:
				default:
					sub.dropped.Add(1)
				}
			}
			return
		}
	}
}

func (sub *subscriber) shutdown() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()
	close(sub.done)
}
