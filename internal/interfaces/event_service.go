package interfaces

import (
	"github.com/matt-hans/shipagent/internal/models"
)

// SubscriptionFilter limits which events a subscriber receives. Zero values
// match everything.
type SubscriptionFilter struct {
	JobID string
	Types []models.EventType
}

// Subscription is one subscriber's bounded event feed. Slow subscribers lose
// oldest progress events; terminal events are never dropped.
type Subscription interface {
	// Events is the receive channel. Closed after Unsubscribe.
	Events() <-chan models.Event
	// Dropped returns how many non-terminal events were discarded due to
	// buffer pressure.
	Dropped() int64
}

// EventBus is the in-process lifecycle event fan-out (C8). Delivery is
// at-least-once per subscriber; per-row events for a given row arrive in
// emission order, cross-row ordering is not promised.
type EventBus interface {
	Subscribe(filter SubscriptionFilter, buffer int) Subscription
	Unsubscribe(sub Subscription)
	Publish(event models.Event)
	Close()
}
