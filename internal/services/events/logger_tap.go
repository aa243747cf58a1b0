package events

import (
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
)

// LoggerTap mirrors every bus event onto the debug log. It subscribes like
// any other consumer, so a slow log sink sheds progress events instead of
// backpressuring publishers.
type LoggerTap struct {
	bus  interfaces.EventBus
	sub  interfaces.Subscription
	done chan struct{}
}

// StartLoggerTap subscribes the tap to all events and begins draining
func StartLoggerTap(bus interfaces.EventBus, logger arbor.ILogger) *LoggerTap {
	tap := &LoggerTap{
		bus:  bus,
		sub:  bus.Subscribe(interfaces.SubscriptionFilter{}, 64),
		done: make(chan struct{}),
	}

	go func() {
		defer close(tap.done)
		for event := range tap.sub.Events() {
			logEvent := logger.Debug().Str("event_type", string(event.Type))
			if event.JobID != "" {
				logEvent = logEvent.Str("job_id", event.JobID)
			}
			if event.RowNumber > 0 {
				logEvent = logEvent.Int("row", event.RowNumber)
			}
			logEvent.Msg("Event published")
		}
	}()
	return tap
}

// Stop unsubscribes the tap and waits for the drain goroutine to exit
func (t *LoggerTap) Stop() {
	t.bus.Unsubscribe(t.sub)
	<-t.done
}
