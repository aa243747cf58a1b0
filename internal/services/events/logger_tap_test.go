package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

func TestLoggerTapDrainsAndStops(t *testing.T) {
	bus := newTestBus(t)
	tap := StartLoggerTap(bus, arbor.Logger())

	for i := 1; i <= 5; i++ {
		bus.Publish(models.Event{
			Type:      models.EventRowRated,
			JobID:     "job-1",
			RowNumber: i,
			Timestamp: time.Now(),
		})
	}
	bus.Publish(models.Event{Type: models.EventJobCompleted, JobID: "job-1", Timestamp: time.Now()})

	// Stop must return once the drain goroutine observes the closed channel
	tap.Stop()
}

func TestLoggerTapDoesNotInterfere(t *testing.T) {
	bus := newTestBus(t)
	tap := StartLoggerTap(bus, arbor.Logger())
	defer tap.Stop()

	sub := bus.Subscribe(interfaces.SubscriptionFilter{JobID: "job-2"}, 8)
	defer bus.Unsubscribe(sub)

	bus.Publish(models.Event{Type: models.EventRowShipped, JobID: "job-2", RowNumber: 1, Timestamp: time.Now()})

	events := collect(t, sub, 1)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRowShipped, events[0].Type)
	assert.Equal(t, "job-2", events[0].JobID)
}
