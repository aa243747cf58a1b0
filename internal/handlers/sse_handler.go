// -----------------------------------------------------------------------
// SSE handler - per-job event streams. Each connection is one bus
// subscription; slow clients lose oldest progress events but terminal
// events always arrive.
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

const ssePingInterval = 15 * time.Second

// SSEHandler streams job lifecycle events over Server-Sent Events
type SSEHandler struct {
	bus    interfaces.EventBus
	store  interfaces.StateStore
	logger arbor.ILogger
}

func NewSSEHandler(bus interfaces.EventBus, store interfaces.StateStore, logger arbor.ILogger) *SSEHandler {
	return &SSEHandler{bus: bus, store: store, logger: logger}
}

// StreamJobEvents handles GET /api/jobs/{id}/events. The current job state
// is sent first so a client connecting mid-run does not miss the picture.
func (h *SSEHandler) StreamJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	// Subscribe before the snapshot so no transition falls in the gap
	sub := h.bus.Subscribe(interfaces.SubscriptionFilter{JobID: jobID}, 0)
	defer h.bus.Unsubscribe(sub)

	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.sendEvent(w, flusher, "error", map[string]string{"error": "job not found"})
		return
	}
	h.sendEvent(w, flusher, string(models.EventJobStatus), models.Event{
		Type:      models.EventJobStatus,
		JobID:     jobID,
		Payload:   job,
		Timestamp: time.Now(),
	})

	// A terminal snapshot means there is nothing left to stream
	if job.Status.IsTerminal() {
		return
	}

	pingTicker := time.NewTicker(ssePingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, open := <-sub.Events():
			if !open {
				return
			}
			h.sendEvent(w, flusher, string(event.Type), event)
			if event.Terminal() {
				return
			}
			pingTicker.Reset(ssePingInterval)

		case <-pingTicker.C:
			h.sendEvent(w, flusher, "ping", map[string]time.Time{"timestamp": time.Now()})
		}
	}
}

// sendEvent writes one SSE event to the response
func (h *SSEHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal SSE event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}
