package models

import "time"

// EventType enumerates the lifecycle events published on the bus
type EventType string

const (
	EventJobStatus     EventType = "job.status"
	EventRowStart      EventType = "row.start"
	EventRowRated      EventType = "row.rated"
	EventRowShipped    EventType = "row.shipped"
	EventRowFailed     EventType = "row.failed"
	EventRowSkipped    EventType = "row.skipped"
	EventBatchProgress EventType = "batch.progress" // Throttled aggregate
	EventPreviewReady  EventType = "preview.ready"
	EventJobCompleted  EventType = "job.completed"
	EventJobFailed     EventType = "job.failed"
	EventJobCancelled  EventType = "job.cancelled"
)

// Event is one bus message. Terminal events (job.completed, job.failed,
// job.cancelled) are never dropped by slow subscribers; progress events may
// be.
type Event struct {
	Type      EventType   `json:"type"`
	JobID     string      `json:"job_id"`
	RowNumber int         `json:"row_number,omitempty"` // 0 for job-level events
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Terminal reports whether this event must survive buffer pressure
func (e *Event) Terminal() bool {
	switch e.Type {
	case EventJobCompleted, EventJobFailed, EventJobCancelled:
		return true
	}
	return false
}

// ProgressPayload is the payload of batch.progress events
type ProgressPayload struct {
	Total     int   `json:"total"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	InFlight  int   `json:"in_flight"`
	Cost      int64 `json:"cost"`
}

// PreviewRowView is one rated row in the preview.ready payload
type PreviewRowView struct {
	RowNumber int          `json:"row_number"`
	Name      string       `json:"name"`
	City      string       `json:"city"`
	State     string       `json:"state"`
	Country   string       `json:"country"`
	RatedCost int64        `json:"rated_cost"`
	Status    RowStatus    `json:"status"`
	Error     *ErrorRecord `json:"error,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// PreviewPayload is the payload of preview.ready events
type PreviewPayload struct {
	JobID        string           `json:"job_id"`
	TotalRows    int              `json:"total_rows"`
	RatedRows    int              `json:"rated_rows"`
	FailedRows   int              `json:"failed_rows"`
	WarningRows  int              `json:"warning_rows"`
	EstimatedCost int64           `json:"estimated_cost"`
	Sample       []PreviewRowView `json:"sample"`
}
