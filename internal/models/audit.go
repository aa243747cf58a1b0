package models

import "time"

// AuditActor identifies what caused a state transition
type AuditActor string

const (
	AuditActorSystem AuditActor = "system"
	AuditActorUser   AuditActor = "user"
	AuditActorHook   AuditActor = "hook"
)

// AuditEntry is an immutable per-transition record. Sequence numbers are
// monotonic within the store. RowNumber is nil for job-level events.
type AuditEntry struct {
	Seq       int64      `json:"seq"`
	JobID     string     `json:"job_id"`
	RowNumber *int       `json:"row_number,omitempty"`
	Kind      string     `json:"kind"` // e.g. "job.status", "row.status"
	From      string     `json:"from"`
	To        string     `json:"to"`
	Actor     AuditActor `json:"actor"`
	// Digest is a redacted fingerprint of the payload involved in the
	// transition; raw payloads never enter the audit log.
	Digest    string    `json:"digest,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
