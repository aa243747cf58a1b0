// -----------------------------------------------------------------------
// Job - one user command and its lifecycle through the state machine
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusCreated    JobStatus = "created"
	JobStatusPreviewing JobStatus = "previewing"
	JobStatusPreviewed  JobStatus = "previewed"
	JobStatusApproved   JobStatus = "approved"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal returns true for states a job can never leave
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// jobTransitions is the allowed status DAG. Every change goes through the
// store's compare-and-set; this map is the authority on what the CAS may
// attempt in the first place.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusCreated:    {JobStatusPreviewing, JobStatusCancelled, JobStatusFailed},
	JobStatusPreviewing: {JobStatusPreviewed, JobStatusFailed, JobStatusCancelled},
	JobStatusPreviewed:  {JobStatusApproved, JobStatusCancelled, JobStatusFailed},
	JobStatusApproved:   {JobStatusRunning, JobStatusCancelled, JobStatusFailed},
	JobStatusRunning:    {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransitionJob reports whether from -> to is an allowed job transition
func CanTransitionJob(from, to JobStatus) bool {
	for _, allowed := range jobTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// JobMode selects the engine's failure policy during execute
type JobMode string

const (
	JobModeFailFast JobMode = "fail_fast" // Stop dispatching on first non-skip-safe failure
	JobModeAuto     JobMode = "auto"      // Attempt every row
)

// Job is one user command resolved to a filtered set of source rows.
// Mutated only by the job coordinator; rows are mutated only by the batch
// engine.
type Job struct {
	ID              string    `json:"id"`
	Command         string    `json:"command"`          // Original user text, retained for audit
	SourceSignature string    `json:"source_signature"` // Fingerprint of source identity + schema at compile time
	FilterSpec      *FilterSpec `json:"filter_spec,omitempty"`
	ServiceCode     string    `json:"service_code"`
	Mode            JobMode   `json:"mode"`
	AutoConfirm     bool      `json:"auto_confirm"` // Skip the approval gate when no preview warnings
	Status          JobStatus `json:"status"`
	Generation      int       `json:"generation"` // Bumped when the job is refined; idempotency discriminator

	// Row counters. Maintained in the same transaction as the row
	// transitions they reflect.
	TotalRows     int `json:"total_rows"`
	SucceededRows int `json:"succeeded_rows"`
	FailedRows    int `json:"failed_rows"`
	SkippedRows   int `json:"skipped_rows"`

	// Costs in integer minor units (cents)
	PreviewCost int64 `json:"preview_cost"`
	TotalCost   int64 `json:"total_cost"`

	// Approval gate. Only the SHA-256 hash of the token is stored; it is
	// cleared when consumed so a token can approve exactly one execution.
	ApprovalHash string `json:"-"`

	Error *ErrorRecord `json:"error,omitempty"` // Job-level fatal error

	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PendingRows returns the count of rows not yet in a terminal row state
func (j *Job) PendingRows() int {
	n := j.TotalRows - j.SucceededRows - j.FailedRows - j.SkippedRows
	if n < 0 {
		return 0
	}
	return n
}
