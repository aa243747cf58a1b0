package interfaces

import (
	"context"

	"github.com/matt-hans/shipagent/internal/models"
)

// JobListOptions filters and pages job listings
type JobListOptions struct {
	Status   string // Comma-separated status filter
	Page     int    // 0-indexed
	PageSize int
}

// RowFields carries the mutable fields a row transition may set. Nil
// pointers leave the current value untouched.
type RowFields struct {
	PayloadSnapshot []byte
	RatedCost       *int64
	FinalCost       *int64
	Tracking        *string
	LabelRef        *string
	Error           *models.ErrorRecord
	Warnings        []string
	IncrementAttempt bool
}

// JobFields carries mutable job fields for status updates
type JobFields struct {
	PreviewCost  *int64
	TotalCost    *int64
	ApprovalHash *string // Empty string clears the hash (token consumed)
	Error        *models.ErrorRecord
	Generation   *int
}

// StateStore is the durable job/row/audit store (C1). All status changes go
// through the compare-and-set primitives; a row transition and the job
// counters it affects commit in one transaction.
type StateStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts JobListOptions) ([]*models.Job, int, error)
	// UpdateJobStatus CAS-transitions a job. Returns ErrStaleTransition if
	// the current status does not match from.
	UpdateJobStatus(ctx context.Context, id string, from, to models.JobStatus, fields *JobFields) (*models.Job, error)
	// DeleteJob removes a job with its rows and audit (ownership: jobs own
	// their rows).
	DeleteJob(ctx context.Context, id string) error

	// InsertRows bulk-inserts preview-materialized rows in pending.
	// Idempotent by (job id, row number).
	InsertRows(ctx context.Context, jobID string, rows []*models.JobRow) error
	GetRow(ctx context.Context, jobID string, rowNumber int) (*models.JobRow, error)
	// TransitionRow CAS-transitions a row and updates the owning job's
	// counters in the same transaction. Calling with from == to and
	// identical fields is a no-op returning the current row.
	TransitionRow(ctx context.Context, jobID string, rowNumber int, from, to models.RowStatus, fields *RowFields) (*models.JobRow, error)
	// IterRows streams rows ordered by row number, optionally filtered by
	// status. Restartable: the caller may re-invoke after a crash.
	IterRows(ctx context.Context, jobID string, statuses []models.RowStatus, fn func(*models.JobRow) error) error
	CountRowsByStatus(ctx context.Context, jobID string) (map[models.RowStatus]int, error)

	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, jobID string, limit int) ([]*models.AuditEntry, error)

	// AcquireRuntimeLock enforces the single-writer policy. Fails when a
	// live lock belongs to another process.
	AcquireRuntimeLock(ctx context.Context, pid int) error
	ReleaseRuntimeLock(ctx context.Context, pid int) error

	Ping(ctx context.Context) error
	Close() error
}

// ConversationStorage persists chat sessions (ambient LLM state, outside the
// batch core).
type ConversationStorage interface {
	Save(ctx context.Context, conv *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Delete(ctx context.Context, id string) error
	PruneOlderThan(ctx context.Context, cutoffUnix int64) (int, error)
	Close() error
}

// StorageManager aggregates the storage backends
type StorageManager interface {
	StateStore() StateStore
	ConversationStorage() ConversationStorage
	Close() error
}
