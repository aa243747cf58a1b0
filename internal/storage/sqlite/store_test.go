package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/errcodes"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

func newTestStore(t *testing.T) interfaces.StateStore {
	t.Helper()
	logger := arbor.Logger()
	db, err := NewSQLiteDB(logger, &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "state.db"),
		BusyTimeoutMS: 5000,
		WALMode:       true,
	})
	require.NoError(t, err)
	store := NewStore(db, logger)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedJob(t *testing.T, store interfaces.StateStore, id string) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:              id,
		Command:         "ship all orders in KY",
		SourceSignature: "sig-1",
		ServiceCode:     "03",
		Mode:            models.JobModeFailFast,
		Status:          models.JobStatusCreated,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func seedRows(t *testing.T, store interfaces.StateStore, jobID string, n int) {
	t.Helper()
	rows := make([]*models.JobRow, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, &models.JobRow{
			JobID:     jobID,
			RowNumber: i,
			Checksum:  "checksum",
			Order:     &models.Order{Name: "Recipient", City: "Louisville", Country: "US"},
			Status:    models.RowStatusPending,
		})
	}
	require.NoError(t, store.InsertRows(context.Background(), jobID, rows))
}

func TestUpdateJobStatusCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1")

	updated, err := store.UpdateJobStatus(ctx, "job-1", models.JobStatusCreated, models.JobStatusPreviewing, nil)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPreviewing, updated.Status)

	// Stale precondition: job is no longer in created
	_, err = store.UpdateJobStatus(ctx, "job-1", models.JobStatusCreated, models.JobStatusPreviewing, nil)
	require.ErrorIs(t, err, ErrStaleTransition)

	_, err = store.UpdateJobStatus(ctx, "missing", models.JobStatusCreated, models.JobStatusPreviewing, nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJobStatusFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1")

	hash := "approval-hash"
	cost := int64(1250)
	_, err := store.UpdateJobStatus(ctx, "job-1", models.JobStatusCreated, models.JobStatusPreviewing, nil)
	require.NoError(t, err)
	updated, err := store.UpdateJobStatus(ctx, "job-1", models.JobStatusPreviewing, models.JobStatusPreviewed,
		&interfaces.JobFields{PreviewCost: &cost, ApprovalHash: &hash})
	require.NoError(t, err)
	assert.Equal(t, int64(1250), updated.PreviewCost)
	assert.Equal(t, "approval-hash", updated.ApprovalHash)

	// Empty string clears the hash (token consumed)
	empty := ""
	updated, err = store.UpdateJobStatus(ctx, "job-1", models.JobStatusPreviewed, models.JobStatusApproved,
		&interfaces.JobFields{ApprovalHash: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.ApprovalHash)
}

func TestTransitionRowUpdatesJobCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1")
	seedRows(t, store, "job-1", 3)

	_, err := store.TransitionRow(ctx, "job-1", 1, models.RowStatusPending, models.RowStatusShipping, nil)
	require.NoError(t, err)

	final := int64(899)
	tracking := "1Z999AA10123456784"
	row, err := store.TransitionRow(ctx, "job-1", 1, models.RowStatusShipping, models.RowStatusShipped,
		&interfaces.RowFields{FinalCost: &final, Tracking: &tracking})
	require.NoError(t, err)
	assert.Equal(t, models.RowStatusShipped, row.Status)
	assert.Equal(t, int64(899), row.FinalCost)
	assert.Equal(t, tracking, row.Tracking)

	_, err = store.TransitionRow(ctx, "job-1", 2, models.RowStatusPending, models.RowStatusFailed,
		&interfaces.RowFields{Error: errcodes.New(errcodes.MissingRequiredField, "address1")})
	require.NoError(t, err)

	_, err = store.TransitionRow(ctx, "job-1", 3, models.RowStatusPending, models.RowStatusSkipped, nil)
	require.NoError(t, err)

	// Counters commit in the same transaction as the row transitions
	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, job.SucceededRows)
	assert.Equal(t, 1, job.FailedRows)
	assert.Equal(t, 1, job.SkippedRows)
}

func TestTransitionRowStalePrecondition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1")
	seedRows(t, store, "job-1", 1)

	_, err := store.TransitionRow(ctx, "job-1", 1, models.RowStatusPending, models.RowStatusRated, nil)
	require.NoError(t, err)

	_, err = store.TransitionRow(ctx, "job-1", 1, models.RowStatusPending, models.RowStatusRated, nil)
	require.ErrorIs(t, err, ErrStaleTransition)
}

func TestInsertRowsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1")
	seedRows(t, store, "job-1", 2)
	// Re-inserting the same (job id, row number) pairs is a no-op
	seedRows(t, store, "job-1", 2)

	counts, err := store.CountRowsByStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.RowStatusPending])
}

func TestIterRowsFiltersByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1")
	seedRows(t, store, "job-1", 3)

	_, err := store.TransitionRow(ctx, "job-1", 2, models.RowStatusPending, models.RowStatusSkipped, nil)
	require.NoError(t, err)

	var pending []int
	err = store.IterRows(ctx, "job-1", []models.RowStatus{models.RowStatusPending}, func(row *models.JobRow) error {
		pending = append(pending, row.RowNumber)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, pending)
}

func TestListJobsPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		seedJob(t, store, id)
	}
	_, err := store.UpdateJobStatus(ctx, "job-2", models.JobStatusCreated, models.JobStatusCancelled, nil)
	require.NoError(t, err)

	jobs, total, err := store.ListJobs(ctx, interfaces.JobListOptions{Page: 0, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, jobs, 2)

	jobs, total, err = store.ListJobs(ctx, interfaces.JobListOptions{Status: "cancelled", Page: 0, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-2", jobs[0].ID)
}

func TestAuditSequenceMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedJob(t, store, "job-1")

	for _, to := range []string{"previewing", "previewed"} {
		require.NoError(t, store.AppendAudit(ctx, &models.AuditEntry{
			JobID:     "job-1",
			Kind:      "job.status",
			To:        to,
			Actor:     models.AuditActorSystem,
			Timestamp: time.Now(),
		}))
	}

	entries, err := store.ListAudit(ctx, "job-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Greater(t, entries[1].Seq, entries[0].Seq)
}

func TestRuntimeLockSingleWriter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AcquireRuntimeLock(ctx, 111))

	// A second process is refused while the heartbeat is fresh
	err := store.AcquireRuntimeLock(ctx, 222)
	require.ErrorIs(t, err, ErrLockHeld)

	// Same pid refreshes
	require.NoError(t, store.AcquireRuntimeLock(ctx, 111))

	// Releasing with the wrong pid leaves the lock in place
	require.NoError(t, store.ReleaseRuntimeLock(ctx, 222))
	err = store.AcquireRuntimeLock(ctx, 222)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, store.ReleaseRuntimeLock(ctx, 111))
	require.NoError(t, store.AcquireRuntimeLock(ctx, 222))
}
