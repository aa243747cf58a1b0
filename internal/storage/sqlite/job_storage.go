package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

const jobColumns = `id, command, source_signature, filter_spec, service_code, mode, auto_confirm,
	status, generation, total_rows, succeeded_rows, failed_rows, skipped_rows,
	preview_cost, total_cost, approval_hash, error, created_at, approved_at, started_at, completed_at`

// CreateJob inserts a job in its initial status
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	filterJSON, err := marshalJSON(nullableFilter(job.FilterSpec))
	if err != nil {
		return fmt.Errorf("failed to serialize filter spec: %w", err)
	}
	errorJSON, err := marshalJSON(nullableError(job.Error))
	if err != nil {
		return fmt.Errorf("failed to serialize error: %w", err)
	}

	autoConfirm := 0
	if job.AutoConfirm {
		autoConfirm = 1
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.Command, job.SourceSignature, filterJSON, job.ServiceCode, string(job.Mode), autoConfirm,
		string(job.Status), job.Generation, job.TotalRows, job.SucceededRows, job.FailedRows, job.SkippedRows,
		job.PreviewCost, job.TotalCost, job.ApprovalHash, errorJSON,
		job.CreatedAt.Unix(), nullUnix(job.ApprovedAt), nullUnix(job.StartedAt), nullUnix(job.CompletedAt),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to create job")
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Job created")
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs lists jobs with pagination, newest first
func (s *Store) ListJobs(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}

	if opts.Status != "" {
		statuses := strings.Split(opts.Status, ",")
		placeholders := make([]string, 0, len(statuses))
		for _, st := range statuses {
			st = strings.TrimSpace(st)
			if st == "" {
				continue
			}
			placeholders = append(placeholders, "?")
			args = append(args, st)
		}
		if len(placeholders) > 0 {
			where += " AND status IN (" + strings.Join(placeholders, ",") + ")"
		}
	}

	var total int
	if err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, pageSize, opts.Page*pageSize)

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

// UpdateJobStatus compare-and-sets the job status. The from status must
// match the current status or ErrStaleTransition is returned. All job status
// changes go through here.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, from, to models.JobStatus, fields *interfaces.JobFields) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from != to && !models.CanTransitionJob(from, to) {
		return nil, fmt.Errorf("job transition %s -> %s not allowed", from, to)
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	set := []string{"status = ?"}
	args := []interface{}{string(to)}

	now := time.Now()
	switch to {
	case models.JobStatusApproved:
		set = append(set, "approved_at = ?")
		args = append(args, now.Unix())
	case models.JobStatusRunning:
		set = append(set, "started_at = ?")
		args = append(args, now.Unix())
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		set = append(set, "completed_at = ?")
		args = append(args, now.Unix())
	}

	if fields != nil {
		if fields.PreviewCost != nil {
			set = append(set, "preview_cost = ?")
			args = append(args, *fields.PreviewCost)
		}
		if fields.TotalCost != nil {
			set = append(set, "total_cost = ?")
			args = append(args, *fields.TotalCost)
		}
		if fields.ApprovalHash != nil {
			set = append(set, "approval_hash = ?")
			args = append(args, *fields.ApprovalHash)
		}
		if fields.Generation != nil {
			set = append(set, "generation = ?")
			args = append(args, *fields.Generation)
		}
		if fields.Error != nil {
			errJSON, err := marshalJSON(fields.Error)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize error: %w", err)
			}
			set = append(set, "error = ?")
			args = append(args, errJSON)
		}
	}

	args = append(args, id, string(from))
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Distinguish missing job from stale status
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read job status: %w", err)
		}
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStaleTransition, from, current)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job status: %w", err)
	}

	s.logger.Debug().Str("job_id", id).Str("from", string(from)).Str("to", string(to)).Msg("Job status updated")
	return s.GetJob(ctx, id)
}

// DeleteJob removes a job; rows and audit go with it
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM job_rows WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job audit: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return tx.Commit()
}

// rowScanner matches both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(scanner rowScanner) (*models.Job, error) {
	var (
		job          models.Job
		filterJSON   sql.NullString
		errorJSON    sql.NullString
		mode         string
		status       string
		autoConfirm  int
		createdAt    int64
		approvedAt   sql.NullInt64
		startedAt    sql.NullInt64
		completedAt  sql.NullInt64
	)

	err := scanner.Scan(
		&job.ID, &job.Command, &job.SourceSignature, &filterJSON, &job.ServiceCode, &mode, &autoConfirm,
		&status, &job.Generation, &job.TotalRows, &job.SucceededRows, &job.FailedRows, &job.SkippedRows,
		&job.PreviewCost, &job.TotalCost, &job.ApprovalHash, &errorJSON,
		&createdAt, &approvedAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Mode = models.JobMode(mode)
	job.Status = models.JobStatus(status)
	job.AutoConfirm = autoConfirm != 0
	job.CreatedAt = time.Unix(createdAt, 0)
	job.ApprovedAt = unixPtr(approvedAt)
	job.StartedAt = unixPtr(startedAt)
	job.CompletedAt = unixPtr(completedAt)

	if filterJSON.Valid && filterJSON.String != "" {
		var spec models.FilterSpec
		if err := json.Unmarshal([]byte(filterJSON.String), &spec); err != nil {
			return nil, fmt.Errorf("failed to parse stored filter spec: %w", err)
		}
		job.FilterSpec = &spec
	}
	if errorJSON.Valid && errorJSON.String != "" {
		var rec models.ErrorRecord
		if err := json.Unmarshal([]byte(errorJSON.String), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse stored error: %w", err)
		}
		job.Error = &rec
	}

	return &job, nil
}

func nullableFilter(f *models.FilterSpec) interface{} {
	if f == nil {
		return nil
	}
	return f
}

func nullableError(e *models.ErrorRecord) interface{} {
	if e == nil {
		return nil
	}
	return e
}
