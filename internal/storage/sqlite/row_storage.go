package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

const rowColumns = `job_id, row_number, checksum, order_record, payload_snapshot, status,
	rated_cost, final_cost, tracking, label_ref, error, warnings, attempt, updated_at`

// InsertRows bulk-inserts preview-materialized rows. Idempotent by
// (job id, row number): existing rows are left untouched, so a crashed
// materialization can simply run again.
func (s *Store) InsertRows(ctx context.Context, jobID string, rows []*models.JobRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO job_rows (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, row_number) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, row := range rows {
		orderJSON, err := json.Marshal(row.Order)
		if err != nil {
			return fmt.Errorf("failed to serialize order for row %d: %w", row.RowNumber, err)
		}
		errJSON, err := marshalJSON(nullableError(row.Error))
		if err != nil {
			return err
		}
		warnJSON, err := marshalJSON(nullableWarnings(row.Warnings))
		if err != nil {
			return err
		}

		status := row.Status
		if status == "" {
			status = models.RowStatusPending
		}

		if _, err := stmt.ExecContext(ctx,
			jobID, row.RowNumber, row.Checksum, string(orderJSON), row.PayloadSnapshot, string(status),
			row.RatedCost, row.FinalCost, row.Tracking, row.LabelRef, errJSON, warnJSON, row.Attempt, now,
		); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", row.RowNumber, err)
		}
	}

	// Keep total in step with materialization
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET total_rows = (SELECT COUNT(*) FROM job_rows WHERE job_id = ?) WHERE id = ?
	`, jobID, jobID); err != nil {
		return fmt.Errorf("failed to update total rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit row insert: %w", err)
	}

	s.logger.Debug().Str("job_id", jobID).Int("count", len(rows)).Msg("Rows inserted")
	return nil
}

// GetRow retrieves one row
func (s *Store) GetRow(ctx context.Context, jobID string, rowNumber int) (*models.JobRow, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM job_rows WHERE job_id = ? AND row_number = ?`, jobID, rowNumber)
	return scanRow(row)
}

// TransitionRow compare-and-sets a row's status and recomputes the owning
// job's counters and aggregate cost inside the same transaction. Calling
// with from == to and fields that change nothing is a no-op returning the
// current row.
func (s *Store) TransitionRow(ctx context.Context, jobID string, rowNumber int, from, to models.RowStatus, fields *interfaces.RowFields) (*models.JobRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanRow(tx.QueryRowContext(ctx, `SELECT `+rowColumns+` FROM job_rows WHERE job_id = ? AND row_number = ?`, jobID, rowNumber))
	if err != nil {
		return nil, err
	}

	if current.Status != from {
		// Idempotent re-application: the transition already happened.
		if current.Status == to && fieldsMatch(current, fields) {
			return current, nil
		}
		return nil, fmt.Errorf("%w: row %d expected %s, found %s", ErrStaleTransition, rowNumber, from, current.Status)
	}

	if from == to {
		if fieldsMatch(current, fields) {
			return current, nil
		}
	} else if !models.CanTransitionRow(from, to) {
		return nil, fmt.Errorf("row transition %s -> %s not allowed", from, to)
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(to), time.Now().Unix()}

	if fields != nil {
		if fields.PayloadSnapshot != nil {
			set = append(set, "payload_snapshot = ?")
			args = append(args, fields.PayloadSnapshot)
		}
		if fields.RatedCost != nil {
			set = append(set, "rated_cost = ?")
			args = append(args, *fields.RatedCost)
		}
		if fields.FinalCost != nil {
			set = append(set, "final_cost = ?")
			args = append(args, *fields.FinalCost)
		}
		if fields.Tracking != nil {
			set = append(set, "tracking = ?")
			args = append(args, *fields.Tracking)
		}
		if fields.LabelRef != nil {
			set = append(set, "label_ref = ?")
			args = append(args, *fields.LabelRef)
		}
		if fields.Error != nil {
			errJSON, err := marshalJSON(fields.Error)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize error: %w", err)
			}
			set = append(set, "error = ?")
			args = append(args, errJSON)
		}
		if fields.Warnings != nil {
			warnJSON, err := marshalJSON(fields.Warnings)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize warnings: %w", err)
			}
			set = append(set, "warnings = ?")
			args = append(args, warnJSON)
		}
		if fields.IncrementAttempt {
			set = append(set, "attempt = attempt + 1")
		}
	}

	args = append(args, jobID, rowNumber, string(from))
	res, err := tx.ExecContext(ctx, `UPDATE job_rows SET `+strings.Join(set, ", ")+` WHERE job_id = ? AND row_number = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition row: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%w: row %d concurrently modified", ErrStaleTransition, rowNumber)
	}

	// Counters and aggregate cost derive from row state inside the same
	// transaction, which is what makes invariant accounting survive crashes.
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET
			succeeded_rows = (SELECT COUNT(*) FROM job_rows WHERE job_id = ? AND status = 'shipped'),
			failed_rows    = (SELECT COUNT(*) FROM job_rows WHERE job_id = ? AND status IN ('failed', 'failed_indeterminate')),
			skipped_rows   = (SELECT COUNT(*) FROM job_rows WHERE job_id = ? AND status = 'skipped'),
			total_cost     = (SELECT COALESCE(SUM(final_cost), 0) FROM job_rows WHERE job_id = ? AND status = 'shipped')
		WHERE id = ?
	`, jobID, jobID, jobID, jobID, jobID); err != nil {
		return nil, fmt.Errorf("failed to update job counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit row transition: %w", err)
	}

	return s.GetRow(ctx, jobID, rowNumber)
}

// IterRows streams rows in row-number order through fn. Restartable by
// design: it re-queries from the store each call.
func (s *Store) IterRows(ctx context.Context, jobID string, statuses []models.RowStatus, fn func(*models.JobRow) error) error {
	query := `SELECT ` + rowColumns + ` FROM job_rows WHERE job_id = ?`
	args := []interface{}{jobID}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY row_number`

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to iterate rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountRowsByStatus returns per-status row counts for a job
func (s *Store) CountRowsByStatus(ctx context.Context, jobID string) (map[models.RowStatus]int, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_rows WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	defer rows.Close()

	counts := map[models.RowStatus]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.RowStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanRow(scanner rowScanner) (*models.JobRow, error) {
	var (
		row       models.JobRow
		orderJSON string
		status    string
		errJSON   sql.NullString
		warnJSON  sql.NullString
		updatedAt int64
	)

	err := scanner.Scan(
		&row.JobID, &row.RowNumber, &row.Checksum, &orderJSON, &row.PayloadSnapshot, &status,
		&row.RatedCost, &row.FinalCost, &row.Tracking, &row.LabelRef, &errJSON, &warnJSON, &row.Attempt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	row.Status = models.RowStatus(status)
	row.UpdatedAt = time.Unix(updatedAt, 0)

	if orderJSON != "" {
		var order models.Order
		if err := json.Unmarshal([]byte(orderJSON), &order); err != nil {
			return nil, fmt.Errorf("failed to parse stored order: %w", err)
		}
		row.Order = &order
	}
	if errJSON.Valid && errJSON.String != "" {
		var rec models.ErrorRecord
		if err := json.Unmarshal([]byte(errJSON.String), &rec); err != nil {
			return nil, fmt.Errorf("failed to parse stored row error: %w", err)
		}
		row.Error = &rec
	}
	if warnJSON.Valid && warnJSON.String != "" {
		if err := json.Unmarshal([]byte(warnJSON.String), &row.Warnings); err != nil {
			return nil, fmt.Errorf("failed to parse stored warnings: %w", err)
		}
	}

	return &row, nil
}

// fieldsMatch reports whether applying fields to the row would change
// nothing, which makes the repeated transition a safe no-op.
func fieldsMatch(row *models.JobRow, fields *interfaces.RowFields) bool {
	if fields == nil {
		return true
	}
	if fields.PayloadSnapshot != nil && !bytes.Equal(fields.PayloadSnapshot, row.PayloadSnapshot) {
		return false
	}
	if fields.RatedCost != nil && *fields.RatedCost != row.RatedCost {
		return false
	}
	if fields.FinalCost != nil && *fields.FinalCost != row.FinalCost {
		return false
	}
	if fields.Tracking != nil && *fields.Tracking != row.Tracking {
		return false
	}
	if fields.LabelRef != nil && *fields.LabelRef != row.LabelRef {
		return false
	}
	if fields.IncrementAttempt {
		return false
	}
	return true
}

func nullableWarnings(w []string) interface{} {
	if w == nil {
		return nil
	}
	return w
}
