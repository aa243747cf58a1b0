package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matt-hans/shipagent/internal/models"
)

// AppendAudit writes one immutable audit entry. Never fails silently; the
// caller decides how hard to push back on persistence failures.
func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	var rowNumber sql.NullInt64
	if entry.RowNumber != nil {
		rowNumber = sql.NullInt64{Valid: true, Int64: int64(*entry.RowNumber)}
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO audit (job_id, row_number, kind, from_status, to_status, actor, digest, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.JobID, rowNumber, entry.Kind, entry.From, entry.To, string(entry.Actor), entry.Digest, ts.Unix())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries for a job in sequence order
func (s *Store) ListAudit(ctx context.Context, jobID string, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, job_id, row_number, kind, from_status, to_status, actor, digest, ts
		FROM audit WHERE job_id = ? ORDER BY id LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit: %w", err)
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		var (
			entry     models.AuditEntry
			rowNumber sql.NullInt64
			actor     string
			ts        int64
		)
		if err := rows.Scan(&entry.Seq, &entry.JobID, &rowNumber, &entry.Kind, &entry.From, &entry.To, &actor, &entry.Digest, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if rowNumber.Valid {
			n := int(rowNumber.Int64)
			entry.RowNumber = &n
		}
		entry.Actor = models.AuditActor(actor)
		entry.Timestamp = time.Unix(ts, 0)
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
