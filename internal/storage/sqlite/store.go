// -----------------------------------------------------------------------
// State store (C1) - durable job/row/audit persistence. Row transitions and
// the job counters they affect commit in a single transaction; that is the
// atomic unit crash recovery relies on.
// -----------------------------------------------------------------------

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/matt-hans/shipagent/internal/interfaces"
)

var (
	// ErrNotFound is returned when a job or row does not exist
	ErrNotFound = errors.New("not found")
	// ErrStaleTransition is returned when a CAS precondition fails
	ErrStaleTransition = errors.New("stale transition")
	// ErrLockHeld is returned when another live process owns the runtime lock
	ErrLockHeld = errors.New("runtime lock held by another process")
)

// lockStaleAfter is how long a runtime-lock heartbeat stays authoritative.
const lockStaleAfter = 30 * time.Second

// Store implements interfaces.StateStore on SQLite
type Store struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewStore creates the state store
func NewStore(db *SQLiteDB, logger arbor.ILogger) interfaces.StateStore {
	return &Store{db: db, logger: logger}
}

// Ping verifies the underlying connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the underlying connection
func (s *Store) Close() error {
	return s.db.Close()
}

// AcquireRuntimeLock enforces the single-writer policy: it refuses to
// acquire while a fresh heartbeat belongs to a different pid. Re-acquiring
// with the same pid refreshes the heartbeat.
func (s *Store) AcquireRuntimeLock(ctx context.Context, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	var holderPID int64
	var heartbeat int64
	err = tx.QueryRowContext(ctx, `SELECT pid, heartbeat FROM runtime_lock WHERE id = 1`).Scan(&holderPID, &heartbeat)
	switch {
	case err == sql.ErrNoRows:
		// No holder
	case err != nil:
		return fmt.Errorf("failed to read runtime lock: %w", err)
	default:
		fresh := time.Since(time.Unix(heartbeat, 0)) < lockStaleAfter
		if fresh && int(holderPID) != pid {
			return fmt.Errorf("%w (pid %d)", ErrLockHeld, holderPID)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runtime_lock (id, pid, heartbeat) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET pid = excluded.pid, heartbeat = excluded.heartbeat
	`, pid, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write runtime lock: %w", err)
	}

	return tx.Commit()
}

// ReleaseRuntimeLock releases the lock if held by the given pid
func (s *Store) ReleaseRuntimeLock(ctx context.Context, pid int) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM runtime_lock WHERE id = 1 AND pid = ?`, pid)
	return err
}

// marshalJSON serializes nullable JSON columns
func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{Valid: true, String: string(data)}, nil
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Valid: true, Int64: t.Unix()}
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
