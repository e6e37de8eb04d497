// ABOUTME: SQLite implementation of ConversationStore using modernc.org/sqlite
// ABOUTME: One short-lived transaction per mutation, automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements ConversationStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode keeps readers unblocked while a mutation commits
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			thread_id          TEXT PRIMARY KEY,
			owner_user_id      TEXT NOT NULL,
			pending_message_id TEXT NOT NULL,
			iteration_count    INTEGER NOT NULL,
			status             TEXT NOT NULL DEFAULT 'pending',
			closed_at          TEXT,
			created_at         TEXT NOT NULL,
			updated_at         TEXT NOT NULL,

			CHECK (status IN ('pending', 'pending_support', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_threads_status ON threads(status);
		CREATE INDEX IF NOT EXISTS idx_threads_closed_at ON threads(closed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// withTx runs fn inside a transaction: begin, execute, commit-or-rollback.
// Mutations never hold a connection beyond the call.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetThread retrieves a thread record by ID.
// Returns ErrNotFound if the record doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*ConversationThread, error) {
	query := `
		SELECT thread_id, owner_user_id, pending_message_id, iteration_count,
		       status, closed_at, created_at, updated_at
		FROM threads
		WHERE thread_id = ?
	`

	var t ConversationThread
	var closedAt sql.NullString
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, threadID).Scan(
		&t.ThreadID,
		&t.OwnerUserID,
		&t.PendingMessageID,
		&t.IterationCount,
		&t.Status,
		&closedAt,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}

	t.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if closedAt.Valid {
		ts, err := time.Parse(time.RFC3339, closedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing closed_at: %w", err)
		}
		t.ClosedAt = &ts
	}

	return &t, nil
}

// CreateThread inserts a new record after the first completed round-trip.
// The primary key enforces at-most-one creation under concurrent duplicate
// calls; losers receive ErrThreadExists.
func (s *SQLiteStore) CreateThread(ctx context.Context, threadID, ownerUserID, pendingMessageID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO threads (thread_id, owner_user_id, pending_message_id,
			                     iteration_count, status, closed_at, created_at, updated_at)
			VALUES (?, ?, ?, 1, 'pending', NULL, ?, ?)
		`, threadID, ownerUserID, pendingMessageID, now, now)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrThreadExists
			}
			return fmt.Errorf("inserting thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("created thread record", "thread_id", threadID, "owner", ownerUserID)
	return nil
}

// UpdateThread records a completed round-trip: new prompt, count+1, status pending.
func (s *SQLiteStore) UpdateThread(ctx context.Context, threadID, pendingMessageID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE threads
			SET pending_message_id = ?,
			    iteration_count = iteration_count + 1,
			    status = 'pending',
			    updated_at = ?
			WHERE thread_id = ?
		`, pendingMessageID, now, threadID)
		if err != nil {
			return fmt.Errorf("updating thread: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("updated thread record", "thread_id", threadID, "pending_message_id", pendingMessageID)
	return nil
}

// SetThreadStatus changes the status without touching the iteration count.
func (s *SQLiteStore) SetThreadStatus(ctx context.Context, threadID, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE threads SET status = ?, updated_at = ? WHERE thread_id = ?
		`, status, now, threadID)
		if err != nil {
			return fmt.Errorf("setting thread status: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("set thread status", "thread_id", threadID, "status", status)
	return nil
}

// CloseThread marks the thread closed. COALESCE keeps the first closed_at, so
// a second call succeeds as a no-op without rewriting the timestamp.
func (s *SQLiteStore) CloseThread(ctx context.Context, threadID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE threads
			SET status = 'closed',
			    closed_at = COALESCE(closed_at, ?),
			    updated_at = ?
			WHERE thread_id = ?
		`, now, now, threadID)
		if err != nil {
			return fmt.Errorf("closing thread: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("closed thread record", "thread_id", threadID)
	return nil
}

// DeleteThread removes the record for a thread the platform deleted.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
		if err != nil {
			return fmt.Errorf("deleting thread: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("deleted thread record", "thread_id", threadID)
	return nil
}

// ReapThreads deletes aged thread records and returns the count removed.
// Closed rows are matched by closed_at older than retentionDays. Open rows
// carry no age timestamp and are removed unconditionally when their status is
// in the filter.
func (s *SQLiteStore) ReapThreads(ctx context.Context, retentionDays int, filter StatusFilter) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	statuses := []string(filter)
	if filter.All() {
		statuses = []string{StatusClosed, StatusPending, StatusPendingSupport}
	}

	var clauses []string
	var args []any
	for _, status := range statuses {
		if status == StatusClosed {
			clauses = append(clauses, "(status = 'closed' AND closed_at < ?)")
			args = append(args, cutoff)
			continue
		}
		if !validStatus(status) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		clauses = append(clauses, "(status = ?)")
		args = append(args, status)
	}
	if len(clauses) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"DELETE FROM threads WHERE "+strings.Join(clauses, " OR "), args...)
		if err != nil {
			return fmt.Errorf("reaping threads: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("getting rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("reaped thread records", "count", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

// CountOpenThreads returns the number of pending or pending_support threads.
func (s *SQLiteStore) CountOpenThreads(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM threads WHERE status IN ('pending', 'pending_support')
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting open threads: %w", err)
	}
	return count, nil
}

// Ensure SQLiteStore implements ConversationStore
var _ ConversationStore = (*SQLiteStore)(nil)
