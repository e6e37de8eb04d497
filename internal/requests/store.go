// ABOUTME: SQLite-backed ticket store for operational requests
// ABOUTME: One short-lived transaction per mutation, same idiom as the thread store

package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested ticket does not exist
var ErrNotFound = errors.New("ticket not found")

// Ticket kinds
const (
	KindMigration = "migracao"
	KindReindex   = "reindexacao"
)

// Ticket statuses
const (
	StatusOpen = "open"
	StatusDone = "done"
)

// Ticket is one tracked operational request.
type Ticket struct {
	ID        string
	Kind      string
	StoreName string // the shop the request targets
	Status    string
	Requester string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists request tickets in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the ticket database at path.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "requests")

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ticket store initialized", "path", path)
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS requests (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			store_name TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			requester  TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('open', 'done'))
		);

		CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
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

// Create opens a new ticket and returns it.
func (s *Store) Create(ctx context.Context, kind, storeName, requester string) (*Ticket, error) {
	now := time.Now().UTC()
	t := &Ticket{
		ID:        uuid.New().String(),
		Kind:      kind,
		StoreName: storeName,
		Status:    StatusOpen,
		Requester: requester,
		CreatedAt: now,
		UpdatedAt: now,
	}

	nowStr := now.Format(time.RFC3339)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO requests (id, kind, store_name, status, requester, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Kind, t.StoreName, t.Status, t.Requester, nowStr, nowStr)
		if err != nil {
			return fmt.Errorf("inserting ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ticket created",
		"id", t.ID, "kind", t.Kind, "store", t.StoreName, "requester", t.Requester)
	return t, nil
}

// Get retrieves one ticket by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, store_name, status, requester, created_at, updated_at
		FROM requests WHERE id = ?
	`, id)
	return scanTicket(row)
}

// ListOpen returns all open tickets, oldest first.
func (s *Store) ListOpen(ctx context.Context) ([]*Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, store_name, status, requester, created_at, updated_at
		FROM requests WHERE status = 'open' ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// SetStatus moves a ticket to the given status.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if status != StatusOpen && status != StatusDone {
		return fmt.Errorf("invalid ticket status %q", status)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE requests SET status = ?, updated_at = ? WHERE id = ?
		`, status, now, id)
		if err != nil {
			return fmt.Errorf("setting ticket status: %w", err)
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
}

// Reap deletes done tickets older than retentionDays and returns the count.
func (s *Store) Reap(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM requests WHERE status = 'done' AND updated_at < ?
		`, cutoff)
		if err != nil {
			return fmt.Errorf("reaping tickets: %w", err)
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
		s.logger.Info("reaped tickets", "count", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var t Ticket
	var createdAtStr, updatedAtStr string

	err := row.Scan(&t.ID, &t.Kind, &t.StoreName, &t.Status, &t.Requester, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ticket: %w", err)
	}

	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}
