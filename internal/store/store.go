// ABOUTME: ConversationStore interface and data types for helpdesk-gateway persistence
// ABOUTME: Defines the ConversationThread record and the contract all stores implement

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrThreadExists is returned when Create races with an existing record.
// Callers treat it as "lost the creation race" and carry on with the winner's row.
var ErrThreadExists = errors.New("thread record already exists")

// ErrInvalidStatus is returned when a status outside the known set is supplied
var ErrInvalidStatus = errors.New("invalid thread status")

// Thread status values
const (
	StatusPending        = "pending"         // automated answering in progress
	StatusPendingSupport = "pending_support" // escalated to humans, bot suspended
	StatusClosed         = "closed"          // resolved and archived
)

// ConversationThread is the persisted state of one support thread.
type ConversationThread struct {
	ThreadID         string
	OwnerUserID      string
	PendingMessageID string // last bot prompt still awaiting a reaction
	IterationCount   int    // completed backend round-trips, never decremented
	Status           string
	ClosedAt         *time.Time // set exactly when Status == closed
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Open reports whether the thread still accepts automated answering.
func (t *ConversationThread) Open() bool {
	return t.Status == StatusPending
}

// StatusFilter selects which statuses a reap pass considers.
type StatusFilter []string

// AllStatuses is the sentinel filter matching every status.
var AllStatuses = StatusFilter{"ALL"}

// All reports whether the filter is the match-everything sentinel.
func (f StatusFilter) All() bool {
	for _, s := range f {
		if s == "ALL" {
			return true
		}
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case StatusPending, StatusPendingSupport, StatusClosed:
		return true
	}
	return false
}

// ConversationStore defines the persistence contract for conversation threads.
type ConversationStore interface {
	// GetThread retrieves a thread record. Returns ErrNotFound if absent.
	GetThread(ctx context.Context, threadID string) (*ConversationThread, error)

	// CreateThread inserts a new record for the first completed round-trip of a
	// thread. At most one call succeeds per threadID; losers get ErrThreadExists.
	CreateThread(ctx context.Context, threadID, ownerUserID, pendingMessageID string) error

	// UpdateThread records a completed backend round-trip: new pending prompt,
	// iteration count incremented by exactly one, status reset to pending.
	// Returns ErrNotFound if no record exists.
	UpdateThread(ctx context.Context, threadID, pendingMessageID string) error

	// SetThreadStatus changes only the status (escalation to pending_support).
	// It never touches the iteration count. Returns ErrNotFound if absent.
	SetThreadStatus(ctx context.Context, threadID, status string) error

	// CloseThread marks the thread closed and stamps closed_at once. Idempotent:
	// closing an already-closed thread succeeds without rewriting closed_at.
	CloseThread(ctx context.Context, threadID string) error

	// DeleteThread removes the record. Returns ErrNotFound if absent.
	DeleteThread(ctx context.Context, threadID string) error

	// ReapThreads deletes aged records and returns how many were removed.
	// Closed rows match when closed_at is older than retentionDays. Open rows
	// (pending, pending_support) carry no age timestamp and are removed
	// unconditionally whenever their status is included in the filter.
	ReapThreads(ctx context.Context, retentionDays int, filter StatusFilter) (int64, error)

	// CountOpenThreads returns how many threads are pending or pending_support.
	CountOpenThreads(ctx context.Context) (int, error)

	// Close releases any resources held by the store
	Close() error
}
