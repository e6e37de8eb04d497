// ABOUTME: Tests for the SQLite ticket store
// ABOUTME: Covers CRUD, listing order and retention reaping

package requests

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "requests.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// backdate rewrites updated_at so retention tests don't wait.
func backdate(t *testing.T, s *Store, id string, age time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-age).Format(time.RFC3339)
	_, err := s.db.Exec("UPDATE requests SET updated_at = ? WHERE id = ?", past, id)
	require.NoError(t, err)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticket, err := s.Create(ctx, KindMigration, "loja-das-flores", "@gil:example.org")
	require.NoError(t, err)
	require.NotEmpty(t, ticket.ID)

	got, err := s.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, KindMigration, got.Kind)
	assert.Equal(t, "loja-das-flores", got.StoreName)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Equal(t, "@gil:example.org", got.Requester)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOpen_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, KindMigration, "loja-a", "@gil:example.org")
	require.NoError(t, err)
	second, err := s.Create(ctx, KindReindex, "loja-b", "@gil:example.org")
	require.NoError(t, err)
	backdate(t, s, first.ID, time.Hour)
	_, err = s.db.Exec("UPDATE requests SET created_at = updated_at WHERE id = ?", first.ID)
	require.NoError(t, err)

	done, err := s.Create(ctx, KindReindex, "loja-c", "@gil:example.org")
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, done.ID, StatusDone))

	tickets, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, tickets, 2)
	assert.Equal(t, first.ID, tickets[0].ID)
	assert.Equal(t, second.ID, tickets[1].ID)
}

func TestSetStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticket, err := s.Create(ctx, KindReindex, "loja-x", "@gil:example.org")
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(ctx, ticket.ID, StatusDone))
	got, err := s.Get(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)

	assert.ErrorIs(t, s.SetStatus(ctx, "missing", StatusDone), ErrNotFound)
	assert.Error(t, s.SetStatus(ctx, ticket.ID, "bogus"))
}

func TestReap_RemovesOnlyAgedDoneTickets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	oldDone, err := s.Create(ctx, KindMigration, "loja-velha", "@gil:example.org")
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, oldDone.ID, StatusDone))
	backdate(t, s, oldDone.ID, 40*24*time.Hour)

	freshDone, err := s.Create(ctx, KindMigration, "loja-nova", "@gil:example.org")
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, freshDone.ID, StatusDone))

	oldOpen, err := s.Create(ctx, KindReindex, "loja-aberta", "@gil:example.org")
	require.NoError(t, err)
	backdate(t, s, oldOpen.ID, 40*24*time.Hour)

	deleted, err := s.Reap(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.Get(ctx, oldDone.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, freshDone.ID)
	assert.NoError(t, err)
	_, err = s.Get(ctx, oldOpen.ID)
	assert.NoError(t, err, "open tickets are never reaped")
}
