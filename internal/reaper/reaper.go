// ABOUTME: Reaper runs the periodic retention sweep over conversation records
// ABOUTME: Sweeps once at startup, then on every interval tick

package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/store"
)

const (
	defaultInterval      = 24 * time.Hour
	defaultRetentionDays = 30
)

// Options configures a Reaper.
type Options struct {
	Store         store.ConversationStore
	Interval      time.Duration
	RetentionDays int
	// Statuses selects which records a sweep considers. Defaults to
	// closed records only.
	Statuses store.StatusFilter
	Logger   *slog.Logger
}

// Reaper periodically deletes aged conversation records.
type Reaper struct {
	store    store.ConversationStore
	interval time.Duration
	days     int
	statuses store.StatusFilter
	logger   *slog.Logger
}

// New creates a reaper with defaults filled in.
func New(opts Options) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaultRetentionDays
	}
	if len(opts.Statuses) == 0 {
		opts.Statuses = store.StatusFilter{store.StatusClosed}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reaper{
		store:    opts.Store,
		interval: opts.Interval,
		days:     opts.RetentionDays,
		statuses: opts.Statuses,
		logger:   opts.Logger.With("component", "reaper"),
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one reap pass and refreshes the open-thread gauge.
func (r *Reaper) Sweep(ctx context.Context) {
	deleted, err := r.store.ReapThreads(ctx, r.days, r.statuses)
	if err != nil {
		r.logger.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		metrics.ThreadsReaped.Add(float64(deleted))
		r.logger.Info("retention sweep completed",
			"deleted", deleted, "retention_days", r.days, "statuses", []string(r.statuses))
	}

	if open, err := r.store.CountOpenThreads(ctx); err == nil {
		metrics.OpenThreads.Set(float64(open))
	}
}
