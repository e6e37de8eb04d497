// ABOUTME: Prometheus counters for conversation flow and the metrics HTTP server
// ABOUTME: All metrics live under the helpdesk_ prefix

package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConversationsStarted counts new thread records created on a first
	// completed round-trip.
	ConversationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_conversations_started_total",
		Help: "Conversation threads created.",
	})

	// ConversationsClosed counts threads resolved, by cause.
	ConversationsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_conversations_closed_total",
		Help: "Conversation threads closed, labeled by cause.",
	}, []string{"cause"})

	// ConversationsEscalated counts hand-offs to human support.
	ConversationsEscalated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_conversations_escalated_total",
		Help: "Conversation threads escalated to human support.",
	})

	// BackendErrors counts failed answer dispatches, by reason.
	BackendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_backend_errors_total",
		Help: "Answer backend failures, labeled by reason.",
	}, []string{"reason"})

	// ThreadsReaped counts records removed by the retention sweep.
	ThreadsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_threads_reaped_total",
		Help: "Thread records deleted by the retention sweep.",
	})

	// TicketsCreated counts request tickets opened via text commands.
	TicketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_tickets_created_total",
		Help: "Request tickets created.",
	})

	// OpenThreads tracks how many threads are currently pending or escalated.
	OpenThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_open_threads",
		Help: "Threads currently pending or awaiting human support.",
	})
)

// Serve runs the metrics HTTP endpoint until ctx is cancelled.
func Serve(ctx context.Context, addr, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "metrics")

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
