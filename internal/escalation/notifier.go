// ABOUTME: Notifier posts escalation notices to the configured support channel
// ABOUTME: Failures are logged and swallowed, never returned to the caller

package escalation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/helpdesk-gateway/internal/messages"
	"github.com/2389/helpdesk-gateway/internal/platform"
)

// Notifier posts structured hand-off notices to one fixed support channel.
type Notifier struct {
	conn      platform.Connector
	channelID string
	catalog   *messages.Catalog
	logger    *slog.Logger
}

// New creates a notifier for the given support channel.
func New(conn platform.Connector, channelID string, catalog *messages.Catalog, logger *slog.Logger) *Notifier {
	if catalog == nil {
		catalog = messages.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		conn:      conn,
		channelID: channelID,
		catalog:   catalog,
		logger:    logger.With("component", "escalation"),
	}
}

// Notify posts the escalation notice referencing the thread and the user who
// requested help. Best effort: a failed post is logged and dropped.
func (n *Notifier) Notify(ctx context.Context, threadID, userID string) {
	if n.channelID == "" {
		n.logger.Warn("no support channel configured, escalation notice dropped",
			"thread_id", threadID)
		return
	}

	text := fmt.Sprintf(n.catalog.EscalationNotice, threadID, userID)
	if _, err := n.conn.Send(ctx, n.channelID, text); err != nil {
		n.logger.Error("escalation notice post failed",
			"error", err, "channel_id", n.channelID, "thread_id", threadID)
		return
	}
	n.logger.Info("escalation notice posted", "thread_id", threadID, "user_id", userID)
}
