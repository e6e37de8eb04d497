// ABOUTME: Text-command front end for the ticket store
// ABOUTME: Parses !migracao, !reindexar and !solicitacoes in allowed channels

package requests

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/platform"
)

// Commands handles ticket text commands ahead of the conversation flow.
type Commands struct {
	store  *Store
	conn   platform.Connector
	logger *slog.Logger
}

// NewCommands wires the command handler to a ticket store and a connector.
func NewCommands(store *Store, conn platform.Connector, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{
		store:  store,
		conn:   conn,
		logger: logger.With("component", "requests"),
	}
}

// Handle parses a ticket command. Returns true when the message was consumed;
// unrecognized commands fall through to the caller untouched.
func (c *Commands) Handle(ctx context.Context, ev *platform.MessageEvent) (bool, error) {
	fields := strings.Fields(ev.Message.Content)
	if len(fields) == 0 {
		return false, nil
	}

	threadID := ev.Message.ThreadID
	switch fields[0] {
	case "!migracao":
		return true, c.createTicket(ctx, threadID, KindMigration, fields, ev.Message.SenderID)
	case "!reindexar":
		return true, c.createTicket(ctx, threadID, KindReindex, fields, ev.Message.SenderID)
	case "!solicitacoes":
		return true, c.listTickets(ctx, threadID)
	}
	return false, nil
}

func (c *Commands) createTicket(ctx context.Context, threadID, kind string, fields []string, requester string) error {
	if len(fields) < 2 {
		_, err := c.conn.Send(ctx, threadID, fmt.Sprintf("Uso: %s <loja>", fields[0]))
		return err
	}
	storeName := strings.Join(fields[1:], " ")

	ticket, err := c.store.Create(ctx, kind, storeName, requester)
	if err != nil {
		if _, sendErr := c.conn.Send(ctx, threadID, "Não foi possível registrar a solicitação. Tente novamente."); sendErr != nil {
			c.logger.Error("ticket failure reply failed", "error", sendErr)
		}
		return fmt.Errorf("creating ticket: %w", err)
	}
	metrics.TicketsCreated.Inc()

	_, err = c.conn.Send(ctx, threadID,
		fmt.Sprintf("Solicitação de %s registrada para a loja **%s** (id `%s`).", kindLabel(kind), storeName, ticket.ID))
	return err
}

func (c *Commands) listTickets(ctx context.Context, threadID string) error {
	tickets, err := c.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing tickets: %w", err)
	}

	if len(tickets) == 0 {
		_, err = c.conn.Send(ctx, threadID, "Nenhuma solicitação aberta. 🎉")
		return err
	}

	var b strings.Builder
	b.WriteString("**Solicitações abertas:**\n")
	for _, t := range tickets {
		fmt.Fprintf(&b, "- `%s` %s — %s (por %s, %s)\n",
			t.ID, kindLabel(t.Kind), t.StoreName, t.Requester, t.CreatedAt.Format("2006-01-02"))
	}
	_, err = c.conn.Send(ctx, threadID, b.String())
	return err
}

func kindLabel(kind string) string {
	switch kind {
	case KindMigration:
		return "migração"
	case KindReindex:
		return "reindexação"
	}
	return kind
}
