// ABOUTME: Asynchronous fire-and-forget strategy posting to a workflow webhook
// ABOUTME: The actual answer arrives later as a correlated reply-channel event

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultWebhookTimeout bounds the fire-and-forget dispatch.
const DefaultWebhookTimeout = 10 * time.Second

// Webhook is the asynchronous strategy: it only delivers the request. The
// workflow engine answers out of band through the reply channel.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook creates an asynchronous webhook backend. A zero timeout uses the default.
func NewWebhook(url string, timeout time.Duration, logger *slog.Logger) *Webhook {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "backend", "mode", "webhook"),
	}
}

// Answer fires the request and returns (nil, nil) once it is accepted.
// History is omitted: the workflow rebuilds its own context.
func (w *Webhook) Answer(ctx context.Context, q *Query) (*Reply, error) {
	payload := *q
	payload.History = nil

	body, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("calling webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	w.logger.Debug("webhook accepted request", "thread_id", q.Thread.ThreadID)
	return nil, nil
}

// Ensure Webhook implements Backend
var _ Backend = (*Webhook)(nil)
