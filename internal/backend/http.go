// ABOUTME: Synchronous HTTP strategy calling the orchestrator's POST /answer
// ABOUTME: Also implements the optional moderation pre-check endpoint

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultSyncTimeout bounds a blocking orchestrator call.
const DefaultSyncTimeout = 120 * time.Second

// HTTP is the synchronous call-and-wait strategy against the orchestrator.
type HTTP struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTP creates a synchronous HTTP backend. A zero timeout uses the default.
func NewHTTP(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTP {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "backend", "mode", "http"),
	}
}

// Answer blocks until the orchestrator replies or the timeout fires.
func (h *HTTP) Answer(ctx context.Context, q *Query) (*Reply, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/answer", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("calling orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("orchestrator returned status %d", resp.StatusCode)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if reply.Content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedReply)
	}

	h.logger.Debug("orchestrator answered",
		"thread_id", q.Thread.ThreadID,
		"elapsed", time.Since(start),
		"guardrail", reply.GuardrailTriggered)
	return &reply, nil
}

// Moderate calls the optional moderation endpoint; only wired when the
// orchestrator exposes it.
func (h *HTTP) Moderate(ctx context.Context, text string) (bool, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return false, fmt.Errorf("encoding moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/moderate", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return false, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return false, fmt.Errorf("calling moderation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("moderation returned status %d", resp.StatusCode)
	}

	var result struct {
		Flagged bool `json:"flagged"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return result.Flagged, nil
}

// isTimeout recognizes deadline and net-level timeout failures.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// Ensure HTTP implements both roles
var (
	_ Backend   = (*HTTP)(nil)
	_ Moderator = (*HTTP)(nil)
)
