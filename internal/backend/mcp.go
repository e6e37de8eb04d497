// ABOUTME: Synchronous MCP strategy calling the docs orchestrator's answer tool
// ABOUTME: Same capability as the HTTP strategy, spoken natively over MCP

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// answerTool is the tool name the docs orchestrator exposes.
const answerTool = "answer"

// MCP is the synchronous strategy speaking MCP over streamable HTTP.
type MCP struct {
	client  *mcpclient.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewMCP creates an MCP backend against the given streamable-HTTP endpoint.
// Connect must be called before the first Answer.
func NewMCP(url string, timeout time.Duration, logger *slog.Logger) (*MCP, error) {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}

	client, err := mcpclient.NewStreamableHttpClient(url)
	if err != nil {
		return nil, fmt.Errorf("creating mcp client: %w", err)
	}

	return &MCP{
		client:  client,
		timeout: timeout,
		logger:  logger.With("component", "backend", "mode", "mcp"),
	}, nil
}

// Connect starts the transport and performs the initialize handshake.
func (m *MCP) Connect(ctx context.Context) error {
	if err := m.client.Start(ctx); err != nil {
		return fmt.Errorf("starting mcp transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "helpdesk-gateway",
		Version: "1.0.0",
	}

	if _, err := m.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initializing mcp session: %w", err)
	}

	m.logger.Info("mcp backend connected")
	return nil
}

// Close shuts down the MCP transport.
func (m *MCP) Close() error {
	return m.client.Close()
}

// Answer calls the answer tool and decodes its JSON text result.
func (m *MCP) Answer(ctx context.Context, q *Query) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	history, err := json.Marshal(q.History)
	if err != nil {
		return nil, fmt.Errorf("encoding history: %w", err)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = answerTool
	req.Params.Arguments = map[string]any{
		"message":             q.Message,
		"thread_id":           q.Thread.ThreadID,
		"channel_id":          q.Thread.ChannelID,
		"message_id":          q.Thread.MessageID,
		"author_id":           q.Author.ID,
		"author_username":     q.Author.Username,
		"author_display_name": q.Author.DisplayName,
		"history":             string(history),
	}

	start := time.Now()
	result, err := m.client.CallTool(ctx, req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("calling answer tool: %w", err)
	}
	if result.IsError {
		return nil, fmt.Errorf("answer tool reported an error")
	}

	reply, err := decodeToolReply(result)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("mcp backend answered",
		"thread_id", q.Thread.ThreadID,
		"elapsed", time.Since(start),
		"guardrail", reply.GuardrailTriggered)
	return reply, nil
}

// decodeToolReply extracts the Reply JSON from the first text content block.
func decodeToolReply(result *mcp.CallToolResult) (*Reply, error) {
	for _, content := range result.Content {
		text, ok := mcp.AsTextContent(content)
		if !ok {
			continue
		}
		var reply Reply
		if err := json.Unmarshal([]byte(text.Text), &reply); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
		if reply.Content == "" {
			return nil, fmt.Errorf("%w: empty content", ErrMalformedReply)
		}
		return &reply, nil
	}
	return nil, fmt.Errorf("%w: no text content", ErrMalformedReply)
}

// Ensure MCP implements Backend
var _ Backend = (*MCP)(nil)
