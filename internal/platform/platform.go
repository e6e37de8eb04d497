// ABOUTME: Connector interface and event types decoupling the router from chat SDKs
// ABOUTME: Threads, messages, reactions and thread-lifecycle events in platform-neutral form

package platform

import (
	"context"
	"errors"
)

// ErrThreadNotFound is returned when a thread cannot be resolved on the platform
var ErrThreadNotFound = errors.New("thread not found on platform")

// ErrMessageNotFound is returned when a message cannot be fetched
var ErrMessageNotFound = errors.New("message not found on platform")

// Thread is the platform-side view of a support thread.
type Thread struct {
	ID        string
	ChannelID string // parent channel the thread hangs off
	OwnerID   string // user who started the thread
}

// Attachment is a file posted alongside a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is a platform message in connector-neutral form.
type Message struct {
	ID       string
	ThreadID string
	SenderID string
	// SenderBot marks messages authored by this bot or a configured bot peer
	// (e.g. the webhook relay that posts asynchronous backend replies).
	SenderBot   bool
	Content     string
	Attachments []Attachment
	// Fields carries the structured correlation envelope of backend reply
	// messages; empty for ordinary user messages.
	Fields map[string]string
}

// ThreadEdit describes a partial update of a thread's lifecycle flags.
// Nil fields are left unchanged.
type ThreadEdit struct {
	Locked   *bool
	Archived *bool
}

// Bool is a convenience for building ThreadEdit literals.
func Bool(v bool) *bool { return &v }

// Connector is the outbound surface of a chat platform.
type Connector interface {
	// Send posts a message to a thread and returns the new message id.
	Send(ctx context.Context, threadID, content string, attachments ...Attachment) (string, error)

	// Edit applies lock/archive changes to a thread.
	Edit(ctx context.Context, threadID string, edit ThreadEdit) error

	// React adds an emoji reaction to a message.
	React(ctx context.Context, threadID, messageID, emoji string) error

	// Pin pins a message in its thread.
	Pin(ctx context.Context, threadID, messageID string) error

	// FetchMessage retrieves a single message.
	FetchMessage(ctx context.Context, threadID, messageID string) (*Message, error)

	// History returns up to limit messages from the thread. When oldestFirst
	// is true the slice runs chronologically.
	History(ctx context.Context, threadID string, limit int, oldestFirst bool) ([]*Message, error)

	// Thread resolves thread metadata, preferring a local cache and falling
	// back to a direct platform lookup.
	Thread(ctx context.Context, threadID string) (*Thread, error)
}

// MessageEvent is delivered for every non-self message the connector sees.
type MessageEvent struct {
	EventID   string
	ChannelID string
	Message   Message
}

// ReactionEvent is delivered when a user reacts to a message.
type ReactionEvent struct {
	EventID  string
	ThreadID string
	// MessageID is the message the reaction targets.
	MessageID string
	UserID    string
	Emoji     string
}

// ArchiveEvent is delivered when a thread's archived flag changes.
type ArchiveEvent struct {
	EventID  string
	ThreadID string
	Archived bool
}

// DeleteEvent is delivered when the platform deletes a thread.
type DeleteEvent struct {
	EventID  string
	ThreadID string
}

// Handler consumes inbound platform events. Implementations must not block
// the connector's sync loop; long work belongs in goroutines.
type Handler interface {
	OnMessage(ctx context.Context, ev *MessageEvent)
	OnReaction(ctx context.Context, ev *ReactionEvent)
	OnThreadArchived(ctx context.Context, ev *ArchiveEvent)
	OnThreadDeleted(ctx context.Context, ev *DeleteEvent)
}
