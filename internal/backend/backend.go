// ABOUTME: AnswerBackend contract shared by the synchronous and asynchronous strategies
// ABOUTME: Query/Reply types mirror the orchestrator's /answer wire shape

package backend

import (
	"context"
	"errors"
)

// ErrTimeout marks a dispatch that ran out of time. The router apologizes and
// unlocks the thread; the store is left untouched so the user can retry.
var ErrTimeout = errors.New("backend request timed out")

// ErrMalformedReply marks a reply the backend produced but the gateway cannot
// use. Handled exactly like a transport failure.
var ErrMalformedReply = errors.New("malformed backend reply")

// Author identifies the user whose message is being answered.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Ref locates the message being answered on the platform.
type Ref struct {
	ThreadID  string `json:"thread_id"`
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Exchange is one history entry, role "user" or "assistant".
type Exchange struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Query is the request sent to the answer backend.
type Query struct {
	Message string     `json:"message"`
	Thread  Ref        `json:"thread"`
	Author  Author     `json:"author"`
	History []Exchange `json:"history"`
}

// Reply is the structured answer. GuardrailTriggered means the conversation
// ends here: the content is posted verbatim and the thread is archived.
type Reply struct {
	Content            string `json:"content"`
	AttachmentContent  string `json:"attachment_content"`
	GuardrailTriggered bool   `json:"guardrail_triggered"`
}

// Backend dispatches a query to the answer backend.
//
// Synchronous strategies block until the reply is available. Asynchronous
// strategies return (nil, nil) once the request is accepted; the reply
// arrives later as a correlated reply-channel event.
type Backend interface {
	Answer(ctx context.Context, q *Query) (*Reply, error)
}

// Moderator is the optional pre-dispatch moderation gate.
type Moderator interface {
	// Moderate reports whether the text is flagged.
	Moderate(ctx context.Context, text string) (bool, error)
}
