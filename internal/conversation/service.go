// ABOUTME: Service is the event router and state machine for support threads
// ABOUTME: Guards run as an ordered pipeline before any state mutation

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/2389/helpdesk-gateway/internal/backend"
	"github.com/2389/helpdesk-gateway/internal/dedupe"
	"github.com/2389/helpdesk-gateway/internal/messages"
	"github.com/2389/helpdesk-gateway/internal/metrics"
	"github.com/2389/helpdesk-gateway/internal/platform"
	"github.com/2389/helpdesk-gateway/internal/store"
)

// Reply-channel correlation envelope. Messages in the reply channel are
// acted on only when they carry these fields; everything else is ignored.
const (
	envelopeSource     = "source"
	envelopeThreadID   = "thread_id"
	envelopeEventType  = "event_type"
	envelopeAttachment = "attachment_content"

	replySourceTag = "workflow"

	eventTypeAnswer    = "answer"
	eventTypeGuardrail = "guardrail"
)

// Resolution reaction emoji offered on the feedback prompt.
const (
	emojiResolved  = "✅"
	emojiReopen    = "❌"
	emojiEscalate  = "💬"
	attachmentName = "resposta.txt"
)

// defaultHistoryExchanges is how many user/assistant pairs a dispatch carries.
const defaultHistoryExchanges = 2

// Notifier posts the escalation notice to the support channel. Best effort:
// implementations log failures and never return them.
type Notifier interface {
	Notify(ctx context.Context, threadID, userID string)
}

// CommandHandler intercepts text commands in allowed channels before the
// answer flow runs. Returns true when the message was consumed.
type CommandHandler interface {
	Handle(ctx context.Context, ev *platform.MessageEvent) (bool, error)
}

// Options configures a Service.
type Options struct {
	Store     store.ConversationStore
	Connector platform.Connector
	Backend   backend.Backend
	Moderator backend.Moderator // optional pre-dispatch gate
	Notifier  Notifier          // optional, escalation silently skipped when nil
	Commands  CommandHandler    // optional
	Catalog   *messages.Catalog
	Dedupe    *dedupe.Cache

	// AllowedChannels restricts the flow to threads under these channels.
	// Empty means every channel.
	AllowedChannels []string
	// ReplyChannel is where asynchronous backend replies arrive.
	ReplyChannel string
	// HistoryExchanges caps the user/assistant pairs sent to the backend.
	HistoryExchanges int
	// Deferred selects the acknowledgement text for the asynchronous
	// strategy. Set once at startup alongside the backend choice.
	Deferred bool

	Logger *slog.Logger
}

// Service consumes platform events and drives the conversation state machine.
type Service struct {
	store     store.ConversationStore
	conn      platform.Connector
	backend   backend.Backend
	moderator backend.Moderator
	notifier  Notifier
	commands  CommandHandler
	catalog   *messages.Catalog
	dedupe    *dedupe.Cache
	logger    *slog.Logger

	allowed      map[string]bool
	replyChannel string
	exchanges    int
	ackText      string

	// inFlight holds thread ids with a dispatch running, so a burst of
	// messages in one thread triggers a single round-trip.
	inFlight sync.Map
}

// New creates the router. Store, Connector, Backend and Dedupe are required.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Connector == nil || opts.Backend == nil || opts.Dedupe == nil {
		return nil, errors.New("conversation: store, connector, backend and dedupe are required")
	}
	if opts.Catalog == nil {
		opts.Catalog = messages.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistoryExchanges <= 0 {
		opts.HistoryExchanges = defaultHistoryExchanges
	}

	allowed := make(map[string]bool, len(opts.AllowedChannels))
	for _, ch := range opts.AllowedChannels {
		allowed[ch] = true
	}

	ack := opts.Catalog.Ack
	if opts.Deferred {
		ack = opts.Catalog.AckDeferred
	}

	return &Service{
		store:        opts.Store,
		conn:         opts.Connector,
		backend:      opts.Backend,
		moderator:    opts.Moderator,
		notifier:     opts.Notifier,
		commands:     opts.Commands,
		catalog:      opts.Catalog,
		dedupe:       opts.Dedupe,
		logger:       opts.Logger.With("component", "conversation"),
		allowed:      allowed,
		replyChannel: opts.ReplyChannel,
		exchanges:    opts.HistoryExchanges,
		ackText:      ack,
	}, nil
}

// OnMessage handles an inbound message event.
func (s *Service) OnMessage(ctx context.Context, ev *platform.MessageEvent) {
	if s.dedupe.Seen(ev.EventID) {
		return
	}

	if s.replyChannel != "" && ev.ChannelID == s.replyChannel {
		s.handleBackendReply(ctx, ev)
		return
	}

	if ev.Message.SenderBot {
		return
	}
	if len(s.allowed) > 0 && !s.allowed[ev.ChannelID] {
		return
	}

	if s.commands != nil && strings.HasPrefix(ev.Message.Content, "!") {
		handled, err := s.commands.Handle(ctx, ev)
		if err != nil {
			s.logger.Error("command failed", "error", err, "thread_id", ev.Message.ThreadID)
		}
		if handled || err != nil {
			return
		}
	}

	threadID := ev.Message.ThreadID
	record, err := s.store.GetThread(ctx, threadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("store lookup failed", "error", err, "thread_id", threadID)
		return
	}
	if record != nil && !record.Open() {
		s.logger.Debug("message in inactive thread ignored",
			"thread_id", threadID, "status", record.Status)
		return
	}

	if _, busy := s.inFlight.LoadOrStore(threadID, struct{}{}); busy {
		s.logger.Debug("dispatch already in flight", "thread_id", threadID)
		return
	}
	defer s.inFlight.Delete(threadID)

	if s.moderator != nil {
		flagged, err := s.moderator.Moderate(ctx, ev.Message.Content)
		if err != nil {
			s.logger.Warn("moderation check failed, allowing message",
				"error", err, "thread_id", threadID)
		} else if flagged {
			s.blockModerated(ctx, threadID, record != nil)
			return
		}
	}

	// Write-lock the thread for the whole round-trip.
	if err := s.conn.Edit(ctx, threadID, platform.ThreadEdit{Locked: platform.Bool(true)}); err != nil {
		s.logger.Error("thread lock failed", "error", err, "thread_id", threadID)
		return
	}

	if _, err := s.conn.Send(ctx, threadID, s.ackText); err != nil {
		s.logger.Warn("ack post failed", "error", err, "thread_id", threadID)
	}

	history, err := s.buildHistory(ctx, threadID, ev.Message.ID)
	if err != nil {
		s.logger.Warn("history build failed, dispatching without it",
			"error", err, "thread_id", threadID)
		history = nil
	}

	query := &backend.Query{
		Message: ev.Message.Content,
		Thread: backend.Ref{
			ThreadID:  threadID,
			ChannelID: ev.ChannelID,
			MessageID: ev.Message.ID,
		},
		Author:  backend.Author{ID: ev.Message.SenderID, Username: ev.Message.SenderID},
		History: history,
	}

	reply, err := s.backend.Answer(ctx, query)
	if err != nil {
		s.apologize(ctx, threadID, ev.Message.SenderID, err)
		return
	}
	if reply == nil {
		// Asynchronous strategy: the answer arrives later in the reply
		// channel. The thread stays locked until then.
		s.logger.Debug("dispatch deferred", "thread_id", threadID)
		return
	}

	s.postAnswer(ctx, threadID, ev.Message.SenderID, reply)
}

// OnReaction handles a reaction on the current feedback prompt. Guards run
// in order; the first failing guard ends handling with no mutation.
func (s *Service) OnReaction(ctx context.Context, ev *platform.ReactionEvent) {
	if s.dedupe.Seen(ev.EventID) {
		return
	}

	switch ev.Emoji {
	case emojiResolved, emojiReopen, emojiEscalate:
	default:
		return
	}

	record, err := s.store.GetThread(ctx, ev.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("store lookup failed", "error", err, "thread_id", ev.ThreadID)
		return
	}
	if record.Status != store.StatusPending {
		return
	}
	if ev.UserID != record.OwnerUserID {
		s.logger.Debug("reaction from non-starter ignored",
			"thread_id", ev.ThreadID, "user_id", ev.UserID)
		return
	}
	if ev.MessageID != record.PendingMessageID {
		s.logger.Debug("reaction on stale prompt ignored",
			"thread_id", ev.ThreadID, "message_id", ev.MessageID)
		return
	}
	if ev.Emoji == emojiEscalate && record.IterationCount < 2 {
		return
	}

	switch ev.Emoji {
	case emojiResolved:
		s.closeThread(ctx, ev.ThreadID, "resolved")
	case emojiReopen:
		s.reopenThread(ctx, ev.ThreadID)
	case emojiEscalate:
		s.escalateThread(ctx, ev.ThreadID, ev.UserID)
	}
}

// OnThreadArchived closes the record when the platform archives a thread.
func (s *Service) OnThreadArchived(ctx context.Context, ev *platform.ArchiveEvent) {
	if s.dedupe.Seen(ev.EventID) {
		return
	}
	if !ev.Archived {
		return
	}

	record, err := s.store.GetThread(ctx, ev.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("store lookup failed", "error", err, "thread_id", ev.ThreadID)
		return
	}
	if record.Status == store.StatusClosed {
		return
	}

	s.closeThread(ctx, ev.ThreadID, "archived")
}

// OnThreadDeleted removes the record for a deleted thread.
func (s *Service) OnThreadDeleted(ctx context.Context, ev *platform.DeleteEvent) {
	if s.dedupe.Seen(ev.EventID) {
		return
	}
	err := s.store.DeleteThread(ctx, ev.ThreadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("record delete failed", "error", err, "thread_id", ev.ThreadID)
		return
	}
	s.logger.Info("thread record removed", "thread_id", ev.ThreadID)
}

// handleBackendReply completes the asynchronous leg: a correlated message in
// the reply channel carrying the workflow's answer.
func (s *Service) handleBackendReply(ctx context.Context, ev *platform.MessageEvent) {
	if !ev.Message.SenderBot {
		return
	}
	fields := ev.Message.Fields
	if fields[envelopeSource] != replySourceTag {
		return
	}
	threadID := fields[envelopeThreadID]
	if threadID == "" {
		s.logger.Warn("backend reply without thread_id dropped", "event_id", ev.EventID)
		return
	}

	thread, err := s.conn.Thread(ctx, threadID)
	if err != nil {
		s.logger.Error("backend reply for unresolvable thread dropped",
			"error", err, "thread_id", threadID)
		return
	}

	// Re-check the store: the thread may have been closed or escalated
	// while the workflow was running.
	record, err := s.store.GetThread(ctx, threadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("store lookup failed", "error", err, "thread_id", threadID)
		return
	}
	if record != nil && !record.Open() {
		s.logger.Debug("stale backend reply dropped",
			"thread_id", threadID, "status", record.Status)
		return
	}

	reply := &backend.Reply{
		Content:            ev.Message.Content,
		AttachmentContent:  fields[envelopeAttachment],
		GuardrailTriggered: fields[envelopeEventType] == eventTypeGuardrail,
	}

	owner := thread.OwnerID
	if record != nil {
		owner = record.OwnerUserID
	} else if owner == "" {
		// First turn with no platform-side owner metadata: the thread
		// starter message carries the author.
		if starter, err := s.conn.FetchMessage(ctx, threadID, threadID); err == nil {
			owner = starter.SenderID
		} else {
			s.logger.Warn("thread starter fetch failed", "error", err, "thread_id", threadID)
		}
	}

	s.postAnswer(ctx, threadID, owner, reply)
}

// postAnswer is the shared success and guardrail path for both strategies.
// On success the thread stays locked: the feedback prompt's reactions are
// the only way forward until the user reopens, resolves or escalates.
func (s *Service) postAnswer(ctx context.Context, threadID, ownerID string, reply *backend.Reply) {
	if reply.GuardrailTriggered {
		if _, err := s.conn.Send(ctx, threadID, reply.Content); err != nil {
			s.logger.Error("guardrail message post failed", "error", err, "thread_id", threadID)
		}
		if err := s.conn.Edit(ctx, threadID, platform.ThreadEdit{
			Archived: platform.Bool(true),
			Locked:   platform.Bool(true),
		}); err != nil {
			s.logger.Error("guardrail archive failed", "error", err, "thread_id", threadID)
		}
		if err := s.store.CloseThread(ctx, threadID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("guardrail close failed", "error", err, "thread_id", threadID)
		}
		metrics.ConversationsClosed.WithLabelValues("guardrail").Inc()
		s.logger.Info("conversation ended by guardrail", "thread_id", threadID)
		return
	}

	var attachments []platform.Attachment
	if reply.AttachmentContent != "" {
		attachments = append(attachments, platform.Attachment{
			Filename:    attachmentName,
			ContentType: "text/plain",
			Content:     []byte(reply.AttachmentContent),
		})
	}
	if _, err := s.conn.Send(ctx, threadID, reply.Content, attachments...); err != nil {
		s.logger.Error("answer post failed", "error", err, "thread_id", threadID)
		s.unlock(ctx, threadID)
		return
	}

	record, err := s.store.GetThread(ctx, threadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("store lookup failed", "error", err, "thread_id", threadID)
		s.unlock(ctx, threadID)
		return
	}

	// The escalation option appears from the second round-trip onward.
	withSupport := record != nil && record.IterationCount+1 >= 2
	prompt := s.catalog.Prompt
	if withSupport {
		prompt = s.catalog.PromptWithSupport
	}

	promptID, err := s.conn.Send(ctx, threadID, prompt)
	if err != nil {
		s.logger.Error("feedback prompt post failed", "error", err, "thread_id", threadID)
		s.unlock(ctx, threadID)
		return
	}

	// Seed the prompt with the reactions it offers so the user taps
	// instead of typing.
	seed := []string{emojiResolved, emojiReopen}
	if withSupport {
		seed = append(seed, emojiEscalate)
	}
	for _, emoji := range seed {
		if err := s.conn.React(ctx, threadID, promptID, emoji); err != nil {
			s.logger.Warn("prompt reaction seed failed",
				"error", err, "thread_id", threadID, "emoji", emoji)
		}
	}

	if record == nil {
		err = s.store.CreateThread(ctx, threadID, ownerID, promptID)
		if errors.Is(err, store.ErrThreadExists) {
			// Lost the creation race; record this round-trip on the
			// winner's row.
			err = s.store.UpdateThread(ctx, threadID, promptID)
		} else if err == nil {
			metrics.ConversationsStarted.Inc()
		}
	} else {
		err = s.store.UpdateThread(ctx, threadID, promptID)
	}
	if err != nil {
		// Platform-side actions are not rolled back; a missing record
		// self-heals on the next message.
		s.logger.Error("record write failed", "error", err, "thread_id", threadID)
	}

	s.logger.Info("round-trip completed", "thread_id", threadID, "prompt_id", promptID)
}

func (s *Service) closeThread(ctx context.Context, threadID, cause string) {
	markerID, err := s.conn.Send(ctx, threadID, s.catalog.Closed)
	if err != nil {
		s.logger.Error("closing marker post failed", "error", err, "thread_id", threadID)
	} else if err := s.conn.Pin(ctx, threadID, markerID); err != nil {
		s.logger.Warn("closing marker pin failed", "error", err, "thread_id", threadID)
	}

	if err := s.conn.Edit(ctx, threadID, platform.ThreadEdit{
		Archived: platform.Bool(true),
		Locked:   platform.Bool(true),
	}); err != nil {
		s.logger.Error("thread archive failed", "error", err, "thread_id", threadID)
	}

	if err := s.store.CloseThread(ctx, threadID); err != nil {
		s.logger.Error("record close failed", "error", err, "thread_id", threadID)
		return
	}
	metrics.ConversationsClosed.WithLabelValues(cause).Inc()
	s.logger.Info("conversation closed", "thread_id", threadID, "cause", cause)
}

func (s *Service) reopenThread(ctx context.Context, threadID string) {
	if _, err := s.conn.Send(ctx, threadID, s.catalog.Reopened); err != nil {
		s.logger.Warn("reopen message post failed", "error", err, "thread_id", threadID)
	}
	s.unlock(ctx, threadID)
	s.logger.Info("conversation reopened", "thread_id", threadID)
}

func (s *Service) escalateThread(ctx context.Context, threadID, userID string) {
	if err := s.store.SetThreadStatus(ctx, threadID, store.StatusPendingSupport); err != nil {
		s.logger.Error("escalation status write failed", "error", err, "thread_id", threadID)
		return
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, threadID, userID)
	}
	if _, err := s.conn.Send(ctx, threadID, s.catalog.Escalated); err != nil {
		s.logger.Warn("escalation message post failed", "error", err, "thread_id", threadID)
	}
	s.unlock(ctx, threadID)
	metrics.ConversationsEscalated.Inc()
	s.logger.Info("conversation escalated", "thread_id", threadID, "user_id", userID)
}

// blockModerated ends a conversation flagged by the moderation gate.
func (s *Service) blockModerated(ctx context.Context, threadID string, hasRecord bool) {
	if _, err := s.conn.Send(ctx, threadID, s.catalog.ModerationBlocked); err != nil {
		s.logger.Error("moderation message post failed", "error", err, "thread_id", threadID)
	}
	if err := s.conn.Edit(ctx, threadID, platform.ThreadEdit{
		Archived: platform.Bool(true),
		Locked:   platform.Bool(true),
	}); err != nil {
		s.logger.Error("moderation archive failed", "error", err, "thread_id", threadID)
	}
	if hasRecord {
		if err := s.store.CloseThread(ctx, threadID); err != nil {
			s.logger.Error("moderation close failed", "error", err, "thread_id", threadID)
		}
	}
	metrics.ConversationsClosed.WithLabelValues("moderation").Inc()
	s.logger.Info("message blocked by moderation", "thread_id", threadID)
}

// apologize posts the failure reply and unlocks the thread. The store is
// left untouched so re-sending the message retries.
func (s *Service) apologize(ctx context.Context, threadID, userID string, cause error) {
	var text, reason string
	switch {
	case errors.Is(cause, backend.ErrTimeout):
		text, reason = s.catalog.ApologyTimeout, "timeout"
	case errors.Is(cause, backend.ErrMalformedReply):
		text, reason = s.catalog.ApologyInternal, "malformed_reply"
	default:
		text, reason = s.catalog.ApologyTransport, "transport"
	}
	metrics.BackendErrors.WithLabelValues(reason).Inc()
	s.logger.Error("answer dispatch failed",
		"error", cause, "thread_id", threadID, "reason", reason)

	if _, err := s.conn.Send(ctx, threadID, fmt.Sprintf(text, mention(userID))); err != nil {
		s.logger.Error("apology post failed", "error", err, "thread_id", threadID)
	}
	s.unlock(ctx, threadID)
}

func (s *Service) unlock(ctx context.Context, threadID string) {
	if err := s.conn.Edit(ctx, threadID, platform.ThreadEdit{Locked: platform.Bool(false)}); err != nil {
		s.logger.Error("thread unlock failed", "error", err, "thread_id", threadID)
	}
}

// mention renders a user reference in message text.
func mention(userID string) string {
	return userID
}
