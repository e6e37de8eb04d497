// ABOUTME: Matrix connector implementing platform.Connector via mautrix
// ABOUTME: Rooms as threads, reactions, pinning, power-level locking, lifecycle state

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/helpdesk-gateway/internal/platform"
)

// stateLifecycle is the custom state event carrying the archived flag.
var stateLifecycle = event.Type{Type: "com.helpdesk.lifecycle", Class: event.StateEventType}

// replyEnvelopeKey is the raw content key backend relays set on reply messages.
const replyEnvelopeKey = "com.helpdesk.reply"

// lockedPowerLevel is the events_default power level of a write-locked room.
const lockedPowerLevel = 50

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// BotUsers are peer bot accounts (e.g. the webhook relay) whose messages
	// count as bot-authored for history classification.
	BotUsers []string
}

// Connector implements platform.Connector against a Matrix homeserver.
type Connector struct {
	client *mautrix.Client
	userID id.UserID
	bots   map[string]bool
	logger *slog.Logger

	// threads caches room metadata; the store stays the source of truth for
	// conversation state, this only avoids refetching immutable room facts.
	threads sync.Map // id.RoomID -> *platform.Thread
}

// New creates a Matrix connector. It does not connect until Run is called.
func New(cfg Config, logger *slog.Logger) (*Connector, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	bots := make(map[string]bool, len(cfg.BotUsers))
	for _, u := range cfg.BotUsers {
		bots[u] = true
	}

	return &Connector{
		client: client,
		userID: id.UserID(cfg.UserID),
		bots:   bots,
		logger: logger.With("component", "matrix"),
	}, nil
}

// Run registers sync handlers and blocks until the context is cancelled or
// the sync loop fails.
func (c *Connector) Run(ctx context.Context, handler platform.Handler) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.client.Syncer)
	}

	// Skip the backlog delivered on the first sync
	syncer.OnSync(c.client.DontProcessOldEvents)

	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.handleMessage(ctx, evt, handler)
	})
	syncer.OnEventType(event.EventReaction, func(ctx context.Context, evt *event.Event) {
		c.handleReaction(ctx, evt, handler)
	})
	syncer.OnEventType(stateLifecycle, func(ctx context.Context, evt *event.Event) {
		c.handleLifecycle(ctx, evt, handler)
	})
	syncer.OnEventType(event.StateTombstone, func(ctx context.Context, evt *event.Event) {
		handler.OnThreadDeleted(ctx, &platform.DeleteEvent{
			EventID:  evt.ID.String(),
			ThreadID: evt.RoomID.String(),
		})
	})

	c.logger.Info("connecting to matrix homeserver", "user_id", c.userID)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.client.SyncWithContext(ctx)
	}()

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down matrix connector")
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

func (c *Connector) handleMessage(ctx context.Context, evt *event.Event, handler platform.Handler) {
	if evt.Sender == c.userID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}

	thread, err := c.Thread(ctx, evt.RoomID.String())
	if err != nil {
		c.logger.Warn("dropping message in unresolvable room", "room", evt.RoomID, "error", err)
		return
	}

	handler.OnMessage(ctx, &platform.MessageEvent{
		EventID:   evt.ID.String(),
		ChannelID: thread.ChannelID,
		Message:   c.toMessage(evt, content),
	})
}

func (c *Connector) handleReaction(ctx context.Context, evt *event.Event, handler platform.Handler) {
	if evt.Sender == c.userID {
		return
	}

	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		return
	}

	handler.OnReaction(ctx, &platform.ReactionEvent{
		EventID:   evt.ID.String(),
		ThreadID:  evt.RoomID.String(),
		MessageID: content.RelatesTo.EventID.String(),
		UserID:    evt.Sender.String(),
		Emoji:     content.RelatesTo.Key,
	})
}

func (c *Connector) handleLifecycle(ctx context.Context, evt *event.Event, handler platform.Handler) {
	archived, _ := evt.Content.Raw["archived"].(bool)
	handler.OnThreadArchived(ctx, &platform.ArchiveEvent{
		EventID:  evt.ID.String(),
		ThreadID: evt.RoomID.String(),
		Archived: archived,
	})
}

// toMessage converts a parsed Matrix message event to the neutral form.
func (c *Connector) toMessage(evt *event.Event, content *event.MessageEventContent) platform.Message {
	return platform.Message{
		ID:        evt.ID.String(),
		ThreadID:  evt.RoomID.String(),
		SenderID:  evt.Sender.String(),
		SenderBot: evt.Sender == c.userID || c.bots[evt.Sender.String()],
		Content:   content.Body,
		Fields:    extractEnvelope(evt.Content.Raw),
	}
}

// extractEnvelope lifts the reply-correlation envelope out of raw content.
func extractEnvelope(raw map[string]any) map[string]string {
	env, ok := raw[replyEnvelopeKey].(map[string]any)
	if !ok {
		return nil
	}
	fields := make(map[string]string, len(env))
	for k, v := range env {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}

// Send posts a message, uploading attachments as files first.
func (c *Connector) Send(ctx context.Context, threadID, content string, attachments ...platform.Attachment) (string, error) {
	roomID := id.RoomID(threadID)

	resp, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    content,
	})
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}

	for _, att := range attachments {
		upload, err := c.client.UploadBytes(ctx, att.Content, att.ContentType)
		if err != nil {
			return "", fmt.Errorf("uploading attachment %s: %w", att.Filename, err)
		}
		_, err = c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
			MsgType: event.MsgFile,
			Body:    att.Filename,
			URL:     upload.ContentURI.CUString(),
			Info:    &event.FileInfo{MimeType: att.ContentType, Size: len(att.Content)},
		})
		if err != nil {
			return "", fmt.Errorf("sending attachment %s: %w", att.Filename, err)
		}
	}

	return resp.EventID.String(), nil
}

// Edit applies lock and archive changes. Locking raises the power level
// required to post; archiving writes the lifecycle state event.
func (c *Connector) Edit(ctx context.Context, threadID string, edit platform.ThreadEdit) error {
	roomID := id.RoomID(threadID)

	if edit.Locked != nil {
		var pl event.PowerLevelsEventContent
		if err := c.client.StateEvent(ctx, roomID, event.StatePowerLevels, "", &pl); err != nil {
			return fmt.Errorf("fetching power levels: %w", err)
		}
		if *edit.Locked {
			pl.EventsDefault = lockedPowerLevel
		} else {
			pl.EventsDefault = 0
		}
		if _, err := c.client.SendStateEvent(ctx, roomID, event.StatePowerLevels, "", &pl); err != nil {
			return fmt.Errorf("setting power levels: %w", err)
		}
	}

	if edit.Archived != nil {
		content := map[string]any{"archived": *edit.Archived}
		if _, err := c.client.SendStateEvent(ctx, roomID, stateLifecycle, "", content); err != nil {
			return fmt.Errorf("setting lifecycle state: %w", err)
		}
	}

	return nil
}

// React adds an emoji reaction to a message.
func (c *Connector) React(ctx context.Context, threadID, messageID, emoji string) error {
	_, err := c.client.SendReaction(ctx, id.RoomID(threadID), id.EventID(messageID), emoji)
	if err != nil {
		return fmt.Errorf("sending reaction: %w", err)
	}
	return nil
}

// Pin appends the message to the room's pinned events.
func (c *Connector) Pin(ctx context.Context, threadID, messageID string) error {
	roomID := id.RoomID(threadID)

	var pinned event.PinnedEventsEventContent
	// A room with nothing pinned has no state event yet; start from empty.
	_ = c.client.StateEvent(ctx, roomID, event.StatePinnedEvents, "", &pinned)

	target := id.EventID(messageID)
	for _, existing := range pinned.Pinned {
		if existing == target {
			return nil
		}
	}
	pinned.Pinned = append(pinned.Pinned, target)

	if _, err := c.client.SendStateEvent(ctx, roomID, event.StatePinnedEvents, "", &pinned); err != nil {
		return fmt.Errorf("pinning message: %w", err)
	}
	return nil
}

// FetchMessage retrieves a single message by event id.
func (c *Connector) FetchMessage(ctx context.Context, threadID, messageID string) (*platform.Message, error) {
	evt, err := c.client.GetEvent(ctx, id.RoomID(threadID), id.EventID(messageID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrMessageNotFound, err)
	}

	_ = evt.Content.ParseRaw(evt.Type)
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return nil, platform.ErrMessageNotFound
	}

	msg := c.toMessage(evt, content)
	return &msg, nil
}

// History returns up to limit messages from the thread.
func (c *Connector) History(ctx context.Context, threadID string, limit int, oldestFirst bool) ([]*platform.Message, error) {
	resp, err := c.client.Messages(ctx, id.RoomID(threadID), "", "", mautrix.DirectionBackward, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching room messages: %w", err)
	}

	// Chunk runs newest first
	var messages []*platform.Message
	for _, evt := range resp.Chunk {
		if evt.Type != event.EventMessage {
			continue
		}
		_ = evt.Content.ParseRaw(evt.Type)
		content, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok {
			continue
		}
		msg := c.toMessage(evt, content)
		messages = append(messages, &msg)
	}

	if oldestFirst {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, nil
}

// Thread resolves thread metadata from the cache, falling back to room state.
func (c *Connector) Thread(ctx context.Context, threadID string) (*platform.Thread, error) {
	roomID := id.RoomID(threadID)

	if cached, ok := c.threads.Load(roomID); ok {
		return cached.(*platform.Thread), nil
	}

	state, err := c.client.State(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrThreadNotFound, err)
	}

	thread := &platform.Thread{ID: threadID, ChannelID: threadID}

	// The room creator is the sender of m.room.create
	if creates, ok := state[event.StateCreate]; ok {
		if evt, ok := creates[""]; ok {
			thread.OwnerID = evt.Sender.String()
		}
	}

	// Parent channel is the room's space parent, if any
	if parents, ok := state[event.StateSpaceParent]; ok {
		for parent := range parents {
			thread.ChannelID = parent
			break
		}
	}

	c.threads.Store(roomID, thread)
	return thread, nil
}

// Ensure Connector implements platform.Connector
var _ platform.Connector = (*Connector)(nil)
