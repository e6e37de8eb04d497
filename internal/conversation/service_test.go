// ABOUTME: Tests for the event router and conversation state machine
// ABOUTME: Exercises guard pipeline, transitions and failure paths with fakes

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/backend"
	"github.com/2389/helpdesk-gateway/internal/dedupe"
	"github.com/2389/helpdesk-gateway/internal/messages"
	"github.com/2389/helpdesk-gateway/internal/platform"
	"github.com/2389/helpdesk-gateway/internal/store"
)

const (
	testChannel      = "!channel:example.org"
	testReplyChannel = "!replies:example.org"
	testThread       = "!thread:example.org"
	testOwner        = "@alice:example.org"
)

type sendCall struct {
	id          string
	threadID    string
	content     string
	attachments []platform.Attachment
}

type editCall struct {
	threadID string
	edit     platform.ThreadEdit
}

type reactCall struct {
	messageID string
	emoji     string
}

// fakeConnector records outbound platform calls.
type fakeConnector struct {
	mu         sync.Mutex
	sent       []sendCall
	edits      []editCall
	reacted    []reactCall
	pinned     []string
	history    []*platform.Message
	historyErr error
	thread     *platform.Thread
	starter    *platform.Message
}

func (c *fakeConnector) Send(_ context.Context, threadID, content string, attachments ...platform.Attachment) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := fmt.Sprintf("msg-%d", len(c.sent)+1)
	c.sent = append(c.sent, sendCall{id: id, threadID: threadID, content: content, attachments: attachments})
	return id, nil
}

func (c *fakeConnector) Edit(_ context.Context, threadID string, edit platform.ThreadEdit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, editCall{threadID: threadID, edit: edit})
	return nil
}

func (c *fakeConnector) React(_ context.Context, _, messageID, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reacted = append(c.reacted, reactCall{messageID: messageID, emoji: emoji})
	return nil
}

func (c *fakeConnector) Pin(_ context.Context, _, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = append(c.pinned, messageID)
	return nil
}

func (c *fakeConnector) FetchMessage(context.Context, string, string) (*platform.Message, error) {
	if c.starter == nil {
		return nil, platform.ErrMessageNotFound
	}
	return c.starter, nil
}

// reactionsOn returns the emoji seeded on the given message, in call order.
func (c *fakeConnector) reactionsOn(messageID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, r := range c.reacted {
		if r.messageID == messageID {
			out = append(out, r.emoji)
		}
	}
	return out
}

func (c *fakeConnector) History(context.Context, string, int, bool) ([]*platform.Message, error) {
	if c.historyErr != nil {
		return nil, c.historyErr
	}
	return c.history, nil
}

func (c *fakeConnector) Thread(context.Context, string) (*platform.Thread, error) {
	if c.thread == nil {
		return nil, platform.ErrThreadNotFound
	}
	return c.thread, nil
}

func (c *fakeConnector) contents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, s := range c.sent {
		out[i] = s.content
	}
	return out
}

// lockState replays the edits and returns the final locked/archived flags.
func (c *fakeConnector) lockState() (locked, archived bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.edits {
		if e.edit.Locked != nil {
			locked = *e.edit.Locked
		}
		if e.edit.Archived != nil {
			archived = *e.edit.Archived
		}
	}
	return locked, archived
}

// fakeBackend records queries and returns a canned reply.
type fakeBackend struct {
	mu      sync.Mutex
	queries []*backend.Query
	reply   *backend.Reply
	err     error
}

func (b *fakeBackend) Answer(_ context.Context, q *backend.Query) (*backend.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, q)
	return b.reply, b.err
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeNotifier) Notify(_ context.Context, threadID, userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, threadID+"/"+userID)
}

type fakeModerator struct {
	flagged bool
}

func (m *fakeModerator) Moderate(context.Context, string) (bool, error) {
	return m.flagged, nil
}

type testRig struct {
	svc      *Service
	store    store.ConversationStore
	conn     *fakeConnector
	backend  *fakeBackend
	notifier *fakeNotifier
}

func newTestRig(t *testing.T, mutate func(*Options)) *testRig {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cache := dedupe.New(time.Minute, 1000)
	t.Cleanup(cache.Close)

	conn := &fakeConnector{thread: &platform.Thread{ID: testThread, ChannelID: testChannel, OwnerID: testOwner}}
	be := &fakeBackend{reply: &backend.Reply{Content: "A resposta."}}
	notifier := &fakeNotifier{}

	opts := Options{
		Store:           st,
		Connector:       conn,
		Backend:         be,
		Notifier:        notifier,
		Dedupe:          cache,
		AllowedChannels: []string{testChannel},
		ReplyChannel:    testReplyChannel,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc, err := New(opts)
	require.NoError(t, err)

	return &testRig{svc: svc, store: st, conn: conn, backend: be, notifier: notifier}
}

var eventSeq int

func messageEvent(content string) *platform.MessageEvent {
	eventSeq++
	return &platform.MessageEvent{
		EventID:   fmt.Sprintf("$event-%d", eventSeq),
		ChannelID: testChannel,
		Message: platform.Message{
			ID:       fmt.Sprintf("$user-msg-%d", eventSeq),
			ThreadID: testThread,
			SenderID: testOwner,
			Content:  content,
		},
	}
}

func reactionEvent(messageID, userID, emoji string) *platform.ReactionEvent {
	eventSeq++
	return &platform.ReactionEvent{
		EventID:   fmt.Sprintf("$event-%d", eventSeq),
		ThreadID:  testThread,
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
	}
}

func TestOnMessage_FirstTurn(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("Como configuro o frete?"))

	require.Equal(t, 1, rig.backend.calls())
	q := rig.backend.queries[0]
	assert.Equal(t, "Como configuro o frete?", q.Message)
	assert.Equal(t, testThread, q.Thread.ThreadID)
	assert.Empty(t, q.History, "first turn carries no history")

	// ack, answer, feedback prompt
	sent := rig.conn.contents()
	require.Len(t, sent, 3)
	assert.Equal(t, messages.Default().Ack, sent[0])
	assert.Equal(t, "A resposta.", sent[1])
	assert.Contains(t, sent[2], "Isso resolveu seu problema?")
	assert.NotContains(t, sent[2], "💬", "escalation not offered on the first turn")

	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, record.Status)
	assert.Equal(t, 1, record.IterationCount)
	assert.Equal(t, testOwner, record.OwnerUserID)
	assert.Equal(t, rig.conn.sent[2].id, record.PendingMessageID)

	locked, archived := rig.conn.lockState()
	assert.True(t, locked, "thread stays locked until a reaction")
	assert.False(t, archived)
}

func TestOnMessage_SecondTurnOffersEscalation(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("primeira pergunta"))
	rig.svc.OnMessage(ctx, messageEvent("segunda pergunta"))

	sent := rig.conn.contents()
	require.Len(t, sent, 6)
	assert.Contains(t, sent[5], "💬")

	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, 2, record.IterationCount)
	assert.Equal(t, rig.conn.sent[5].id, record.PendingMessageID)
}

func TestOnMessage_PromptCarriesReactionOptions(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("primeira pergunta"))
	promptID := rig.conn.sent[2].id
	assert.Equal(t, []string{"✅", "❌"}, rig.conn.reactionsOn(promptID))

	rig.svc.OnMessage(ctx, messageEvent("segunda pergunta"))
	promptID = rig.conn.sent[5].id
	assert.Equal(t, []string{"✅", "❌", "💬"}, rig.conn.reactionsOn(promptID),
		"escalation reaction joins from the second round-trip")
}

func TestOnMessage_DuplicateEventIgnored(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	ev := messageEvent("pergunta")
	rig.svc.OnMessage(ctx, ev)
	rig.svc.OnMessage(ctx, ev)

	assert.Equal(t, 1, rig.backend.calls())
}

func TestOnMessage_DisallowedChannelIgnored(t *testing.T) {
	rig := newTestRig(t, nil)

	ev := messageEvent("pergunta")
	ev.ChannelID = "!elsewhere:example.org"
	rig.svc.OnMessage(context.Background(), ev)

	assert.Zero(t, rig.backend.calls())
	assert.Empty(t, rig.conn.contents())
}

func TestOnMessage_ClosedThreadIgnored(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))
	require.NoError(t, rig.store.CloseThread(ctx, testThread))

	rig.svc.OnMessage(ctx, messageEvent("tem mais alguém aí?"))

	assert.Zero(t, rig.backend.calls())
	assert.Empty(t, rig.conn.contents())
	assert.Empty(t, rig.conn.edits)
}

func TestOnMessage_EscalatedThreadIgnored(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))
	require.NoError(t, rig.store.SetThreadStatus(ctx, testThread, store.StatusPendingSupport))

	rig.svc.OnMessage(ctx, messageEvent("ainda preciso de ajuda"))

	assert.Zero(t, rig.backend.calls())
	assert.Empty(t, rig.conn.contents())
}

func TestOnMessage_BotSenderIgnored(t *testing.T) {
	rig := newTestRig(t, nil)

	ev := messageEvent("resposta automática")
	ev.Message.SenderBot = true
	rig.svc.OnMessage(context.Background(), ev)

	assert.Zero(t, rig.backend.calls())
}

func TestOnMessage_TimeoutApologizesAndUnlocks(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.backend.reply = nil
	rig.backend.err = backend.ErrTimeout
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("pergunta difícil"))

	sent := rig.conn.contents()
	require.Len(t, sent, 2) // ack, apology
	assert.Contains(t, sent[1], "tempo demais")
	assert.Contains(t, sent[1], testOwner)

	locked, _ := rig.conn.lockState()
	assert.False(t, locked, "thread unlocked so the user can retry")

	_, err := rig.store.GetThread(ctx, testThread)
	assert.ErrorIs(t, err, store.ErrNotFound, "store untouched on failure")
}

func TestOnMessage_TransportErrorLeavesStoreUnchanged(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	// Existing record from an earlier round-trip.
	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))
	before, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)

	rig.backend.reply = nil
	rig.backend.err = errors.New("connection refused")

	rig.svc.OnMessage(ctx, messageEvent("de novo"))

	after, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	locked, _ := rig.conn.lockState()
	assert.False(t, locked)
}

func TestOnMessage_GuardrailEndsConversation(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.backend.reply = &backend.Reply{Content: "Não posso ajudar com isso.", GuardrailTriggered: true}
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("pergunta proibida"))

	sent := rig.conn.contents()
	require.Len(t, sent, 2) // ack, guardrail content; no feedback prompt
	assert.Equal(t, "Não posso ajudar com isso.", sent[1])

	locked, archived := rig.conn.lockState()
	assert.True(t, locked)
	assert.True(t, archived)

	_, err := rig.store.GetThread(ctx, testThread)
	assert.ErrorIs(t, err, store.ErrNotFound, "no pending prompt stored")
}

func TestOnMessage_DeferredDispatchKeepsThreadLocked(t *testing.T) {
	rig := newTestRig(t, func(o *Options) { o.Deferred = true })
	rig.backend.reply = nil
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("pergunta assíncrona"))

	sent := rig.conn.contents()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.Default().AckDeferred, sent[0])

	locked, _ := rig.conn.lockState()
	assert.True(t, locked, "locked until the workflow reply arrives")

	_, err := rig.store.GetThread(ctx, testThread)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOnMessage_ModerationBlocks(t *testing.T) {
	rig := newTestRig(t, func(o *Options) { o.Moderator = &fakeModerator{flagged: true} })
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("conteúdo ofensivo"))

	assert.Zero(t, rig.backend.calls())
	sent := rig.conn.contents()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.Default().ModerationBlocked, sent[0])

	locked, archived := rig.conn.lockState()
	assert.True(t, locked)
	assert.True(t, archived)
}

func TestOnReaction_Resolved(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))

	rig.svc.OnReaction(ctx, reactionEvent("$prompt-1", testOwner, "✅"))

	sent := rig.conn.contents()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.Default().Closed, sent[0])
	assert.Equal(t, []string{rig.conn.sent[0].id}, rig.conn.pinned, "closing marker pinned")

	locked, archived := rig.conn.lockState()
	assert.True(t, locked)
	assert.True(t, archived)

	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, record.Status)
	require.NotNil(t, record.ClosedAt)
}

func TestOnReaction_ReopenUnlocks(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))

	rig.svc.OnReaction(ctx, reactionEvent("$prompt-1", testOwner, "❌"))

	sent := rig.conn.contents()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.Default().Reopened, sent[0])

	locked, archived := rig.conn.lockState()
	assert.False(t, locked)
	assert.False(t, archived)

	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, record.Status)
	assert.Equal(t, 1, record.IterationCount, "counter unchanged on reopen")
	assert.Equal(t, "$prompt-1", record.PendingMessageID)
}

func TestOnReaction_EscalateRequiresSecondIteration(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))

	// iteration_count = 1: not accepted
	rig.svc.OnReaction(ctx, reactionEvent("$prompt-1", testOwner, "💬"))
	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, record.Status)
	assert.Empty(t, rig.notifier.calls)

	// iteration_count = 2: accepted
	require.NoError(t, rig.store.UpdateThread(ctx, testThread, "$prompt-2"))
	rig.svc.OnReaction(ctx, reactionEvent("$prompt-2", testOwner, "💬"))

	record, err = rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPendingSupport, record.Status)
	assert.Equal(t, 2, record.IterationCount, "escalation leaves the counter alone")
	assert.Equal(t, []string{testThread + "/" + testOwner}, rig.notifier.calls)

	locked, archived := rig.conn.lockState()
	assert.False(t, locked, "thread stays open for human support")
	assert.False(t, archived)
}

func TestOnReaction_GuardsRejectStrayReactions(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))

	tests := []struct {
		name string
		ev   *platform.ReactionEvent
	}{
		{"unknown emoji", reactionEvent("$prompt-1", testOwner, "👍")},
		{"non-starter user", reactionEvent("$prompt-1", "@mallory:example.org", "✅")},
		{"stale prompt", reactionEvent("$old-prompt", testOwner, "✅")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig.svc.OnReaction(ctx, tt.ev)

			record, err := rig.store.GetThread(ctx, testThread)
			require.NoError(t, err)
			assert.Equal(t, store.StatusPending, record.Status)
			assert.Empty(t, rig.conn.contents())
			assert.Empty(t, rig.conn.edits)
		})
	}
}

func TestOnReaction_NoRecordIgnored(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.svc.OnReaction(context.Background(), reactionEvent("$prompt-1", testOwner, "✅"))

	assert.Empty(t, rig.conn.contents())
	assert.Empty(t, rig.conn.edits)
}

func TestOnThreadArchived_ClosesRecord(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))

	eventSeq++
	rig.svc.OnThreadArchived(ctx, &platform.ArchiveEvent{
		EventID:  fmt.Sprintf("$event-%d", eventSeq),
		ThreadID: testThread,
		Archived: true,
	})

	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClosed, record.Status)
	assert.Contains(t, rig.conn.contents(), messages.Default().Closed)
}

func TestOnThreadArchived_AlreadyClosedNoOp(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))
	require.NoError(t, rig.store.CloseThread(ctx, testThread))

	eventSeq++
	rig.svc.OnThreadArchived(ctx, &platform.ArchiveEvent{
		EventID:  fmt.Sprintf("$event-%d", eventSeq),
		ThreadID: testThread,
		Archived: true,
	})

	assert.Empty(t, rig.conn.contents())
	assert.Empty(t, rig.conn.edits)
}

func TestOnThreadDeleted_RemovesRecord(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))

	eventSeq++
	rig.svc.OnThreadDeleted(ctx, &platform.DeleteEvent{
		EventID:  fmt.Sprintf("$event-%d", eventSeq),
		ThreadID: testThread,
	})

	_, err := rig.store.GetThread(ctx, testThread)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func replyEvent(fields map[string]string, content string) *platform.MessageEvent {
	eventSeq++
	return &platform.MessageEvent{
		EventID:   fmt.Sprintf("$event-%d", eventSeq),
		ChannelID: testReplyChannel,
		Message: platform.Message{
			ID:        fmt.Sprintf("$reply-msg-%d", eventSeq),
			ThreadID:  testReplyChannel,
			SenderID:  "@relay:example.org",
			SenderBot: true,
			Content:   content,
			Fields:    fields,
		},
	}
}

func TestBackendReply_CompletesRoundTrip(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.svc.OnMessage(ctx, replyEvent(map[string]string{
		"source":    "workflow",
		"thread_id": testThread,
	}, "A resposta do workflow."))

	sent := rig.conn.contents()
	require.Len(t, sent, 2) // answer + prompt
	assert.Equal(t, "A resposta do workflow.", sent[0])
	assert.Contains(t, sent[1], "Isso resolveu seu problema?")

	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, record.Status)
	assert.Equal(t, testOwner, record.OwnerUserID, "owner resolved from the platform thread")
	assert.Equal(t, rig.conn.sent[1].id, record.PendingMessageID)
}

func TestBackendReply_OwnerFallsBackToThreadStarter(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.conn.thread = &platform.Thread{ID: testThread, ChannelID: testChannel}
	rig.conn.starter = &platform.Message{ID: testThread, ThreadID: testThread, SenderID: "@carol:example.org"}
	ctx := context.Background()

	rig.svc.OnMessage(ctx, replyEvent(map[string]string{
		"source":    "workflow",
		"thread_id": testThread,
	}, "A resposta do workflow."))

	record, err := rig.store.GetThread(ctx, testThread)
	require.NoError(t, err)
	assert.Equal(t, "@carol:example.org", record.OwnerUserID,
		"owner resolved from the starter message when the thread carries none")
}

func TestBackendReply_AttachmentPosted(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.svc.OnMessage(ctx, replyEvent(map[string]string{
		"source":             "workflow",
		"thread_id":          testThread,
		"attachment_content": "conteúdo extenso",
	}, "Resposta com anexo."))

	require.GreaterOrEqual(t, len(rig.conn.sent), 1)
	atts := rig.conn.sent[0].attachments
	require.Len(t, atts, 1)
	assert.Equal(t, "resposta.txt", atts[0].Filename)
	assert.Equal(t, []byte("conteúdo extenso"), atts[0].Content)
}

func TestBackendReply_GuardrailArchives(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	rig.svc.OnMessage(ctx, replyEvent(map[string]string{
		"source":     "workflow",
		"thread_id":  testThread,
		"event_type": "guardrail",
	}, "Bloqueado."))

	sent := rig.conn.contents()
	require.Len(t, sent, 1, "no feedback prompt after a guardrail")

	locked, archived := rig.conn.lockState()
	assert.True(t, locked)
	assert.True(t, archived)
}

func TestBackendReply_WrongSourceIgnored(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.svc.OnMessage(context.Background(), replyEvent(map[string]string{
		"source":    "someone-else",
		"thread_id": testThread,
	}, "tráfego alheio"))

	assert.Empty(t, rig.conn.contents())
}

func TestBackendReply_MissingThreadIDDropped(t *testing.T) {
	rig := newTestRig(t, nil)

	rig.svc.OnMessage(context.Background(), replyEvent(map[string]string{
		"source": "workflow",
	}, "sem destino"))

	assert.Empty(t, rig.conn.contents())
}

func TestBackendReply_NonBotSenderIgnored(t *testing.T) {
	rig := newTestRig(t, nil)

	ev := replyEvent(map[string]string{
		"source":    "workflow",
		"thread_id": testThread,
	}, "forjado")
	ev.Message.SenderBot = false
	rig.svc.OnMessage(context.Background(), ev)

	assert.Empty(t, rig.conn.contents())
}

func TestBackendReply_ClosedThreadSilentNoOp(t *testing.T) {
	rig := newTestRig(t, nil)
	ctx := context.Background()

	require.NoError(t, rig.store.CreateThread(ctx, testThread, testOwner, "$prompt-1"))
	require.NoError(t, rig.store.CloseThread(ctx, testThread))

	rig.svc.OnMessage(ctx, replyEvent(map[string]string{
		"source":    "workflow",
		"thread_id": testThread,
	}, "resposta atrasada"))

	assert.Empty(t, rig.conn.contents())
	assert.Empty(t, rig.conn.edits)
}

func TestCommands_InterceptBeforeDispatch(t *testing.T) {
	handled := 0
	rig := newTestRig(t, func(o *Options) {
		o.Commands = commandFunc(func(_ context.Context, ev *platform.MessageEvent) (bool, error) {
			if strings.HasPrefix(ev.Message.Content, "!solicitacoes") {
				handled++
				return true, nil
			}
			return false, nil
		})
	})
	ctx := context.Background()

	rig.svc.OnMessage(ctx, messageEvent("!solicitacoes"))
	assert.Equal(t, 1, handled)
	assert.Zero(t, rig.backend.calls())

	// Unhandled commands fall through to the answer flow.
	rig.svc.OnMessage(ctx, messageEvent("!outra coisa"))
	assert.Equal(t, 1, rig.backend.calls())
}

type commandFunc func(context.Context, *platform.MessageEvent) (bool, error)

func (f commandFunc) Handle(ctx context.Context, ev *platform.MessageEvent) (bool, error) {
	return f(ctx, ev)
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
