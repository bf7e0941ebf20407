// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/glossa/internal/backend"
	"github.com/jeranaias/glossa/internal/document"
	"github.com/jeranaias/glossa/internal/fallback"
	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/notify"
	"github.com/jeranaias/glossa/internal/storage"
	"github.com/jeranaias/glossa/internal/stream"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// manualBackend hands every stream's channel to the test.
type manualBackend struct {
	streams chan chan backend.Chunk

	mu      sync.Mutex
	history [][]backend.Turn
}

func newManualBackend() *manualBackend {
	return &manualBackend{streams: make(chan chan backend.Chunk, 8)}
}

func (m *manualBackend) open() (<-chan backend.Chunk, error) {
	ch := make(chan backend.Chunk)
	m.streams <- ch
	return ch, nil
}

func (m *manualBackend) Explain(context.Context, string, string) (<-chan backend.Chunk, error) {
	return m.open()
}

func (m *manualBackend) Chat(_ context.Context, turns []backend.Turn) (<-chan backend.Chunk, error) {
	m.mu.Lock()
	m.history = append(m.history, turns)
	m.mu.Unlock()
	return m.open()
}

func (m *manualBackend) chats() [][]backend.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]backend.Turn(nil), m.history...)
}

func (m *manualBackend) next(t *testing.T) chan backend.Chunk {
	t.Helper()
	select {
	case ch := <-m.streams:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("no stream was started")
		return nil
	}
}

// hangingBackend never sends anything and closes once ctx is done.
type hangingBackend struct{}

func (hangingBackend) hang(ctx context.Context) (<-chan backend.Chunk, error) {
	ch := make(chan backend.Chunk)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (h hangingBackend) Explain(ctx context.Context, _, _ string) (<-chan backend.Chunk, error) {
	return h.hang(ctx)
}

func (h hangingBackend) Chat(ctx context.Context, _ []backend.Turn) (<-chan backend.Chunk, error) {
	return h.hang(ctx)
}

// gatedStore holds every Load until release is closed.
type gatedStore struct {
	*storage.MemoryStore
	loading chan struct{}
	release chan struct{}
}

func (g *gatedStore) Load(ctx context.Context, key string) ([]model.Session, error) {
	g.loading <- struct{}{}
	<-g.release
	return g.MemoryStore.Load(ctx, key)
}

func newEngine(t *testing.T, b backend.Backend, st storage.Store, cfg Config) *Engine {
	t.Helper()
	if cfg.Persist.Debounce == 0 {
		cfg.Persist.Debounce = time.Hour
	}
	e := New(Deps{
		Backend: b,
		Store:   st,
		Hub:     notify.NewHub(zerolog.Nop()),
		Logger:  zerolog.Nop(),
	}, cfg)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func openDoc(t *testing.T, e *Engine) {
	t.Helper()
	_, err := e.OpenDocument(context.Background(), "/docs/paper.pdf")
	require.NoError(t, err)
}

func current(t *testing.T, e *Engine) model.Session {
	t.Helper()
	snap, err := e.Snapshot()
	require.NoError(t, err)
	s, ok := snap.Current()
	require.True(t, ok)
	return s
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, err := e.Snapshot()
		if err != nil {
			return false
		}
		for i := range snap.Sessions {
			if snap.Sessions[i].Typing() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

func TestOpenDocument_NoHistory(t *testing.T) {
	e := newEngine(t, backend.NewScripted(), storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	snap, err := e.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "Chat 1", snap.Sessions[0].Title)
	assert.Equal(t, snap.Sessions[0].ID, snap.CurrentID)
}

func TestOperations_WithoutDocument(t *testing.T) {
	e := newEngine(t, backend.NewScripted(), storage.NewMemoryStore(), Config{})

	_, err := e.SendChatMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNoDocument)
	_, err = e.NewSession()
	assert.ErrorIs(t, err, ErrNoDocument)
	_, err = e.Snapshot()
	assert.ErrorIs(t, err, ErrNoDocument)
	assert.NoError(t, e.CloseDocument(context.Background()))
}

func TestOpenDocument_SameKeyIsNoop(t *testing.T) {
	e := newEngine(t, backend.NewScripted(), storage.NewMemoryStore(), Config{})
	openDoc(t, e)
	doc1, _ := e.Document()

	_, err := e.OpenDocument(context.Background(), "/docs/./paper.pdf")
	require.NoError(t, err)
	doc2, _ := e.Document()
	assert.Same(t, doc1, doc2)
}

func TestSessionsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()

	e := newEngine(t, backend.NewScripted("fine"), st, Config{})
	openDoc(t, e)
	_, err := e.SendChatMessage(ctx, "how are you")
	require.NoError(t, err)
	waitIdle(t, e)
	require.NoError(t, e.Close(ctx))

	e2 := newEngine(t, backend.NewScripted(), st, Config{})
	openDoc(t, e2)
	msgs := current(t, e2).Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "how are you", msgs[0].Content)
	assert.Equal(t, "fine", msgs[1].Content)
}

func TestSwitchingDocumentsFlushesPrevious(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	e := newEngine(t, backend.NewScripted("a"), st, Config{})

	key, err := e.OpenDocument(ctx, "/docs/one.pdf")
	require.NoError(t, err)
	_, err = e.SendChatMessage(ctx, "first")
	require.NoError(t, err)
	waitIdle(t, e)

	_, err = e.OpenDocument(ctx, "/docs/two.pdf")
	require.NoError(t, err)

	saved, err := st.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Len(t, saved[0].Messages, 2)
	assert.Len(t, current(t, e).Messages, 0)
}

func TestOpenDocument_VisibleOnlyOnceLoaded(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	key := document.KeyFor("/docs/paper.pdf")
	stored := model.NewSession(1)
	require.NoError(t, mem.Save(ctx, key, []model.Session{stored}))

	st := &gatedStore{MemoryStore: mem, loading: make(chan struct{}), release: make(chan struct{})}
	e := newEngine(t, backend.NewScripted(), st, Config{})

	opened := make(chan error, 1)
	go func() {
		_, err := e.OpenDocument(ctx, key)
		opened <- err
	}()

	select {
	case <-st.loading:
	case <-time.After(2 * time.Second):
		t.Fatal("sessions were never loaded")
	}
	_, err := e.Document()
	assert.ErrorIs(t, err, ErrNoDocument)

	close(st.release)
	require.NoError(t, <-opened)
	snap, err := e.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, stored.ID, snap.Sessions[0].ID)
}

// =============================================================================
// EXPLANATIONS AND CHAT
// =============================================================================

func TestRequestExplanation_Streams(t *testing.T) {
	b := backend.NewScripted("Th", "is ", "ok")
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	h, err := e.RequestExplanation(context.Background(), "foo", "Summarize")
	require.NoError(t, err)
	assert.Equal(t, stream.ChannelExplain, h.Channel)
	waitIdle(t, e)

	msgs := current(t, e).Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Summarize", msgs[0].Content)
	assert.Equal(t, "This ok", msgs[1].Content)
	assert.False(t, msgs[1].IsError)
	assert.False(t, msgs[1].Streaming)

	reqs := b.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "foo", reqs[0].Text)
}

func TestRequestExplanation_EmptySelection(t *testing.T) {
	e := newEngine(t, backend.NewScripted(), storage.NewMemoryStore(), Config{})
	openDoc(t, e)
	_, err := e.RequestExplanation(context.Background(), "   ", "Summarize")
	assert.ErrorIs(t, err, ErrEmptySelection)
}

func TestRequestExplanation_NewHighlightMovesSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, backend.NewScripted("x"), storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.RequestExplanation(ctx, "first", "Define", WithHighlight(model.HighlightRef{Page: 1, Start: 0, End: 5}))
	require.NoError(t, err)
	waitIdle(t, e)
	first := current(t, e)
	require.NotNil(t, first.Highlight)
	assert.Equal(t, "Chat 1", first.Title)

	_, err = e.RequestExplanation(ctx, "second", "Define", WithHighlight(model.HighlightRef{Page: 2, Start: 3, End: 9}))
	require.NoError(t, err)
	waitIdle(t, e)

	snap, _ := e.Snapshot()
	require.Len(t, snap.Sessions, 2)
	second := current(t, e)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Highlight.Page)
	assert.Len(t, second.Messages, 2)
}

func TestSendChatMessage_SendsHistory(t *testing.T) {
	ctx := context.Background()
	b := backend.NewScripted("reply")
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.SendChatMessage(ctx, "one")
	require.NoError(t, err)
	waitIdle(t, e)
	_, err = e.SendChatMessage(ctx, "two")
	require.NoError(t, err)
	waitIdle(t, e)

	reqs := b.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []backend.Turn{
		{Role: model.RoleUser, Content: "one"},
		{Role: model.RoleAssistant, Content: "reply"},
		{Role: model.RoleUser, Content: "two"},
	}, reqs[1].History)

	_, err = e.SendChatMessage(ctx, "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestRateLimitedStart_FallbackAndChannelFree(t *testing.T) {
	b := &backend.Scripted{Respond: func(backend.Request) backend.Script {
		return backend.Script{StartErr: &backend.BackendError{Status: 429, Message: "slow down"}}
	}}
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.RequestExplanation(context.Background(), "foo", "Summarize")
	require.NoError(t, err)

	msg := current(t, e).Messages[1]
	assert.True(t, msg.IsError)
	assert.True(t, strings.HasPrefix(msg.Content, fallback.Prefix))
	assert.Contains(t, msg.Content, "rate limiting")
	assert.False(t, msg.Streaming)

	doc, _ := e.Document()
	_, active := doc.Router().Active(stream.ChannelExplain)
	assert.False(t, active)
}

func TestMidStreamError_KeepsSessionUsable(t *testing.T) {
	ctx := context.Background()
	calls := 0
	b := &backend.Scripted{Respond: func(backend.Request) backend.Script {
		calls++
		if calls == 1 {
			return backend.Script{Fragments: []string{"par"}, Err: &backend.BackendError{Status: 503}}
		}
		return backend.Script{Fragments: []string{"second try"}}
	}}
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.SendChatMessage(ctx, "q")
	require.NoError(t, err)
	waitIdle(t, e)
	_, err = e.SendChatMessage(ctx, "again")
	require.NoError(t, err)
	waitIdle(t, e)

	msgs := current(t, e).Messages
	require.Len(t, msgs, 4)
	assert.True(t, msgs[1].IsError)
	assert.Contains(t, msgs[1].Content, "temporarily unavailable")
	assert.Equal(t, "second try", msgs[3].Content)
}

func TestSupersededMidStream(t *testing.T) {
	ctx := context.Background()
	b := newManualBackend()
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.RequestExplanation(ctx, "a", "Summarize")
	require.NoError(t, err)
	first := b.next(t)
	first <- backend.Content("half")
	require.Eventually(t, func() bool {
		return current(t, e).Messages[1].Content == "half"
	}, 2*time.Second, 5*time.Millisecond)

	_, err = e.RequestExplanation(ctx, "b", "Summarize")
	require.NoError(t, err)
	second := b.next(t)

	first <- backend.Content(" late")
	close(first)
	second <- backend.Content("new")
	close(second)
	waitIdle(t, e)

	msgs := current(t, e).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "half", msgs[1].Content)
	assert.True(t, msgs[1].Superseded)
	assert.Equal(t, "new", msgs[3].Content)

	assert.Never(t, func() bool {
		return current(t, e).Messages[1].Content != "half"
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestChatAndExplainAreIndependent(t *testing.T) {
	ctx := context.Background()
	b := newManualBackend()
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.RequestExplanation(ctx, "a", "Summarize")
	require.NoError(t, err)
	explain := b.next(t)
	_, err = e.SendChatMessage(ctx, "hello")
	require.NoError(t, err)
	chat := b.next(t)

	chat <- backend.Content("chat")
	close(chat)
	explain <- backend.Content("expl")
	close(explain)
	waitIdle(t, e)

	msgs := current(t, e).Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "expl", msgs[1].Content)
	assert.Equal(t, "chat", msgs[3].Content)
}

func TestSendChatMessage_OmitsReplyStillStreaming(t *testing.T) {
	ctx := context.Background()
	b := newManualBackend()
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.RequestExplanation(ctx, "a", "Summarize")
	require.NoError(t, err)
	explain := b.next(t)
	explain <- backend.Content("half an ans")
	require.Eventually(t, func() bool {
		msgs := current(t, e).Messages
		return len(msgs) == 2 && msgs[1].Content == "half an ans"
	}, 2*time.Second, 5*time.Millisecond)

	_, err = e.SendChatMessage(ctx, "hello")
	require.NoError(t, err)
	chat := b.next(t)

	chats := b.chats()
	require.Len(t, chats, 1)
	assert.Equal(t, []backend.Turn{
		{Role: model.RoleUser, Content: "Summarize"},
		{Role: model.RoleUser, Content: "hello"},
	}, chats[0])

	close(explain)
	close(chat)
	waitIdle(t, e)
}

func TestSwitchMidStream_WritesOriginalSession(t *testing.T) {
	ctx := context.Background()
	b := newManualBackend()
	e := newEngine(t, b, storage.NewMemoryStore(), Config{})
	openDoc(t, e)

	_, err := e.SendChatMessage(ctx, "hello")
	require.NoError(t, err)
	origin := current(t, e).ID
	ch := b.next(t)

	other, err := e.NewSession()
	require.NoError(t, err)
	require.NotEqual(t, origin, other.ID)

	ch <- backend.Content("answer")
	close(ch)
	waitIdle(t, e)

	snap, _ := e.Snapshot()
	assert.Equal(t, other.ID, snap.CurrentID)
	assert.Equal(t, "answer", snap.Sessions[0].Messages[1].Content)
	assert.Empty(t, snap.Sessions[1].Messages)
}

func TestStreamTimeout(t *testing.T) {
	e := newEngine(t, hangingBackend{}, storage.NewMemoryStore(), Config{StreamTimeout: 30 * time.Millisecond})
	openDoc(t, e)

	_, err := e.SendChatMessage(context.Background(), "slow")
	require.NoError(t, err)
	waitIdle(t, e)

	msg := current(t, e).Messages[1]
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Content, "too long")
}

func TestCloseDocument_SupersedesStreams(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	b := newManualBackend()
	e := newEngine(t, b, st, Config{})
	key, err := e.OpenDocument(ctx, "/docs/paper.pdf")
	require.NoError(t, err)

	_, err = e.SendChatMessage(ctx, "hello")
	require.NoError(t, err)
	ch := b.next(t)
	require.NoError(t, e.CloseDocument(ctx))
	close(ch)

	saved, err := st.Load(ctx, key)
	require.NoError(t, err)
	reply := saved[0].Messages[1]
	assert.False(t, reply.Streaming)
	assert.Equal(t, model.SupersededText, reply.Content)
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

func TestNewSession_ReusesEmpty(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, backend.NewScripted("ok"), storage.NewMemoryStore(), Config{})
	openDoc(t, e)
	first := current(t, e)

	s, err := e.NewSession()
	require.NoError(t, err)
	assert.Equal(t, first.ID, s.ID)

	_, err = e.SendChatMessage(ctx, "hi")
	require.NoError(t, err)
	waitIdle(t, e)

	s2, err := e.NewSession()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, s2.ID)
	assert.Equal(t, "Chat 2", s2.Title)

	s3, err := e.NewSession()
	require.NoError(t, err)
	assert.Equal(t, s2.ID, s3.ID)
}

func TestSwitchAndRemoveSession(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, backend.NewScripted("ok"), storage.NewMemoryStore(), Config{})
	openDoc(t, e)
	first := current(t, e)
	_, err := e.SendChatMessage(ctx, "hi")
	require.NoError(t, err)
	waitIdle(t, e)
	second, err := e.NewSession()
	require.NoError(t, err)

	require.NoError(t, e.SwitchSession(first.ID))
	assert.Equal(t, first.ID, current(t, e).ID)
	assert.ErrorIs(t, e.SwitchSession("missing"), ErrUnknownSession)
	assert.ErrorIs(t, e.RemoveSession("missing"), ErrUnknownSession)

	require.NoError(t, e.RemoveSession(second.ID))
	require.NoError(t, e.RemoveSession(first.ID))
	snap, _ := e.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Empty(t, snap.Sessions[0].Messages)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestSubscribe_ReceivesChanges(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, backend.NewScripted("ok"), storage.NewMemoryStore(), Config{})
	sub, err := e.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	key, err := e.OpenDocument(ctx, "/docs/paper.pdf")
	require.NoError(t, err)
	_, err = e.SendChatMessage(ctx, "hi")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-sub.C:
			assert.Equal(t, key, c.DocumentKey)
			if c.Kind == "message_added" {
				return
			}
		case <-deadline:
			t.Fatal("no message_added notification")
		}
	}
}
