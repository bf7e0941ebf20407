// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"

	"github.com/jeranaias/glossa/internal/backend"
	"github.com/jeranaias/glossa/internal/document"
	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/session"
	"github.com/jeranaias/glossa/internal/stream"
)

// ExplainOption configures RequestExplanation.
type ExplainOption func(*explainOptions)

type explainOptions struct {
	highlight *model.HighlightRef
}

// WithHighlight binds the explanation to the highlight it was requested
// from. A highlight other than the current session's moves the request to a
// reusable empty session, or a new one.
func WithHighlight(ref model.HighlightRef) ExplainOption {
	return func(o *explainOptions) { o.highlight = &ref }
}

// =============================================================================
// REQUESTS
// =============================================================================

// RequestExplanation appends the style prompt as a user message plus an
// assistant placeholder, and starts an explanation stream into the
// placeholder. A newer explanation supersedes this one.
func (e *Engine) RequestExplanation(ctx context.Context, selectedText, stylePrompt string, opts ...ExplainOption) (stream.Handle, error) {
	text := normalizeText(selectedText)
	if text == "" {
		return stream.Handle{}, ErrEmptySelection
	}
	var o explainOptions
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := e.Document()
	if err != nil {
		return stream.Handle{}, err
	}
	st := doc.Store()
	sessionID := e.explainTarget(st, o.highlight)

	style := normalizeText(stylePrompt)
	if style == "" {
		style = "Explain"
	}
	placeholder := model.NewPlaceholder()
	if !st.AppendMessage(sessionID, model.NewUserMessage(style)) || !st.AppendMessage(sessionID, placeholder) {
		return stream.Handle{}, ErrUnknownSession
	}

	return e.start(ctx, doc, stream.ChannelExplain, sessionID, placeholder.ID,
		func(ctx context.Context) (<-chan backend.Chunk, error) {
			return e.backend.Explain(ctx, text, style)
		})
}

// explainTarget picks the session an explanation is written into and makes
// it current.
func (e *Engine) explainTarget(st *session.Store, highlight *model.HighlightRef) string {
	cur := st.Current()
	if highlight == nil || highlight.Same(cur.Highlight) {
		return cur.ID
	}
	if len(cur.Messages) == 0 {
		st.SetHighlight(cur.ID, highlight)
		return cur.ID
	}
	if s, ok := st.FindReusableEmptySession(); ok {
		st.SetCurrent(s.ID)
		st.SetHighlight(s.ID, highlight)
		return s.ID
	}
	return st.CreateSession(&session.Init{Highlight: highlight}).ID
}

// SendChatMessage appends text as a user message plus an assistant
// placeholder to the current session and streams the session history.
func (e *Engine) SendChatMessage(ctx context.Context, text string) (stream.Handle, error) {
	text = normalizeText(text)
	if text == "" {
		return stream.Handle{}, ErrEmptyMessage
	}
	doc, err := e.Document()
	if err != nil {
		return stream.Handle{}, err
	}
	st := doc.Store()
	sessionID := st.CurrentID()

	placeholder := model.NewPlaceholder()
	if !st.AppendMessage(sessionID, model.NewUserMessage(text)) || !st.AppendMessage(sessionID, placeholder) {
		return stream.Handle{}, ErrUnknownSession
	}
	turns := backend.TurnsFromMessages(st.History(sessionID, placeholder.ID))

	return e.start(ctx, doc, stream.ChannelChat, sessionID, placeholder.ID,
		func(ctx context.Context) (<-chan backend.Chunk, error) {
			return e.backend.Chat(ctx, turns)
		})
}

// =============================================================================
// STREAM START
// =============================================================================

type startFunc func(ctx context.Context) (<-chan backend.Chunk, error)

// start registers the handle before calling the backend, so a failure to
// start is routed like any other stream error. The stream outlives ctx but
// keeps its values.
func (e *Engine) start(ctx context.Context, doc *document.Context, ch stream.Channel, sessionID, messageID string, call startFunc) (stream.Handle, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if e.cfg.StreamTimeout > 0 {
		var cancelTimeout context.CancelFunc
		streamCtx, cancelTimeout = context.WithTimeout(streamCtx, e.cfg.StreamTimeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	router := doc.Router()
	h, err := router.Begin(ch, sessionID, messageID, cancel)
	if err != nil {
		cancel()
		return stream.Handle{}, err
	}

	chunks, err := call(streamCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &backend.TransportError{Err: err}
		}
		router.Fail(h, err)
		return h, nil
	}

	go router.Pump(h, withDeadline(streamCtx, chunks))
	return h, nil
}

// withDeadline relays chunks and appends a timeout failure when the stream
// was cut short by its deadline without reporting an error.
func withDeadline(ctx context.Context, in <-chan backend.Chunk) <-chan backend.Chunk {
	out := make(chan backend.Chunk)
	go func() {
		defer close(out)
		failed := false
		for c := range in {
			if c.Kind == backend.ChunkError {
				failed = true
			}
			out <- c
		}
		if !failed && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out <- backend.Failure(&backend.TransportError{Err: context.DeadlineExceeded})
		}
	}()
	return out
}
