// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/backend"
	"github.com/jeranaias/glossa/internal/fallback"
	"github.com/jeranaias/glossa/internal/model"
)

// ErrUnknownChannel is returned by Begin for a channel that is not known.
var ErrUnknownChannel = errors.New("unknown stream channel")

// Target is the message store a Router writes into.
type Target interface {
	// UpdateMessage applies fn to a message. It reports false when the
	// session or message no longer exists.
	UpdateMessage(sessionID, messageID string, fn func(*model.Message)) bool
}

type activeStream struct {
	handle Handle
	cancel context.CancelFunc
}

// Router demultiplexes stream events to the messages of one document.
type Router struct {
	mu          sync.Mutex
	documentKey string
	target      Target
	policy      *fallback.Policy
	active      map[Channel]activeStream
	logger      zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithPolicy sets the fallback policy used for error events.
func WithPolicy(p *fallback.Policy) Option {
	return func(r *Router) { r.policy = p }
}

// NewRouter creates a Router writing into target.
func NewRouter(documentKey string, target Target, opts ...Option) *Router {
	r := &Router{
		documentKey: documentKey,
		target:      target,
		active:      make(map[Channel]activeStream),
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy == nil {
		r.policy = fallback.New(nil)
	}
	r.logger = r.logger.With().Str("component", "stream-router").Str("document", documentKey).Logger()
	return r
}

// Begin registers a new active stream for channel, superseding the previous
// one. cancel is called when the stream is superseded, reset or retired; it
// may be nil.
func (r *Router) Begin(channel Channel, sessionID, messageID string, cancel context.CancelFunc) (Handle, error) {
	if !channel.Valid() {
		return Handle{}, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}

	h := Handle{
		StreamID:    newStreamID(),
		Channel:     channel,
		DocumentKey: r.documentKey,
		SessionID:   sessionID,
		MessageID:   messageID,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.active[channel]; ok {
		r.supersedeLocked(prev)
	}
	r.active[channel] = activeStream{handle: h, cancel: cancel}

	r.logger.Debug().
		Str("stream_id", h.StreamID).
		Str("channel", string(channel)).
		Str("session_id", sessionID).
		Msg("stream begun")
	return h, nil
}

// OnEvent applies an event to its target message. Events that are malformed
// or belong to a handle that is no longer active are dropped.
func (r *Router) OnEvent(ev Event) {
	if ev.StreamID == "" || !ev.Channel.Valid() {
		r.logger.Warn().
			Str("stream_id", ev.StreamID).
			Str("channel", string(ev.Channel)).
			Str("kind", string(ev.Kind)).
			Msg("Dropping malformed stream event")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.active[ev.Channel]
	if !ok || cur.handle.StreamID != ev.StreamID {
		r.logger.Debug().
			Str("stream_id", ev.StreamID).
			Str("channel", string(ev.Channel)).
			Str("kind", string(ev.Kind)).
			Msg("Dropping stale stream event")
		return
	}
	h := cur.handle

	switch ev.Kind {
	case EventContent:
		if !r.target.UpdateMessage(h.SessionID, h.MessageID, func(m *model.Message) {
			m.AppendFragment(ev.Payload)
		}) {
			r.logger.Debug().Str("stream_id", h.StreamID).Msg("Stream target no longer exists")
		}

	case EventError:
		r.logger.Warn().Err(ev.Err).
			Str("stream_id", h.StreamID).
			Str("category", string(fallback.Classify(ev.Err))).
			Msg("Stream failed")
		r.target.UpdateMessage(h.SessionID, h.MessageID, func(m *model.Message) {
			r.policy.Apply(m, ev.Err)
		})
		r.retireLocked(cur)

	case EventEnd:
		r.target.UpdateMessage(h.SessionID, h.MessageID, func(m *model.Message) {
			m.Finalize()
		})
		r.retireLocked(cur)
		r.logger.Debug().Str("stream_id", h.StreamID).Msg("stream ended")

	default:
		r.logger.Warn().Str("stream_id", h.StreamID).Str("kind", string(ev.Kind)).Msg("Dropping stream event of unknown kind")
	}
}

// Fail routes a failure for h. It is used when the backend call fails
// before any stream exists.
func (r *Router) Fail(h Handle, err error) {
	r.OnEvent(h.ErrorEvent(err))
}

// Pump forwards chunks to the router in arrival order and emits the end
// event once the channel closes. It blocks until chunks is closed.
func (r *Router) Pump(h Handle, chunks <-chan backend.Chunk) {
	for c := range chunks {
		switch c.Kind {
		case backend.ChunkContent:
			r.OnEvent(h.ContentEvent(c.Text))
		case backend.ChunkError:
			err := c.Err
			if err == nil {
				err = errors.New("stream reported an error without detail")
			}
			r.OnEvent(h.ErrorEvent(err))
		}
	}
	r.OnEvent(h.EndEvent())
}

// Active returns the active handle for a channel.
func (r *Router) Active(channel Channel) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.active[channel]
	return cur.handle, ok
}

// Reset supersedes every active stream. It is called when the document is
// torn down.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, cur := range r.active {
		r.supersedeLocked(cur)
		delete(r.active, ch)
	}
}

func (r *Router) supersedeLocked(prev activeStream) {
	r.target.UpdateMessage(prev.handle.SessionID, prev.handle.MessageID, func(m *model.Message) {
		m.Supersede()
	})
	if prev.cancel != nil {
		prev.cancel()
	}
	r.logger.Debug().Str("stream_id", prev.handle.StreamID).Msg("stream superseded")
}

func (r *Router) retireLocked(cur activeStream) {
	delete(r.active, cur.handle.Channel)
	if cur.cancel != nil {
		cur.cancel()
	}
}
