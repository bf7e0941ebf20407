// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package document

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/fallback"
	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/persist"
	"github.com/jeranaias/glossa/internal/session"
	"github.com/jeranaias/glossa/internal/storage"
	"github.com/jeranaias/glossa/internal/stream"
)

// DefaultFlushDeadline bounds the flush performed by Deactivate.
const DefaultFlushDeadline = 2 * time.Second

// Loader is the read side of a storage.Store.
type Loader interface {
	Load(ctx context.Context, key string) ([]model.Session, error)
}

// Deps are the collaborators shared by every document Context.
type Deps struct {
	Loader        Loader
	Sync          *persist.Sync
	Policy        *fallback.Policy
	Logger        zerolog.Logger
	FlushDeadline time.Duration
	// Notify, when set, receives every change of the document's sessions.
	Notify func(key string, c session.Change)
}

// Context is the in-memory state of one open document.
type Context struct {
	key    string
	path   string
	deps   Deps
	store  *session.Store
	router *stream.Router
	logger zerolog.Logger

	mu          sync.Mutex
	active      bool
	deactivated bool
}

// New creates the Context of the document at path with the given key.
// Nothing is loaded until Activate.
func New(key, path string, deps Deps) *Context {
	if deps.FlushDeadline <= 0 {
		deps.FlushDeadline = DefaultFlushDeadline
	}
	logger := deps.Logger.With().Str("component", "document").Str("document", key).Logger()

	c := &Context{
		key:    key,
		path:   path,
		deps:   deps,
		store:  session.NewStore(),
		logger: logger,
	}
	c.router = stream.NewRouter(key, c.store,
		stream.WithLogger(deps.Logger),
		stream.WithPolicy(deps.Policy),
	)
	c.store.OnChange(c.onChange)
	return c
}

// onChange schedules a save for persistent changes and forwards every
// change to the notifier. Replacing the whole list on load is not saved
// back.
func (c *Context) onChange(ch session.Change) {
	if ch.Kind.Persistent() && ch.Kind != session.ChangeReplaced && c.deps.Sync != nil && c.isLive() {
		c.deps.Sync.Schedule(c.key, c.store.Sessions)
	}
	if c.deps.Notify != nil {
		c.deps.Notify(c.key, ch)
	}
}

func (c *Context) isLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.deactivated
}

// Key returns the document key.
func (c *Context) Key() string { return c.key }

// Path returns the path the document was opened with.
func (c *Context) Path() string { return c.path }

// Store returns the document's session store.
func (c *Context) Store() *session.Store { return c.store }

// Router returns the document's stream router.
func (c *Context) Router() *stream.Router { return c.router }

// Activate loads persisted sessions. A missing or unreadable history leaves
// one empty session; load failures are logged, never returned.
func (c *Context) Activate(ctx context.Context) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.mu.Unlock()

	var sessions []model.Session
	if c.deps.Loader != nil {
		loaded, err := c.deps.Loader.Load(ctx, c.key)
		switch {
		case err == nil:
			sessions = loaded
		case errors.Is(err, storage.ErrNotFound):
			c.logger.Debug().Msg("no stored sessions")
		default:
			c.logger.Warn().Err(err).Msg("Failed to load sessions, starting empty")
		}
	}

	model.FinalizeInterrupted(sessions)
	c.store.Replace(sessions)
	c.logger.Info().Int("sessions", c.store.Len()).Msg("document activated")
}

// Deactivate retires in-flight streams and flushes pending saves, bounded
// by the flush deadline. It is safe to call more than once.
func (c *Context) Deactivate(ctx context.Context) error {
	// Superseding streams is itself a persistent change, so reset first.
	c.router.Reset()

	c.mu.Lock()
	if c.deactivated {
		c.mu.Unlock()
		return nil
	}
	c.deactivated = true
	c.mu.Unlock()

	if c.deps.Sync == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.deps.FlushDeadline)
	defer cancel()
	if err := c.deps.Sync.Flush(ctx, c.key); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to flush sessions on close")
		return err
	}
	c.logger.Info().Msg("document deactivated")
	return nil
}
