// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/backend"
	"github.com/jeranaias/glossa/internal/document"
	"github.com/jeranaias/glossa/internal/fallback"
	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/notify"
	"github.com/jeranaias/glossa/internal/persist"
	"github.com/jeranaias/glossa/internal/session"
	"github.com/jeranaias/glossa/internal/storage"
)

// Sentinel errors returned by Engine operations.
var (
	ErrNoDocument     = errors.New("no document is open")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrUnknownSession = errors.New("unknown session")
	ErrEmptySelection = errors.New("selected text is empty")
	ErrEngineClosed   = errors.New("engine is closed")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds the engine's tunables.
type Config struct {
	// StreamTimeout bounds each backend call (0 = none).
	StreamTimeout time.Duration
	// FlushDeadline bounds the flush when a document is closed (default: 2s)
	FlushDeadline time.Duration
	// Persist is the debounce and retry timing of background saves.
	Persist persist.Config
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Backend backend.Backend
	Store   storage.Store
	// Hub, when set, receives every session change.
	Hub    *notify.Hub
	Policy *fallback.Policy
	Logger zerolog.Logger
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns the open document and routes UI actions to it.
type Engine struct {
	backend backend.Backend
	store   storage.Store
	hub     *notify.Hub
	policy  *fallback.Policy
	sync    *persist.Sync
	cfg     Config
	logger  zerolog.Logger

	// switching serializes document swaps. It is held across Activate and
	// Deactivate and is always taken before mu.
	switching sync.Mutex

	mu     sync.Mutex
	doc    *document.Context
	closed bool
}

// New creates an Engine. Deps.Backend and Deps.Store must be set.
func New(deps Deps, cfg Config) *Engine {
	if deps.Policy == nil {
		deps.Policy = fallback.New(nil)
	}
	logger := deps.Logger.With().Str("component", "engine").Logger()
	return &Engine{
		backend: deps.Backend,
		store:   deps.Store,
		hub:     deps.Hub,
		policy:  deps.Policy,
		sync:    persist.New(deps.Store, cfg.Persist, deps.Logger),
		cfg:     cfg,
		logger:  logger,
	}
}

// OpenDocument makes the document at path the open document and returns
// its key. Reopening the open document is a no-op. Load failures are
// logged and leave one empty session.
//
// The previous document is detached before it is flushed, and the new one
// becomes visible only once its sessions are loaded. In between there is
// no open document.
func (e *Engine) OpenDocument(ctx context.Context, path string) (string, error) {
	key := document.KeyFor(path)
	if key == "" {
		return "", errors.New("document path is empty")
	}

	e.switching.Lock()
	defer e.switching.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	prev := e.doc
	if prev != nil && prev.Key() == key {
		e.mu.Unlock()
		return key, nil
	}
	e.doc = nil
	e.mu.Unlock()

	if prev != nil {
		if err := prev.Deactivate(ctx); err != nil {
			e.logger.Warn().Err(err).Str("document", prev.Key()).Msg("Previous document did not flush cleanly")
		}
	}

	doc := document.New(key, path, document.Deps{
		Loader:        e.store,
		Sync:          e.sync,
		Policy:        e.policy,
		Logger:        e.logger,
		FlushDeadline: e.cfg.FlushDeadline,
		Notify:        e.publish,
	})
	doc.Activate(ctx)

	e.mu.Lock()
	e.doc = doc
	e.mu.Unlock()
	return key, nil
}

// CloseDocument tears down the open document. It is a no-op when none is open.
func (e *Engine) CloseDocument(ctx context.Context) error {
	e.switching.Lock()
	defer e.switching.Unlock()

	e.mu.Lock()
	doc := e.doc
	e.doc = nil
	e.mu.Unlock()

	if doc == nil {
		return nil
	}
	return doc.Deactivate(ctx)
}

// Close closes the open document, flushes every pending save and shuts the
// notify hub down.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.CloseDocument(ctx)
	if serr := e.sync.Close(ctx); err == nil {
		err = serr
	}
	if e.hub != nil {
		if herr := e.hub.Close(); err == nil {
			err = herr
		}
	}
	return err
}

// Document returns the open document.
func (e *Engine) Document() (*document.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.doc == nil {
		return nil, ErrNoDocument
	}
	return e.doc, nil
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// NewSession makes a reusable empty session current, creating one only
// when none exists.
func (e *Engine) NewSession() (model.Session, error) {
	doc, err := e.Document()
	if err != nil {
		return model.Session{}, err
	}
	st := doc.Store()
	if s, ok := st.FindReusableEmptySession(); ok {
		st.SetCurrent(s.ID)
		return s, nil
	}
	return st.CreateSession(nil), nil
}

// SwitchSession makes id the current session.
func (e *Engine) SwitchSession(id string) error {
	doc, err := e.Document()
	if err != nil {
		return err
	}
	if !doc.Store().SetCurrent(id) {
		return ErrUnknownSession
	}
	return nil
}

// RemoveSession removes a session. The last session is cleared instead.
func (e *Engine) RemoveSession(id string) error {
	doc, err := e.Document()
	if err != nil {
		return err
	}
	if !doc.Store().RemoveSession(id) {
		return ErrUnknownSession
	}
	return nil
}

// =============================================================================
// SNAPSHOTS AND NOTIFICATIONS
// =============================================================================

// Snapshot is a copy of the open document's state.
type Snapshot struct {
	DocumentKey string
	Path        string
	CurrentID   string
	Sessions    []model.Session
}

// Current returns the current session of the snapshot.
func (s Snapshot) Current() (model.Session, bool) {
	for _, sess := range s.Sessions {
		if sess.ID == s.CurrentID {
			return sess, true
		}
	}
	return model.Session{}, false
}

// Snapshot returns a copy of the open document's sessions.
func (e *Engine) Snapshot() (Snapshot, error) {
	doc, err := e.Document()
	if err != nil {
		return Snapshot{}, err
	}
	st := doc.Store()
	return Snapshot{
		DocumentKey: doc.Key(),
		Path:        doc.Path(),
		CurrentID:   st.CurrentID(),
		Sessions:    st.Sessions(),
	}, nil
}

// Subscribe returns a subscription to the changes of every document.
func (e *Engine) Subscribe(ctx context.Context) (*notify.Subscription, error) {
	if e.hub == nil {
		return nil, errors.New("notifications are not enabled")
	}
	return e.hub.Subscribe(ctx, notify.AllTopic)
}

func (e *Engine) publish(key string, c session.Change) {
	if e.hub == nil {
		return
	}
	err := e.hub.Publish(notify.Change{
		Kind:        string(c.Kind),
		DocumentKey: key,
		SessionID:   c.SessionID,
		MessageID:   c.MessageID,
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("kind", string(c.Kind)).Msg("dropping change notification")
	}
}

// normalizeText trims surrounding whitespace.
func normalizeText(s string) string {
	return strings.TrimSpace(s)
}
