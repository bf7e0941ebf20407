// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/model"
)

// LastKnownGoodStore remembers the last snapshot that loaded or saved
// successfully per key and serves it when the wrapped store fails to load.
type LastKnownGoodStore struct {
	next   Store
	cache  *cache.Cache
	logger zerolog.Logger
}

// LastKnownGood wraps next with a snapshot cache whose entries live for ttl.
func LastKnownGood(next Store, ttl time.Duration, logger zerolog.Logger) *LastKnownGoodStore {
	return &LastKnownGoodStore{
		next:   next,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger.With().Str("component", "storage-lkg").Logger(),
	}
}

// Load implements Store.
func (s *LastKnownGoodStore) Load(ctx context.Context, key string) ([]model.Session, error) {
	sessions, err := s.next.Load(ctx, key)
	switch {
	case err == nil:
		s.cache.SetDefault(key, model.CloneSessions(sessions))
		return sessions, nil
	case errors.Is(err, ErrNotFound):
		s.cache.Delete(key)
		return nil, err
	}

	if cached, ok := s.cache.Get(key); ok {
		s.logger.Warn().Err(err).Str("key", key).Msg("Load failed, serving last known good sessions")
		return model.CloneSessions(cached.([]model.Session)), nil
	}
	return nil, err
}

// Save implements Store.
func (s *LastKnownGoodStore) Save(ctx context.Context, key string, sessions []model.Session) error {
	if err := s.next.Save(ctx, key, sessions); err != nil {
		return err
	}
	if len(sessions) == 0 {
		s.cache.Delete(key)
	} else {
		s.cache.SetDefault(key, model.CloneSessions(sessions))
	}
	return nil
}

// Keys implements Lister when the wrapped store does.
func (s *LastKnownGoodStore) Keys(ctx context.Context) ([]string, error) {
	l, ok := s.next.(Lister)
	if !ok {
		return nil, &Error{Op: "list", Err: errors.New("store cannot list keys")}
	}
	return l.Keys(ctx)
}

// Close closes the wrapped store.
func (s *LastKnownGoodStore) Close() error {
	return Close(s.next)
}
