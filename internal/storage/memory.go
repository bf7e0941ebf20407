// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/jeranaias/glossa/internal/model"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]model.Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]model.Session)}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, key string) ([]model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("load", key, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return model.CloneSessions(sessions), nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, key string, sessions []model.Session) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("save", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sessions) == 0 {
		delete(s.docs, key)
		return nil
	}
	s.docs[key] = model.CloneSessions(sessions)
	return nil
}

// Keys implements Lister.
func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.docs))
	for k := range s.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
