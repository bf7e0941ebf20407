// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/util"
)

// FileStore keeps one JSON file per document key.
type FileStore struct {
	// BaseDir is the directory holding session files.
	// Default: ~/.glossa/sessions/
	BaseDir string
}

// DefaultSessionDir returns ~/.glossa/sessions.
func DefaultSessionDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".glossa", "sessions"), nil
}

// NewFileStore creates a FileStore rooted at dir. An empty dir uses
// DefaultSessionDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		d, err := DefaultSessionDir()
		if err != nil {
			return nil, wrapErr("open", "", err)
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, wrapErr("open", "", err)
	}
	return &FileStore{BaseDir: dir}, nil
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, key string) ([]model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("load", key, err)
	}

	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, wrapErr("load", key, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, wrapErr("load", key, err)
	}
	if len(rec.Sessions) == 0 {
		return nil, ErrNotFound
	}
	return rec.Sessions, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, key string, sessions []model.Session) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("save", key, err)
	}

	p := s.filePath(key)
	if len(sessions) == 0 {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrapErr("clear", key, err)
		}
		return nil
	}

	data, err := encodeRecord(key, sessions)
	if err != nil {
		return wrapErr("save", key, err)
	}
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return wrapErr("save", key, util.AtomicWriteFile(p, data, 0644))
}

// Keys implements Lister.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, wrapErr("list", "", err)
	}

	keys := []string{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, wrapErr("list", "", err)
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.BaseDir, entry.Name()))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(data)
		if err != nil || rec.Key == "" {
			continue // Skip corrupted files
		}
		keys = append(keys, rec.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// filePath maps a key to a file name: a readable stem from the key's last
// element plus a hash of the full key, so distinct keys never collide.
func (s *FileStore) filePath(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return filepath.Join(s.BaseDir, SanitizeName(path.Base(key))+"-"+hex.EncodeToString(sum[:8])+".json")
}

// SanitizeName reduces s to a short, filesystem-safe name.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "._")
	if name == "" {
		name = "document"
	}
	return util.TruncateRunes(name, 48)
}
