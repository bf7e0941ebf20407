// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/model"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Store loads and saves the session list of a document key.
type Store interface {
	// Load returns the stored sessions, or ErrNotFound when there are none.
	Load(ctx context.Context, key string) ([]model.Session, error)
	// Save replaces the stored sessions. An empty list clears the key.
	Save(ctx context.Context, key string, sessions []model.Session) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrNotFound is returned by Load when no sessions are stored for a key.
// Use errors.Is(err, ErrNotFound) to check for it.
var ErrNotFound = errors.New("no sessions stored")

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Error is a persistence failure.
type Error struct {
	Op  string
	Key string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// =============================================================================
// RECORD ENCODING
// =============================================================================

// recordVersion is bumped when the stored layout changes.
const recordVersion = 1

// record is the stored envelope of one document's sessions.
type record struct {
	Version   int             `json:"version"`
	Key       string          `json:"key"`
	UpdatedAt time.Time       `json:"updated_at"`
	Sessions  []model.Session `json:"sessions"`
}

func encodeRecord(key string, sessions []model.Session) ([]byte, error) {
	return json.MarshalIndent(record{
		Version:   recordVersion,
		Key:       key,
		UpdatedAt: time.Now().UTC(),
		Sessions:  sessions,
	}, "", "  ")
}

func decodeRecord(data []byte) (record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode sessions: %w", err)
	}
	if rec.Version > recordVersion {
		return record{}, fmt.Errorf("unsupported record version %d", rec.Version)
	}
	return rec, nil
}

// =============================================================================
// FACTORY
// =============================================================================

// Options selects and configures a storage backend.
type Options struct {
	// Driver is one of "file", "sqlite", "redis" or "memory".
	Driver string
	// Dir is the FileStore directory.
	Dir string
	// DSN is the SQLite database path.
	DSN string
	// RedisAddr is the Redis server address.
	RedisAddr string
	// LastKnownGoodTTL enables the last-known-good cache when positive.
	LastKnownGoodTTL time.Duration
	Logger           zerolog.Logger
}

// Open builds the Store described by opts. The result implements io.Closer
// when the backend holds resources.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		st  Store
		err error
	)
	switch opts.Driver {
	case "", "file":
		st, err = NewFileStore(opts.Dir)
	case "sqlite":
		st, err = OpenSQLite(ctx, opts.DSN)
	case "redis":
		st, err = OpenRedis(ctx, opts.RedisAddr)
	case "memory":
		st = NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.LastKnownGoodTTL > 0 {
		st = LastKnownGood(st, opts.LastKnownGoodTTL, opts.Logger)
	}
	return st, nil
}

// Close closes st if it holds resources.
func Close(st Store) error {
	if c, ok := st.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
