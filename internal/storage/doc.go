// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the sessions of each document.
//
// Every backend implements Store: Load returns ErrNotFound when nothing is
// stored under a key, and saving an empty session list clears the key.
// Keys are opaque strings. Failures are wrapped in *Error so callers can
// tell persistence problems apart from everything else.
//
// # Backends
//
//   - FileStore: one JSON file per document, written atomically
//   - SQLiteStore: a single SQLite database (modernc.org/sqlite)
//   - RedisStore: Redis strings plus a key index set (go-redis)
//   - MemoryStore: process-local map
//   - LastKnownGoodStore: serves a cached snapshot when the wrapped store fails
package storage
