// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/glossa/internal/model"
)

// sqliteSchema holds one row per document key.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    key TEXT PRIMARY KEY,
    sessions TEXT NOT NULL,   -- JSON record
    updated_at INTEGER NOT NULL -- Unix timestamp
) WITHOUT ROWID;
`

// SQLiteStore keeps all documents in one SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn. An empty dsn
// uses ~/.glossa/sessions.db.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, wrapErr("open", "", err)
		}
		dsn = filepath.Join(homeDir, ".glossa", "sessions.db")
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, wrapErr("open", "", fmt.Errorf("failed to create database directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open", "", fmt.Errorf("failed to open database: %w", err))
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, wrapErr("open", "", fmt.Errorf("failed to set pragma: %w", err))
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, wrapErr("open", "", fmt.Errorf("failed to initialize schema: %w", err))
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, key string) ([]model.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT sessions FROM documents WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("load", key, err)
	}

	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return nil, wrapErr("load", key, err)
	}
	if len(rec.Sessions) == 0 {
		return nil, ErrNotFound
	}
	return rec.Sessions, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, key string, sessions []model.Session) error {
	if len(sessions) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
		return wrapErr("clear", key, err)
	}

	data, err := encodeRecord(key, sessions)
	if err != nil {
		return wrapErr("save", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (key, sessions, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET sessions = excluded.sessions, updated_at = excluded.updated_at`,
		key, string(data), time.Now().Unix())
	return wrapErr("save", key, err)
}

// Keys implements Lister.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM documents ORDER BY key`)
	if err != nil {
		return nil, wrapErr("list", "", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, wrapErr("list", "", err)
		}
		keys = append(keys, k)
	}
	return keys, wrapErr("list", "", rows.Err())
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
