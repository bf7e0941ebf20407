// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	// Level is a zerolog level name (default: "info")
	Level string
	// File is the log file path (default: ~/.glossa/glossa.log, "-" disables the file)
	File string
	// MaxSizeMB is the size at which the file is rotated (default: 10)
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int
	// Console also writes human-readable output to Stderr.
	Console bool
	// Stderr receives console output (default: os.Stderr)
	Stderr io.Writer
}

// DefaultLogFile returns ~/.glossa/glossa.log.
func DefaultLogFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".glossa", "glossa.log"), nil
}

// Setup builds the logger described by opts. The returned closer releases
// the log file.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.File != "-" {
		path := opts.File
		if path == "" {
			if path, err = DefaultLogFile(); err != nil {
				return zerolog.Nop(), nopCloser{}, err
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    orDefault(opts.MaxSizeMB, 10), // Megabytes
			MaxBackups: orDefault(opts.MaxBackups, 3),
			MaxAge:     30, // Days
			Compress:   true,
		}
		writers = append(writers, rotator)
		closer = rotator
	}

	if opts.Console {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen})
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "glossa").
		Logger()
	return logger, closer, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
