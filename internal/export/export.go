// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/glossa/internal/document"
	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/storage"
	"github.com/jeranaias/glossa/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Document is the unit of export: every session of one document.
type Document struct {
	Key        string          `json:"key" yaml:"key"`
	Title      string          `json:"title" yaml:"title"`
	ExportedAt time.Time       `json:"exported_at" yaml:"exported_at"`
	Sessions   []model.Session `json:"sessions" yaml:"sessions"`
}

// NewDocument builds a Document titled after the key's last element.
func NewDocument(key string, sessions []model.Session) *Document {
	return &Document{
		Key:        key,
		Title:      document.DisplayName(key),
		ExportedAt: time.Now(),
		Sessions:   sessions,
	}
}

// MessageCount returns the number of messages across every session.
func (d *Document) MessageCount() int {
	n := 0
	for i := range d.Sessions {
		n += len(d.Sessions[i].Messages)
	}
	return n
}

// Exporter defines the interface for session exporters.
type Exporter interface {
	// Export converts a document to the target format and returns the content.
	Export(doc *Document) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// IncludeMetadata includes a metadata header (key, dates, counts).
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// IncludeErrors keeps fallback error messages in the output.
	IncludeErrors bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

// Formats lists the names accepted by ForFormat.
var Formats = []string{"md", "json", "yaml"}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "markdown", "md", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "yaml", "yml":
		return NewYAMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s (use %s)", format, strings.Join(Formats, ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a document to a file using the specified exporter.
// Returns the output file path or an error.
func ExportToFile(doc *Document, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if doc == nil {
		return "", fmt.Errorf("document is nil")
	}

	content, err := exporter.Export(doc)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	// Generate output filename
	timestamp := doc.ExportedAt.Format("20060102_150405")
	filename := fmt.Sprintf("glossa_%s_%s%s",
		storage.SanitizeName(doc.Title),
		timestamp,
		exporter.FileExtension(),
	)

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	outputPath := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// visibleMessages returns the messages an export shows.
func visibleMessages(msgs []model.Message, opts *Options) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsError && !opts.IncludeErrors {
			continue
		}
		out = append(out, m)
	}
	return out
}

// filterDocument applies visibleMessages to every session of a copy of doc.
func filterDocument(doc *Document, opts *Options) *Document {
	out := *doc
	out.Sessions = model.CloneSessions(doc.Sessions)
	for i := range out.Sessions {
		out.Sessions[i].Messages = visibleMessages(out.Sessions[i].Messages, opts)
	}
	return &out
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
