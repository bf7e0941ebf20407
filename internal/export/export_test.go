// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/glossa/internal/model"
)

var fixedTime = time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)

func testDocument() *Document {
	user := model.NewUserMessage("Summarize")
	user.CreatedAt = fixedTime
	reply := model.Message{ID: "m2", Role: model.RoleAssistant, Content: "This ok", CreatedAt: fixedTime}
	failed := model.Message{ID: "m3", Role: model.RoleAssistant, Content: "Error: rate limited", IsError: true, CreatedAt: fixedTime}

	s1 := model.Session{
		ID:        "s1",
		Title:     "Chat 1",
		Messages:  []model.Message{user, reply, failed},
		Highlight: &model.HighlightRef{Page: 3, Start: 10, End: 20, Text: "quoted passage"},
		CreatedAt: fixedTime,
	}
	s2 := model.Session{ID: "s2", Title: "Chat 2", Messages: []model.Message{}, CreatedAt: fixedTime}

	doc := NewDocument("/docs/My_Paper.pdf", []model.Session{s1, s2})
	doc.ExportedAt = fixedTime
	return doc
}

// =============================================================================
// MARKDOWN TESTS
// =============================================================================

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(testDocument())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\n"))
	assert.Contains(t, md, "title: My_Paper.pdf\n")
	assert.Contains(t, md, "# My\\_Paper.pdf")
	assert.Contains(t, md, "## Chat 1")
	assert.Contains(t, md, "> quoted passage")
	assert.Contains(t, md, "### [You] <sub>10:30:00</sub>")
	assert.Contains(t, md, "This ok")
	assert.NotContains(t, md, "rate limited", "error messages are excluded by default")
	assert.NotContains(t, md, "## Chat 2", "empty sessions are skipped")
}

func TestMarkdownExporter_IncludeErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.IncludeErrors = true
	opts.IncludeTimestamps = false
	out, err := NewMarkdownExporter(opts).Export(testDocument())
	require.NoError(t, err)
	assert.Contains(t, string(out), "rate limited")
	assert.Contains(t, string(out), "### [Assistant]\n\n")
}

func TestMarkdownExporter_Empty(t *testing.T) {
	_, err := NewMarkdownExporter(nil).Export(NewDocument("/a.pdf", []model.Session{model.NewSession(1)}))
	assert.Error(t, err)
}

func TestEscapeYAML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a: b", `"a: b"`},
		{"Test\nInjection: x", `"Test\nInjection: x"`},
		{`back\slash`, `"back\\slash"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeYAML(tt.in), tt.in)
	}
}

// =============================================================================
// JSON / YAML TESTS
// =============================================================================

func TestJSONExporter(t *testing.T) {
	out, err := NewJSONExporter(nil).Export(testDocument())
	require.NoError(t, err)

	var got Document
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "/docs/My_Paper.pdf", got.Key)
	require.Len(t, got.Sessions, 2)
	assert.Len(t, got.Sessions[0].Messages, 2)
	assert.Equal(t, 3, got.Sessions[0].Highlight.Page)
}

func TestYAMLExporter(t *testing.T) {
	out, err := NewYAMLExporter(nil).Export(testDocument())
	require.NoError(t, err)

	var got Document
	require.NoError(t, yaml.Unmarshal(out, &got))
	assert.Equal(t, "My_Paper.pdf", got.Title)
	require.Len(t, got.Sessions, 2)
	assert.Equal(t, "This ok", got.Sessions[0].Messages[1].Content)
}

func TestExportDoesNotMutateInput(t *testing.T) {
	doc := testDocument()
	_, err := NewJSONExporter(nil).Export(doc)
	require.NoError(t, err)
	assert.Len(t, doc.Sessions[0].Messages, 3)
}

// =============================================================================
// FILE TESTS
// =============================================================================

var (
	_ Exporter = (*MarkdownExporter)(nil)
	_ Exporter = (*JSONExporter)(nil)
	_ Exporter = (*YAMLExporter)(nil)
)

func TestForFormat(t *testing.T) {
	tests := []struct {
		format, ext, mime string
	}{
		{"md", ".md", "text/markdown"},
		{"markdown", ".md", "text/markdown"},
		{"JSON", ".json", "application/json"},
		{"yml", ".yaml", "application/yaml"},
	}
	for _, tt := range tests {
		e, err := ForFormat(tt.format, nil)
		require.NoError(t, err, tt.format)
		assert.Equal(t, tt.ext, e.FileExtension(), tt.format)
		assert.Equal(t, tt.mime, e.MimeType(), tt.format)
	}
	_, err := ForFormat("pdf", nil)
	assert.Error(t, err)
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.OutputDir = filepath.Join(dir, "out")

	path, err := ExportToFile(testDocument(), NewMarkdownExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.OutputDir, "glossa_My_Paper.pdf_20250304_103000.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "This ok")
}
