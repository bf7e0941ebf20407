// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a document's chat sessions to shareable formats.
//
// # Key Types
//
//   - Document: the sessions of one document plus export metadata
//   - Exporter: Main export interface
//   - Options: Export configuration options
//
// # Supported Formats
//
//   - Markdown: Human-readable with formatting
//   - JSON: Machine-readable with full metadata
//   - YAML: Machine-readable, friendlier to diff
//
// # Usage
//
//	exporter, err := export.ForFormat("md", nil)
//	path, err := export.ExportToFile(export.NewDocument(key, sessions), exporter, nil)
package export
