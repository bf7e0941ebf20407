// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the glossa command line.
//
// # Commands
//
//   - open <path>: interactive reader shell for one document
//   - sessions [path]: list stored documents, or the sessions of one
//   - export <path>: write a document's sessions as Markdown, JSON or YAML
//   - key <path>: print the normalized document key
//   - config show|path|init: inspect and create the configuration
//
// # Shell
//
// Inside the shell every plain line is a chat message for the current
// session. Lines starting with a slash are commands:
//
//	/explain <style> :: <text>   explain a passage
//	/new                         start (or reuse) an empty session
//	/switch <n>                  make session n current
//	/rm <n>                      remove session n
//	/sessions                    list sessions
//	/open <path>                 switch documents
//	/quit                        leave the shell
package cli
