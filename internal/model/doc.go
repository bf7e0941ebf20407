// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// # Key Types
//
//   - Session: one chat conversation scoped to a document
//   - Message: a user or assistant message, mutable while streaming
//   - HighlightRef: anchor into the document text a session was opened from
//   - Action: optional follow-up affordance attached to a message
//
// # Usage
//
//	s := model.NewSession(1) // "Chat 1"
//	s.Messages = append(s.Messages, model.NewUserMessage("Summarize"))
//	reply := model.NewPlaceholder()
//	reply.AppendFragment("This ")
//	reply.Finalize()
package model
