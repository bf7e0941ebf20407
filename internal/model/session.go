// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"time"
)

// =============================================================================
// HIGHLIGHT REFERENCE
// =============================================================================

// HighlightRef anchors a session to a passage of the document's text layer.
type HighlightRef struct {
	Page  int    `json:"page" yaml:"page"`
	Start int    `json:"start" yaml:"start"`
	End   int    `json:"end" yaml:"end"`
	Text  string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Same reports whether two references point at the same anchor.
func (h *HighlightRef) Same(other *HighlightRef) bool {
	if h == nil || other == nil {
		return h == other
	}
	return h.Page == other.Page && h.Start == other.Start && h.End == other.End
}

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is one chat conversation scoped to a document.
type Session struct {
	ID        string        `json:"id" yaml:"id"`
	Title     string        `json:"title" yaml:"title"`
	Messages  []Message     `json:"messages" yaml:"messages"`
	Highlight *HighlightRef `json:"highlight,omitempty" yaml:"highlight,omitempty"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
}

// NewSession creates an empty session titled for the given 1-based position.
func NewSession(position int) Session {
	return Session{
		ID:        NewID(),
		Title:     TitleFor(position),
		Messages:  []Message{},
		CreatedAt: time.Now(),
	}
}

// TitleFor returns the automatic title of the session at a 1-based position.
func TitleFor(position int) string {
	return "Chat " + strconv.Itoa(position)
}

// Reusable reports whether the session has no messages and no highlight.
func (s *Session) Reusable() bool {
	return len(s.Messages) == 0 && s.Highlight == nil
}

// MessageIndex returns the index of the message with the given ID, or -1.
func (s *Session) MessageIndex(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Typing reports whether any message in the session is still streaming.
func (s *Session) Typing() bool {
	for i := range s.Messages {
		if s.Messages[i].Streaming {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the session.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.Action != nil {
			action := *m.Action
			m.Action = &action
		}
		out.Messages[i] = m
	}
	if s.Highlight != nil {
		h := *s.Highlight
		out.Highlight = &h
	}
	return out
}

// CloneSessions deep-copies a session list.
func CloneSessions(sessions []Session) []Session {
	out := make([]Session, len(sessions))
	for i := range sessions {
		out[i] = sessions[i].Clone()
	}
	return out
}

// FinalizeInterrupted finalizes messages persisted mid-stream so a reloaded
// session never shows a message stuck in the receiving state.
func FinalizeInterrupted(sessions []Session) {
	for i := range sessions {
		for j := range sessions[i].Messages {
			m := &sessions[i].Messages[j]
			if !m.Streaming {
				continue
			}
			if m.Content == PlaceholderText || m.Content == "" {
				m.Content = InterruptedText
			}
			m.Streaming = false
		}
	}
}
