// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestPlaceholder_FirstFragmentReplaces(t *testing.T) {
	m := NewPlaceholder()
	if !m.IsPlaceholder() {
		t.Fatal("new placeholder should report IsPlaceholder")
	}

	m.AppendFragment("Th")
	m.AppendFragment("is")
	if m.Content != "This" {
		t.Errorf("Content = %q, want %q", m.Content, "This")
	}
	if !m.Streaming {
		t.Error("message should still be streaming")
	}
}

func TestMessage_AppendClearsError(t *testing.T) {
	m := NewPlaceholder()
	m.IsError = true
	m.AppendFragment("ok")
	if m.IsError {
		t.Error("content fragment should clear IsError")
	}
}

func TestMessage_FinalizeEmptyPlaceholder(t *testing.T) {
	m := NewPlaceholder()
	m.Finalize()
	if m.Content != "" || m.Streaming {
		t.Errorf("Finalize on placeholder = (%q, %v), want empty and not streaming", m.Content, m.Streaming)
	}
}

func TestMessage_Supersede(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
		want      string
	}{
		{"no content", nil, SupersededText},
		{"partial content kept", []string{"half"}, "half"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPlaceholder()
			for _, f := range tt.fragments {
				m.AppendFragment(f)
			}
			m.Supersede()
			if m.Content != tt.want {
				t.Errorf("Content = %q, want %q", m.Content, tt.want)
			}
			if m.Streaming || !m.Superseded {
				t.Errorf("Streaming=%v Superseded=%v, want false/true", m.Streaming, m.Superseded)
			}
		})
	}
}

func TestMessage_SupersedeFinalizedIsNoop(t *testing.T) {
	m := NewUserMessage("hi")
	m.Supersede()
	if m.Superseded {
		t.Error("finalized message must not be marked superseded")
	}
}

func TestMessage_Preview(t *testing.T) {
	m := NewUserMessage("line one\nline  two   and more")
	if got := m.Preview(12); got != "line one ..." {
		t.Errorf("Preview = %q", got)
	}
	if got := m.Preview(100); got != "line one line two and more" {
		t.Errorf("Preview = %q", got)
	}
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestNewSession_Title(t *testing.T) {
	s := NewSession(3)
	if s.Title != "Chat 3" {
		t.Errorf("Title = %q, want Chat 3", s.Title)
	}
	if !s.Reusable() {
		t.Error("new session should be reusable")
	}
}

func TestSession_ReusableWithHighlight(t *testing.T) {
	s := NewSession(1)
	s.Highlight = &HighlightRef{Page: 1, Start: 0, End: 4}
	if s.Reusable() {
		t.Error("session with highlight must not be reusable")
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	s := NewSession(1)
	s.Highlight = &HighlightRef{Page: 2}
	msg := NewPlaceholder()
	msg.Action = &Action{Label: "a", Target: "t"}
	s.Messages = append(s.Messages, msg)

	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.Messages[0].Action.Label = "changed"
	c.Highlight.Page = 9

	if s.Messages[0].Content != PlaceholderText {
		t.Error("clone shares message slice")
	}
	if s.Messages[0].Action.Label != "a" {
		t.Error("clone shares action pointer")
	}
	if s.Highlight.Page != 2 {
		t.Error("clone shares highlight pointer")
	}
}

func TestHighlightRef_Same(t *testing.T) {
	a := &HighlightRef{Page: 1, Start: 2, End: 3, Text: "x"}
	b := &HighlightRef{Page: 1, Start: 2, End: 3, Text: "y"}
	if !a.Same(b) {
		t.Error("same anchor with different text should match")
	}
	var nilRef *HighlightRef
	if a.Same(nilRef) || !nilRef.Same(nil) {
		t.Error("nil handling wrong")
	}
}

func TestFinalizeInterrupted(t *testing.T) {
	s := NewSession(1)
	s.Messages = append(s.Messages, NewPlaceholder())
	partial := NewPlaceholder()
	partial.AppendFragment("partial")
	s.Messages = append(s.Messages, partial)

	sessions := []Session{s}
	FinalizeInterrupted(sessions)

	if got := sessions[0].Messages[0]; got.Streaming || got.Content != InterruptedText {
		t.Errorf("placeholder not finalized: %+v", got)
	}
	if got := sessions[0].Messages[1]; got.Streaming || got.Content != "partial" {
		t.Errorf("partial message not finalized: %+v", got)
	}
}
