// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// PLACEHOLDER TEXT
// =============================================================================

const (
	// PlaceholderText is the content of an assistant message before its first fragment.
	PlaceholderText = "Receiving…"

	// SupersededText replaces the placeholder of a message whose stream was
	// superseded before any fragment arrived.
	SupersededText = "Superseded by a newer request."

	// InterruptedText replaces the placeholder of a message that was still
	// streaming when it was persisted.
	InterruptedText = "Response interrupted."
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Action is an optional follow-up affordance attached to a message.
type Action struct {
	Label  string `json:"label" yaml:"label"`
	Target string `json:"target" yaml:"target"`
}

// Message represents a single message in a session.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	IsError   bool      `json:"is_error,omitempty" yaml:"is_error,omitempty"`
	Action    *Action   `json:"action,omitempty" yaml:"action,omitempty"`

	// Streaming is true while a stream is still writing into the message.
	Streaming bool `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	// Superseded is set when a newer stream on the same channel took over.
	Superseded bool `json:"superseded,omitempty" yaml:"superseded,omitempty"`
}

// NewUserMessage creates a finalized user message.
func NewUserMessage(content string) Message {
	return Message{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewPlaceholder creates an assistant message in the receiving state.
func NewPlaceholder() Message {
	return Message{
		ID:        NewID(),
		Role:      RoleAssistant,
		Content:   PlaceholderText,
		CreatedAt: time.Now(),
		Streaming: true,
	}
}

// IsPlaceholder reports whether the message has not received any content yet.
func (m *Message) IsPlaceholder() bool {
	return m.Streaming && m.Content == PlaceholderText
}

// AppendFragment appends streamed text, replacing the placeholder on the first fragment.
func (m *Message) AppendFragment(text string) {
	if m.IsPlaceholder() {
		m.Content = text
	} else {
		m.Content += text
	}
	m.IsError = false
}

// Finalize ends streaming. A message that never received content is left empty.
func (m *Message) Finalize() {
	if m.IsPlaceholder() {
		m.Content = ""
	}
	m.Streaming = false
}

// Supersede finalizes the message because a newer stream took over its channel.
// Partial content is kept.
func (m *Message) Supersede() {
	if !m.Streaming {
		return
	}
	if m.IsPlaceholder() {
		m.Content = SupersededText
	}
	m.Streaming = false
	m.Superseded = true
}

// Fail replaces the content with an error text and finalizes the message.
func (m *Message) Fail(content string, action *Action) {
	m.Content = content
	m.IsError = true
	m.Action = action
	m.Streaming = false
}

// Preview returns a single-line rune-safe preview of the content.
func (m *Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.Content), " ")
	runes := []rune(content)
	if len(runes) <= maxLen || maxLen <= 3 {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}
