// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"strings"

	"github.com/jeranaias/glossa/internal/model"
)

// RoleSystem is the role of the instruction turn prepended to requests.
// Sessions never store it.
const RoleSystem model.Role = "system"

// ExplainSystemPrompt frames explanation requests.
const ExplainSystemPrompt = "You help a reader understand passages from the document they are reading. " +
	"Answer in Markdown and keep the explanation focused on the passage."

// ChatSystemPrompt frames follow-up conversations.
const ChatSystemPrompt = "You are a reading companion discussing a document with the reader. " +
	"Answer in Markdown."

// ExplainTurns builds the request turns for an explanation of text in the
// given style. An empty style falls back to a plain explanation.
func ExplainTurns(text, stylePrompt string) []Turn {
	style := strings.TrimSpace(stylePrompt)
	if style == "" {
		style = "Explain"
	}

	var b strings.Builder
	b.WriteString(style)
	b.WriteString(":\n\n")
	b.WriteString(strings.TrimSpace(text))

	return []Turn{
		{Role: RoleSystem, Content: ExplainSystemPrompt},
		{Role: model.RoleUser, Content: b.String()},
	}
}

// ChatTurns prepends the chat instruction turn to a history.
func ChatTurns(history []Turn) []Turn {
	turns := make([]Turn, 0, len(history)+1)
	turns = append(turns, Turn{Role: RoleSystem, Content: ChatSystemPrompt})
	return append(turns, history...)
}
