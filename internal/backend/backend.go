// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"

	"github.com/jeranaias/glossa/internal/model"
)

// =============================================================================
// CHUNK TYPES
// =============================================================================

// ChunkKind tags a streamed chunk.
type ChunkKind int

const (
	// ChunkContent carries a text fragment.
	ChunkContent ChunkKind = iota
	// ChunkError reports a failure. No further chunks follow it.
	ChunkError
)

// String returns the kind name.
func (k ChunkKind) String() string {
	switch k {
	case ChunkContent:
		return "content"
	case ChunkError:
		return "error"
	default:
		return "unknown"
	}
}

// Chunk is one item of a response stream.
type Chunk struct {
	Kind ChunkKind
	Text string
	Err  error
}

// Content returns a content chunk.
func Content(text string) Chunk {
	return Chunk{Kind: ChunkContent, Text: text}
}

// Failure returns an error chunk.
func Failure(err error) Chunk {
	return Chunk{Kind: ChunkError, Err: err}
}

// Turn is one entry of a chat history sent to the backend.
type Turn struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend is the AI completion collaborator.
//
// Both operations return once the request has been initiated. The returned
// channel is closed when the stream ends; an error chunk, if any, is the last
// item before closure. A non-nil error means the stream never started.
type Backend interface {
	Explain(ctx context.Context, text, stylePrompt string) (<-chan Chunk, error)
	Chat(ctx context.Context, history []Turn) (<-chan Chunk, error)
}

// Send delivers a chunk unless ctx is done first. It reports whether the
// chunk was delivered.
func Send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// TurnsFromMessages converts session messages into chat history, skipping
// error messages, messages still streaming and assistant messages without
// content.
func TurnsFromMessages(messages []model.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		if m.IsError || m.Streaming {
			continue
		}
		if m.Role == model.RoleAssistant && m.Content == "" {
			continue
		}
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
