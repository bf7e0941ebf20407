// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/glossa/internal/backend"
)

// STREAMING: Robust SSE parsing with error handling

// MaxChunkSize is the maximum allowed size for a single SSE line (64KB)
const MaxChunkSize = 64 * 1024

// ErrChunkTooLarge is returned when an SSE line exceeds MaxChunkSize.
var ErrChunkTooLarge = errors.New("stream chunk too large")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk represents a single chunk from the streaming response.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	// Error is set when the provider fails after the stream has started.
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// IsDone returns true if the stream has finished.
func (c *StreamChunk) IsDone() bool {
	if len(c.Choices) > 0 {
		return c.Choices[0].FinishReason != ""
	}
	return false
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader reads Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReaderSize(r, 4096)}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type, data, and any error.
// Returns io.EOF when the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// readLine reads one line without its terminator, enforcing MaxChunkSize.
func (s *SSEReader) readLine() ([]byte, error) {
	var line []byte
	for {
		part, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		line = append(line, part...)
		if len(line) > MaxChunkSize {
			return nil, ErrChunkTooLarge
		}
		if !isPrefix {
			return line, nil
		}
	}
}

// =============================================================================
// STREAM PROCESSING
// =============================================================================

// processStream reads the SSE body and forwards content to ch until the
// [DONE] sentinel, a finish reason, an error or the end of the body.
func (c *Client) processStream(ctx context.Context, body io.Reader, ch chan<- backend.Chunk) {
	reader := NewSSEReader(body)

	for {
		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			backend.Send(ctx, ch, backend.Failure(&backend.TransportError{Err: fmt.Errorf("reading stream: %w", err)}))
			return
		}

		// Check for [DONE] signal
		if bytes.Equal(data, []byte("[DONE]")) {
			return
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Debug().Err(err).Msg("skipping malformed chunk")
			continue
		}

		if chunk.Error != nil {
			be := &backend.BackendError{Status: 500, Message: chunk.Error.Message}
			if chunk.Error.Code != nil {
				be.Code = fmt.Sprint(chunk.Error.Code)
				if status, ok := chunk.Error.Code.(float64); ok && status >= 400 {
					be.Status = int(status)
				}
			}
			backend.Send(ctx, ch, backend.Failure(be))
			return
		}

		if text := chunk.GetContent(); text != "" {
			if !backend.Send(ctx, ch, backend.Content(text)) {
				return
			}
		}

		if chunk.IsDone() {
			return
		}
	}
}
