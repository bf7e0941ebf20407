// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/glossa/internal/backend"
)

// maxLineSize bounds a single NDJSON line.
const maxLineSize = 1024 * 1024

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader handles line-by-line JSON parsing of streaming responses.
type StreamReader struct {
	scanner *bufio.Scanner
	model   string
	tokens  int
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &StreamReader{scanner: sc}
}

// Next returns the next parsed line. Blank and malformed lines are skipped.
// Returns io.EOF at the end of the stream.
func (s *StreamReader) Next() (*ChatResponse, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp ChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Model != "" {
			s.model = resp.Model
		}
		if resp.Message.Content != "" {
			s.tokens++
		}
		return &resp, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Model returns the model name reported by the server.
func (s *StreamReader) Model() string {
	return s.model
}

// Tokens returns how many content lines were read.
func (s *StreamReader) Tokens() int {
	return s.tokens
}

// =============================================================================
// STREAM PROCESSING
// =============================================================================

// Process forwards the stream to ch until done, an error or the end of the body.
func (s *StreamReader) Process(ctx context.Context, ch chan<- backend.Chunk) {
	for {
		resp, err := s.Next()
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

		if resp.Error != "" {
			backend.Send(ctx, ch, backend.Failure(&backend.BackendError{
				Status:  http.StatusInternalServerError,
				Message: resp.Error,
			}))
			return
		}

		if resp.Message.Content != "" {
			if !backend.Send(ctx, ch, backend.Content(resp.Message.Content)) {
				return
			}
		}

		if resp.Done {
			return
		}
	}
}
