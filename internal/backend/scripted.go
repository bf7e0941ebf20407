// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/glossa/internal/model"
	"github.com/jeranaias/glossa/internal/util"
)

// =============================================================================
// SCRIPTED BACKEND
// =============================================================================

// Request records one call made to a Scripted backend.
type Request struct {
	Op      string // "explain" or "chat"
	Text    string
	Style   string
	History []Turn
}

// Script is the response a Scripted backend plays back for a request.
type Script struct {
	// Fragments are streamed as content chunks in order.
	Fragments []string
	// Err, when set, is sent as an error chunk after the fragments.
	Err error
	// StartErr, when set, fails the call before any stream is started.
	StartErr error
}

// Scripted is a deterministic in-memory Backend. It is used by tests and by
// offline mode.
type Scripted struct {
	// Respond chooses the script for a request. Nil uses OfflineScript.
	Respond func(Request) Script
	// Delay is the pause before each fragment.
	Delay time.Duration

	mu       sync.Mutex
	requests []Request
}

// NewScripted creates a Scripted backend that always plays the same fragments.
func NewScripted(fragments ...string) *Scripted {
	return &Scripted{
		Respond: func(Request) Script { return Script{Fragments: fragments} },
	}
}

// Requests returns a copy of every request received so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Explain implements Backend.
func (s *Scripted) Explain(ctx context.Context, text, stylePrompt string) (<-chan Chunk, error) {
	return s.play(ctx, Request{Op: "explain", Text: text, Style: stylePrompt})
}

// Chat implements Backend.
func (s *Scripted) Chat(ctx context.Context, history []Turn) (<-chan Chunk, error) {
	h := make([]Turn, len(history))
	copy(h, history)
	return s.play(ctx, Request{Op: "chat", History: h})
}

func (s *Scripted) play(ctx context.Context, req Request) (<-chan Chunk, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	respond := s.Respond
	s.mu.Unlock()

	if respond == nil {
		respond = OfflineScript
	}
	script := respond(req)
	if script.StartErr != nil {
		return nil, script.StartErr
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for _, f := range script.Fragments {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					Send(ctx, ch, Failure(&TransportError{Err: ctx.Err()}))
					return
				}
			}
			if !Send(ctx, ch, Content(f)) {
				return
			}
		}
		if script.Err != nil {
			Send(ctx, ch, Failure(script.Err))
		}
	}()
	return ch, nil
}

// OfflineScript answers without any model, so the reader shell stays usable
// when no backend is configured.
func OfflineScript(req Request) Script {
	var reply string
	switch req.Op {
	case "explain":
		style := req.Style
		if style == "" {
			style = "Explain"
		}
		reply = fmt.Sprintf("**%s** (offline): %s", style, util.TruncateRunes(util.SingleLine(req.Text), 200))
	default:
		last := ""
		for i := len(req.History) - 1; i >= 0; i-- {
			if req.History[i].Role == model.RoleUser {
				last = req.History[i].Content
				break
			}
		}
		reply = fmt.Sprintf("Offline mode has no model attached. You said: %s", util.TruncateRunes(util.SingleLine(last), 200))
	}
	return Script{Fragments: splitWords(reply)}
}

// splitWords splits s into word fragments that keep their trailing space.
func splitWords(s string) []string {
	words := strings.SplitAfter(s, " ")
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
