// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// limited wraps a Backend with a token bucket shared by both operations.
type limited struct {
	next    Backend
	limiter *rate.Limiter
}

// RateLimited returns a Backend that waits for a token before starting each
// request. A non-positive limit disables limiting and returns b unchanged.
func RateLimited(b Backend, perSecond float64, burst int) Backend {
	if perSecond <= 0 {
		return b
	}
	if burst < 1 {
		burst = 1
	}
	return &limited{next: b, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}

// Explain implements Backend.
func (l *limited) Explain(ctx context.Context, text, stylePrompt string) (<-chan Chunk, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Explain(ctx, text, stylePrompt)
}

// Chat implements Backend.
func (l *limited) Chat(ctx context.Context, history []Turn) (<-chan Chunk, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.Chat(ctx, history)
}
