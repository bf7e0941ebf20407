// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/glossa/internal/backend"
)

// Configuration constants for OpenRouter API.
const (
	// DefaultOpenRouterURL is the base URL for OpenRouter API.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "openrouter/auto"

	// DefaultMaxRetries is the default number of retry attempts for transient errors.
	DefaultMaxRetries = 2

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 8 * time.Second

	// maxErrorBody limits how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// sharedStreamingClient has no timeout; streams are bounded by their context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	},
}

// ChatMessage represents a single message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`    // "user", "assistant", or "system"
	Content string `json:"content"` // The message content
}

// ChatRequest represents a request to the chat completions endpoint.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client streams completions from OpenRouter.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	siteName   string
	maxRetries int
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithSiteName sets the X-Title header OpenRouter shows in its dashboard.
func WithSiteName(name string) Option {
	return func(c *Client) { c.siteName = name }
}

// WithMaxRetries sets how often a request is retried before streaming starts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates an OpenRouter client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultOpenRouterURL,
		model:      DefaultModel,
		siteName:   "glossa",
		maxRetries: DefaultMaxRetries,
		httpClient: sharedStreamingClient,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "cloud").Logger()
	return c
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a masked version of the API key for display.
// SECURITY: Never exposes API key fragments - use fingerprint instead.
func (c *Client) APIKeyMasked() string {
	return MaskKey(c.apiKey)
}

// MaskKey renders a key as its length and fingerprint.
func MaskKey(key string) string {
	if key == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(key), fingerprint(key))
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key.
func (c *Client) KeyFingerprint() string {
	return fingerprint(c.apiKey)
}

func fingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// BACKEND IMPLEMENTATION
// =============================================================================

// Explain implements backend.Backend.
func (c *Client) Explain(ctx context.Context, text, stylePrompt string) (<-chan backend.Chunk, error) {
	return c.stream(ctx, backend.ExplainTurns(text, stylePrompt))
}

// Chat implements backend.Backend.
func (c *Client) Chat(ctx context.Context, history []backend.Turn) (<-chan backend.Chunk, error) {
	return c.stream(ctx, backend.ChatTurns(history))
}

func (c *Client) stream(ctx context.Context, turns []backend.Turn) (<-chan backend.Chunk, error) {
	if !c.IsConfigured() {
		return nil, &backend.ConfigError{Reason: "OpenRouter API key not set"}
	}

	msgs := make([]ChatMessage, len(turns))
	for i, t := range turns {
		msgs[i] = ChatMessage{Role: string(t.Role), Content: t.Content}
	}
	body, err := json.Marshal(ChatRequest{Model: c.model, Messages: msgs, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan backend.Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		c.processStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// doWithRetry posts the request, retrying rate limits and server errors
// with exponential backoff until a 200 response starts streaming.
func (c *Client) doWithRetry(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &backend.TransportError{Err: ctx.Err()}
			case <-time.After(calculateBackoff(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, &backend.ConfigError{Reason: fmt.Sprintf("invalid base URL: %v", err)}
		}
		c.setHeaders(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &backend.TransportError{Err: err}
			if ctx.Err() != nil {
				return nil, lastErr
			}
			c.logger.Debug().Err(err).Int("attempt", attempt).Msg("request failed")
			continue
		}

		c.logger.Debug().
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Str("model", c.model).
			Msg("response received")

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		be := backend.StatusError(resp.StatusCode, data)
		lastErr = be
		if !isRetryable(be) {
			return nil, be
		}
	}
	return nil, lastErr
}

// setHeaders sets the required headers for OpenRouter API requests.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", "glossa/0.1.0")
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// isRetryable reports whether a rejected request may succeed when retried.
func isRetryable(err error) bool {
	return errors.Is(err, backend.ErrRateLimited) || errors.Is(err, backend.ErrUnavailable)
}

// calculateBackoff returns the delay to wait before the next retry.
func calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
