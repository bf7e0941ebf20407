// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
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

// ErrNotRunning means no Ollama server answered at the configured URL.
var ErrNotRunning = errors.New("Ollama is not running")

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues on Windows
	BaseURL string

	// Model to use for all requests (default: "llama3.2")
	Model string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// ConnectTimeout bounds how long a streaming request may wait for
	// response headers (default: 30s, model loading can be slow)
	ConnectTimeout time.Duration

	// KeepAlive is passed through to the server when set.
	KeepAlive string

	// Options are sent with every chat request.
	Options *Options
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://127.0.0.1:11434",
		Model:          "llama3.2",
		Timeout:        30 * time.Second,
		ConnectTimeout: 30 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API and implements
// backend.Backend.
//
// The Client is thread-safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient()
//	if err := client.CheckRunning(ctx); err != nil {
//	    log.Fatal("Ollama not available:", err)
//	}
//	chunks, err := client.Explain(ctx, passage, "Summarize")
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	logger       zerolog.Logger
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig(), zerolog.Nop())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig, logger zerolog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: config.ConnectTimeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		logger: logger.With().Str("component", "ollama").Logger(),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &backend.ConfigError{Reason: fmt.Sprintf("invalid Ollama URL: %v", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &backend.TransportError{Err: fmt.Errorf("%w: %v", ErrNotRunning, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return backend.StatusError(resp.StatusCode, nil)
	}
	return nil
}

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &backend.ConfigError{Reason: fmt.Sprintf("invalid Ollama URL: %v", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &backend.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, backend.StatusError(resp.StatusCode, data)
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
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
	msgs := make([]Message, len(turns))
	for i, t := range turns {
		msgs[i] = Message{Role: string(t.Role), Content: t.Content}
	}

	body, err := json.Marshal(ChatRequest{
		Model:     c.config.Model,
		Messages:  msgs,
		Stream:    true,
		Options:   c.config.Options,
		KeepAlive: c.config.KeepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &backend.ConfigError{Reason: fmt.Sprintf("invalid Ollama URL: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &backend.TransportError{Err: err}
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("model", c.config.Model).
		Msg("response received")

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, backend.StatusError(resp.StatusCode, data)
	}

	ch := make(chan backend.Chunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		reader := NewStreamReader(resp.Body)
		reader.Process(ctx, ch)
		c.logger.Debug().Int("tokens", reader.Tokens()).Str("model", reader.Model()).Msg("stream finished")
	}()
	return ch, nil
}
