// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the AI backend collaborator consumed by the
// streaming session engine.
//
// A Backend starts a generation and hands back a channel of tagged chunks.
// Content chunks carry text fragments in the order the model produced them,
// an error chunk reports a failure, and closing the channel marks the end of
// the stream. Implementations must stop sending once their context is
// cancelled.
//
// # Implementations
//
//   - cloud.Client: OpenRouter / OpenAI-compatible SSE streaming
//   - ollama.Client: local Ollama NDJSON streaming
//   - Scripted: deterministic responses for tests and offline mode
//   - RateLimited: token bucket decorator around any Backend
//
// # Error Types
//
//   - ConfigError: backend not usable (missing credential, bad URL)
//   - BackendError: backend reachable but rejected the request
//   - TransportError: backend unreachable or the connection failed
package backend
