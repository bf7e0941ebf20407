// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides OpenRouter integration for streamed explanations
// and chat.
//
// OpenRouter exposes many model providers behind the OpenAI-compatible
// /chat/completions endpoint. Client implements backend.Backend by posting a
// streaming request and translating the server-sent events into chunks.
// Any OpenAI-compatible server works with WithBaseURL.
//
// # Usage
//
//	client := cloud.New(apiKey, cloud.WithModel("anthropic/claude-3.5-sonnet"))
//	chunks, err := client.Explain(ctx, passage, "Summarize")
//
// # Security
//
// API keys are never logged; use APIKeyMasked or KeyFingerprint for display.
package cloud
