// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Client implements backend.Backend against a local Ollama server by
// posting streaming /api/chat requests and reading the newline-delimited
// JSON responses.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - StreamReader: NDJSON reader that forwards content as backend chunks
//   - ChatRequest: Request structure for chat completions
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{Model: "llama3.2"}, logger)
//	chunks, err := client.Chat(ctx, history)
//	for c := range chunks {
//	    fmt.Print(c.Text)
//	}
package ollama
