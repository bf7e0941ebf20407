// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream routes streamed response fragments to the message that
// requested them.
//
// Each document owns one Router. The Router keeps at most one active Handle
// per Channel. Beginning a stream on a channel supersedes the previous
// handle: its message is finalized as superseded, its backend context is
// cancelled, and any of its events that still arrive are dropped as stale.
//
// # Usage
//
//	h, _ := router.Begin(stream.ChannelExplain, sessionID, messageID, cancel)
//	chunks, err := be.Explain(ctx, text, style)
//	if err != nil {
//		router.Fail(h, err)
//		return
//	}
//	go router.Pump(h, chunks)
package stream
