// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the ordered chat sessions of one open document.
//
// A Store always holds at least one session and exactly one current
// session. Sessions are titled "Chat N" by position. Message mutation
// primitives silently do nothing when their target has been removed, so a
// stream that outlives its session cannot fail.
//
// Observers registered with OnChange run after the store lock is released.
package session
