// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist coalesces session mutations into debounced saves.
//
// Schedule arms a trailing debounce timer per document key. The snapshot
// function is evaluated only when the save actually runs, so any number of
// mutations inside one window produce a single write of the final state.
// MaxWait bounds how long a continuously mutated key can go unsaved.
//
// Saves for one key are serialized; different keys save in parallel. A
// failed save is logged and retried with exponential backoff.
package persist
