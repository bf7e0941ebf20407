// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fallback turns backend failures into user-legible assistant messages.
//
// Every failure is classified into a Category and rendered as fixed-tone text
// prefixed with "Error: ". The rendered message is always finalized and marked
// as an error, so a failed stream never leaves a message in the receiving
// state.
package fallback
