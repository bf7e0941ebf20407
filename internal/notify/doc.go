// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify publishes session and message change notifications to UI
// subscribers.
//
// The Hub is an in-process watermill gochannel. Every change is published on
// the topic of its document and on AllTopic, as a JSON encoded Change.
// Subscriptions decode and acknowledge messages and expose a plain Go channel.
// Notifications are render hints: a slow subscriber misses intermediate
// changes rather than blocking the engine, and should re-read the snapshot.
//
// WaitCmd adapts a subscription into a Bubble Tea command.
package notify
