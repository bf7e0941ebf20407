// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "github.com/google/uuid"

// Channel is an independent streaming lane.
type Channel string

const (
	// ChannelExplain carries explanation requests.
	ChannelExplain Channel = "explain"
	// ChannelChat carries follow-up chat messages.
	ChannelChat Channel = "chat"
)

// Channels lists every known channel.
var Channels = []Channel{ChannelExplain, ChannelChat}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelExplain || c == ChannelChat
}

// Handle binds a stream to the message it writes into. Handles are values
// and never change after Begin.
type Handle struct {
	StreamID    string
	Channel     Channel
	DocumentKey string
	SessionID   string
	MessageID   string
}

func newStreamID() string {
	return uuid.NewString()
}

// =============================================================================
// EVENTS
// =============================================================================

// EventKind tags a routed event.
type EventKind string

const (
	EventContent EventKind = "content"
	EventError   EventKind = "error"
	EventEnd     EventKind = "end"
)

// Event is one routed item of a stream.
type Event struct {
	StreamID string
	Channel  Channel
	Kind     EventKind
	Payload  string
	Err      error
}

// ContentEvent tags a fragment for h.
func (h Handle) ContentEvent(text string) Event {
	return Event{StreamID: h.StreamID, Channel: h.Channel, Kind: EventContent, Payload: text}
}

// ErrorEvent tags a failure for h.
func (h Handle) ErrorEvent(err error) Event {
	return Event{StreamID: h.StreamID, Channel: h.Channel, Kind: EventError, Err: err}
}

// EndEvent tags the end of h's stream.
func (h Handle) EndEvent() Event {
	return Event{StreamID: h.StreamID, Channel: h.Channel, Kind: EventEnd}
}
