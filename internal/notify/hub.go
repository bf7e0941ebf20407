// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// AllTopic receives the changes of every document.
const AllTopic = "glossa.changes"

// subscriberBuffer is the capacity of a Subscription's channel.
const subscriberBuffer = 256

// Change is one notification.
type Change struct {
	Kind        string `json:"kind"`
	DocumentKey string `json:"document_key"`
	SessionID   string `json:"session_id,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
}

// Topic returns the topic of one document.
func Topic(documentKey string) string {
	return "glossa.document." + documentKey
}

// Hub fans changes out to subscribers.
type Hub struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
}

// NewHub creates a Hub.
func NewHub(logger zerolog.Logger) *Hub {
	logger = logger.With().Str("component", "notify").Logger()
	return &Hub{
		pubsub: gochannel.NewGoChannel(
			// Blocking until the ack keeps each subscriber's changes in
			// publish order. forward acks on receipt.
			gochannel.Config{
				OutputChannelBuffer:            subscriberBuffer,
				BlockPublishUntilSubscriberAck: true,
			},
			NewWatermillLogger(logger),
		),
		logger: logger,
	}
}

// Publish sends c to its document topic and to AllTopic.
func (h *Hub) Publish(c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	for _, topic := range []string{Topic(c.DocumentKey), AllTopic} {
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := h.pubsub.Publish(topic, msg); err != nil {
			return fmt.Errorf("publish change to %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe listens on topic until ctx is done or the subscription is
// closed.
func (h *Hub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	messages, err := h.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan Change, subscriberBuffer)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}
	go h.forward(messages, out, topic, sub.done)
	return sub, nil
}

func (h *Hub) forward(messages <-chan *message.Message, out chan<- Change, topic string, done chan<- struct{}) {
	defer close(done)
	defer close(out)
	for msg := range messages {
		msg.Ack()

		var c Change
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			h.logger.Error().Err(err).Str("payload", string(msg.Payload)).Msg("Failed to parse change")
			continue
		}
		select {
		case out <- c:
		default:
			h.logger.Debug().Str("topic", topic).Str("kind", c.Kind).Msg("subscriber full, dropping change")
		}
	}
}

// Close shuts the hub down and ends every subscription.
func (h *Hub) Close() error {
	return h.pubsub.Close()
}

// Subscription is a live stream of changes.
type Subscription struct {
	// C is closed when the subscription ends.
	C <-chan Change

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Close ends the subscription and waits for C to be closed.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}
