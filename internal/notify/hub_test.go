// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notify

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
		return Change{}
	}
}

func TestHub_DocumentTopic(t *testing.T) {
	h := NewHub(zerolog.Nop())
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), Topic("/a.pdf"))
	require.NoError(t, err)
	defer sub.Close()

	want := Change{Kind: "message_updated", DocumentKey: "/a.pdf", SessionID: "s", MessageID: "m"}
	require.NoError(t, h.Publish(want))
	assert.Equal(t, want, receive(t, sub))
}

func TestHub_AllTopicSeesEveryDocument(t *testing.T) {
	h := NewHub(zerolog.Nop())
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), AllTopic)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, h.Publish(Change{Kind: "x", DocumentKey: "/a.pdf"}))
	require.NoError(t, h.Publish(Change{Kind: "x", DocumentKey: "/b.pdf"}))

	seen := map[string]bool{}
	seen[receive(t, sub).DocumentKey] = true
	seen[receive(t, sub).DocumentKey] = true
	assert.Equal(t, map[string]bool{"/a.pdf": true, "/b.pdf": true}, seen)
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	h := NewHub(zerolog.Nop())
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), AllTopic)
	require.NoError(t, err)
	defer sub.Close()

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			_ = h.Publish(Change{Kind: "message_updated", DocumentKey: "/a.pdf", MessageID: strconv.Itoa(i)})
		}
	}()

	for i := 0; i < n; i++ {
		assert.Equal(t, strconv.Itoa(i), receive(t, sub).MessageID)
	}
}

func TestHub_OtherDocumentNotDelivered(t *testing.T) {
	h := NewHub(zerolog.Nop())
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), Topic("/a.pdf"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, h.Publish(Change{Kind: "x", DocumentKey: "/b.pdf"}))
	select {
	case c := <-sub.C:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscription_CloseEndsChannel(t *testing.T) {
	h := NewHub(zerolog.Nop())
	defer h.Close()

	sub, err := h.Subscribe(context.Background(), AllTopic)
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestWaitCmd(t *testing.T) {
	h := NewHub(zerolog.Nop())

	sub, err := h.Subscribe(context.Background(), AllTopic)
	require.NoError(t, err)

	require.NoError(t, h.Publish(Change{Kind: "session_created", DocumentKey: "/a.pdf"}))
	msg := WaitCmd(sub)()
	change, ok := msg.(ChangeMsg)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "session_created", change.Kind)

	require.NoError(t, h.Close())
	_, ok = WaitCmd(sub)().(ClosedMsg)
	assert.True(t, ok)
}
