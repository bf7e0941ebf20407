// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/glossa/internal/backend"
	"github.com/jeranaias/glossa/internal/model"
)

// sseHandler writes each fragment as an SSE chunk followed by [DONE].
func sseHandler(fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range fragments {
			data, _ := json.Marshal(map[string]any{
				"id":      "gen-1",
				"choices": []map[string]any{{"delta": map[string]string{"content": f}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func collect(t *testing.T, ch <-chan backend.Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	var last error
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return sb.String(), last
			}
			if c.Kind == backend.ChunkError {
				last = c.Err
				continue
			}
			sb.WriteString(c.Text)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

// =============================================================================
// CONFIGURATION TESTS
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	c := New("  sk-test  ")
	assert.True(t, c.IsConfigured())
	assert.Equal(t, DefaultModel, c.Model())
	assert.NotContains(t, c.APIKeyMasked(), "sk-test")
	assert.Contains(t, c.APIKeyMasked(), "length=7")
}

func TestMaskKey_Empty(t *testing.T) {
	assert.Equal(t, "[not set]", MaskKey(""))
	assert.Equal(t, "none", New("").KeyFingerprint())
}

func TestStream_Unconfigured(t *testing.T) {
	c := New("")
	_, err := c.Explain(context.Background(), "text", "Explain")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrNotConfigured))
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestExplain_StreamsFragments(t *testing.T) {
	var got ChatRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		sseHandler("Th", "is ", "ok")(w, r)
	}))
	defer srv.Close()

	c := New("sk-test", WithBaseURL(srv.URL), WithModel("test/model"))
	ch, err := c.Explain(context.Background(), "  some passage ", "Summarize")
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	assert.NoError(t, streamErr)
	assert.Equal(t, "This ok", text)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "test/model", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Summarize:\n\nsome passage", got.Messages[1].Content)
}

func TestChat_SendsHistory(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		sseHandler("hi")(w, r)
	}))
	defer srv.Close()

	c := New("sk-test", WithBaseURL(srv.URL))
	ch, err := c.Chat(context.Background(), []backend.Turn{
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "hey"},
		{Role: model.RoleUser, Content: "again"},
	})
	require.NoError(t, err)
	_, streamErr := collect(t, ch)
	require.NoError(t, streamErr)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "again", got.Messages[3].Content)
}

func TestStream_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":429,"message":"slow down"}}`)
	}))
	defer srv.Close()

	c := New("sk-test", WithBaseURL(srv.URL), WithMaxRetries(0))
	_, err := c.Explain(context.Background(), "text", "")
	require.Error(t, err)

	var be *backend.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusTooManyRequests, be.Status)
	assert.True(t, errors.Is(err, backend.ErrRateLimited))
}

func TestStream_RetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		sseHandler("recovered")(w, r)
	}))
	defer srv.Close()

	c := New("sk-test", WithBaseURL(srv.URL), WithMaxRetries(1))
	ch, err := c.Chat(context.Background(), []backend.Turn{{Role: model.RoleUser, Content: "x"}})
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	assert.NoError(t, streamErr)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStream_AuthNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("sk-bad", WithBaseURL(srv.URL), WithMaxRetries(3))
	_, err := c.Explain(context.Background(), "text", "")
	assert.True(t, errors.Is(err, backend.ErrAuthFailed))
	assert.Equal(t, int32(1), calls.Load())
}

func TestStream_MidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"part\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"error\":{\"code\":502,\"message\":\"provider down\"}}\n\n")
	}))
	defer srv.Close()

	c := New("sk-test", WithBaseURL(srv.URL))
	ch, err := c.Explain(context.Background(), "text", "")
	require.NoError(t, err)

	text, streamErr := collect(t, ch)
	assert.Equal(t, "part", text)
	require.Error(t, streamErr)
	assert.True(t, errors.Is(streamErr, backend.ErrUnavailable))
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader_Events(t *testing.T) {
	input := ": comment\nevent: message\ndata: one\ndata: two\n\n\ndata: three"
	r := NewSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "message", ev)
	assert.Equal(t, "one\ntwo", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))

	_, _, err = r.ReadEvent()
	assert.Error(t, err)
}

func TestSSEReader_ChunkTooLarge(t *testing.T) {
	r := NewSSEReader(strings.NewReader("data: " + strings.Repeat("x", MaxChunkSize+10) + "\n\n"))
	_, _, err := r.ReadEvent()
	assert.ErrorIs(t, err, ErrChunkTooLarge)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, calculateBackoff(0))
	assert.Equal(t, time.Second, calculateBackoff(1))
	assert.Equal(t, retryMaxDelay, calculateBackoff(10))
}
