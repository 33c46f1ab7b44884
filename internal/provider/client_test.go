// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "test-key", "test-model",
		WithEmbeddingModel("test-embed"),
		WithHTTPClients(srv.Client(), srv.Client()))
	return c, srv
}

func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: ")
		b.WriteString(e)
		b.WriteString("\n\n")
	}
	return b.String()
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestStreamCompletion_TokensAndUsage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":2,"total_tokens":14}}`,
			"[DONE]",
		))
	}))

	chunks, err := c.StreamCompletion(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, 100, 0.2)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var text strings.Builder
	var usage *Usage
	doneSeen := false
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("unexpected chunk error: %v", chunk.Err)
		}
		text.WriteString(chunk.Content)
		if chunk.Done {
			doneSeen = true
			usage = chunk.Usage
		}
	}

	if text.String() != "Hello" {
		t.Errorf("streamed text = %q, want \"Hello\"", text.String())
	}
	if !doneSeen {
		t.Fatal("no done chunk before channel close")
	}
	if usage == nil || usage.PromptTokens != 12 || usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v, want prompt 12 completion 2", usage)
	}
}

func TestStreamCompletion_EOFWithoutDoneStillCompletes(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(`{"choices":[{"delta":{"content":"partial"}}]}`))
	}))

	chunks, err := c.StreamCompletion(context.Background(), nil, 0, 0)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var got string
	doneSeen := false
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("unexpected error: %v", chunk.Err)
		}
		got += chunk.Content
		doneSeen = doneSeen || chunk.Done
	}
	if got != "partial" || !doneSeen {
		t.Errorf("got %q doneSeen=%v, want \"partial\" with done", got, doneSeen)
	}
}

func TestStreamCompletion_CancelEndsStreamWithError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(`{"choices":[{"delta":{"content":"first"}}]}`))
		w.(http.Flusher).Flush()
		// Hold the stream open until the client cancels.
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chunks, err := c.StreamCompletion(ctx, []ChatMessage{{Role: "user", Content: "hi"}}, 0, 0)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var got string
	errSeen := false
	doneSeen := false
	for chunk := range chunks {
		if chunk.Content != "" {
			got += chunk.Content
			cancel()
		}
		if chunk.Err != nil {
			errSeen = true
		}
		if chunk.Done {
			doneSeen = true
		}
	}
	// The channel closed, a terminal error chunk arrived, and the stream
	// never pretended to finish cleanly.
	if got != "first" {
		t.Errorf("text before cancel = %q, want \"first\"", got)
	}
	if !errSeen {
		t.Error("no error chunk after cancellation")
	}
	if doneSeen {
		t.Error("done chunk after cancellation, want none")
	}
}

func TestStreamCompletion_MalformedFrameSkipped(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseBody(
			`{not json`,
			`{"choices":[{"delta":{"content":"ok"}}]}`,
			"[DONE]",
		))
	}))

	chunks, err := c.StreamCompletion(context.Background(), nil, 0, 0)
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var got string
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("unexpected error: %v", chunk.Err)
		}
		got += chunk.Content
	}
	if got != "ok" {
		t.Errorf("text = %q, want \"ok\"", got)
	}
}

// =============================================================================
// CLASSIFICATION TESTS
// =============================================================================

func TestStreamCompletion_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrUpstreamTransient},
		{http.StatusInternalServerError, ErrUpstreamTransient},
		{http.StatusBadGateway, ErrUpstreamTransient},
		{http.StatusUnauthorized, ErrUpstreamRejected},
		{http.StatusBadRequest, ErrUpstreamRejected},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			_, err := c.StreamCompletion(context.Background(), nil, 0, 0)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStreamCompletion_NotConfigured(t *testing.T) {
	c := NewClient("", "", "")
	if _, err := c.StreamCompletion(context.Background(), nil, 0, 0); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

// =============================================================================
// EMBEDDING TESTS
// =============================================================================

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		// Respond out of order; the client must reassemble by index.
		fmt.Fprint(w, `{"data":[
			{"index":1,"embedding":[0.4,0.5]},
			{"index":0,"embedding":[0.1,0.2]}
		],"usage":{"prompt_tokens":5,"total_tokens":5}}`)
	}))

	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.4 {
		t.Errorf("order not preserved: %v", vecs)
	}
}

func TestEmbed_TransientOnServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	if _, err := c.Embed(context.Background(), "text"); !errors.Is(err, ErrUpstreamTransient) {
		t.Errorf("err = %v, want ErrUpstreamTransient", err)
	}
}
