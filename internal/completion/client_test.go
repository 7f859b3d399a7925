package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nvasile/amica/internal/reliability"
)

func sseServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeChunk(t *testing.T, w http.ResponseWriter, content, finish string) {
	t.Helper()
	chunk := Chunk{
		ID:      "chatcmpl-1",
		Created: 1756600000,
		Choices: []Choice{{Delta: Delta{Content: content}, FinishReason: finish}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal chunk: %v", err)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func TestStreamConcatenatesDeltas(t *testing.T) {
	var gotAuth, gotPath string
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(t, w, "Hel", "")
		writeChunk(t, w, "lo ", "")
		writeChunk(t, w, "there", "stop")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"})
	var deltas []string
	full, err := c.Stream(context.Background(), []Message{{Role: "user", Content: "hi"}}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if full != "Hello there" {
		t.Fatalf("Stream() = %q, want %q", full, "Hello there")
	}
	if len(deltas) != 3 || deltas[0] != "Hel" {
		t.Fatalf("deltas = %v, want three in order", deltas)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("path = %q, want /chat/completions", gotPath)
	}
}

func TestStreamSendsModelAndMessages(t *testing.T) {
	var got streamRequest
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	c := NewClient(Config{BaseURL: srv.URL, Model: "test-model"})
	if _, err := c.Stream(context.Background(), []Message{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hello"},
	}, nil); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if got.Model != "test-model" || !got.Stream || len(got.Messages) != 2 {
		t.Fatalf("request = %+v, want streamed test-model with 2 messages", got)
	}
}

func TestStreamSkipsMalformedChunks(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		writeChunk(t, w, "ok", "stop")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	c := NewClient(Config{BaseURL: srv.URL})
	full, err := c.Stream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if full != "ok" {
		t.Fatalf("Stream() = %q, want %q", full, "ok")
	}
}

func TestStreamHTTPErrorClassification(t *testing.T) {
	for _, tc := range []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	} {
		srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		})
		c := NewClient(Config{BaseURL: srv.URL})
		_, err := c.Stream(context.Background(), nil, nil)
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			t.Fatalf("status %d: error = %v, want *HTTPError", tc.status, err)
		}
		if got := reliability.IsRetryableError(err); got != tc.retryable {
			t.Fatalf("status %d: retryable = %v, want %v", tc.status, got, tc.retryable)
		}
	}
}

func TestStreamWithoutDoneSentinelReturnsPartial(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunk(t, w, "partial", "")
	})
	c := NewClient(Config{BaseURL: srv.URL})
	full, err := c.Stream(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if full != "partial" {
		t.Fatalf("Stream() = %q, want %q", full, "partial")
	}
}
