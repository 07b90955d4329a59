package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/memsubstrate/internal/chatapi"
)

func TestGenerateJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: `{"memories":[]}`}}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-model", MaxRetries: 1}, nil)
	out, err := c.GenerateJSON(context.Background(), "system", "user", "candidates", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out["memories"]; !ok {
		t.Fatalf("expected memories key in decoded json, got %+v", out)
	}
}

func TestGenerateJSON_RequiresSchema(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"}, nil)
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "name", nil); err == nil {
		t.Fatalf("expected error for nil schema")
	}
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "", map[string]any{}); err == nil {
		t.Fatalf("expected error for empty schema name")
	}
}

func TestGenerateJSON_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: `{"ok":true}`}}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3}, nil)
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "n", map[string]any{"type": "object"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestGenerateJSON_NonRetryable4xxFailsImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3}, nil)
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "n", map[string]any{"type": "object"}); err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable 4xx, got %d", attempts)
	}
}

func writeSSEChunk(w http.ResponseWriter, content string) {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]any{"content": content}}},
	})
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func TestStreamChat_ForwardsDeltasAndAccumulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		writeSSEChunk(w, "hel")
		flusher.Flush()
		writeSSEChunk(w, "lo")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Model: "test-model"}, nil)
	var deltas []string
	text, err := c.StreamChat(context.Background(), "sys", []chatapi.Message{{Role: "user", Content: "hi"}}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Fatalf("text = %q, want hello", text)
	}
	if len(deltas) != 2 || deltas[0] != "hel" || deltas[1] != "lo" {
		t.Fatalf("deltas = %v", deltas)
	}
}

func TestStreamChat_UpstreamErrorEventPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		b, _ := json.Marshal(map[string]any{"error": map[string]any{"message": "model overloaded"}})
		fmt.Fprintf(w, "data: %s\n\n", b)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	_, err := c.StreamChat(context.Background(), "sys", []chatapi.Message{{Role: "user", Content: "hi"}}, func(string) {})
	if err == nil {
		t.Fatalf("expected error from upstream error event")
	}
}

func TestStreamChat_NonOKStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "upstream down")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, nil)
	_, err := c.StreamChat(context.Background(), "sys", []chatapi.Message{{Role: "user", Content: "hi"}}, func(string) {})
	if err == nil {
		t.Fatalf("expected error")
	}
}
