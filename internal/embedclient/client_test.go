package embedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbedBatch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dimension: 3, MaxRetries: 1}, nil)
	vecs, err := c.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 3 {
		t.Fatalf("unexpected result: %+v", vecs)
	}
}

func TestEmbedBatch_DimensionMismatchNonRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dimension: 768, MaxRetries: 2}, nil)
	_, err := c.EmbedBatch(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	apiErr, ok := err.(*Error)
	if !ok || apiErr.Recoverable {
		t.Fatalf("expected non-recoverable validation error, got %+v", err)
	}
}

func TestEmbedBatch_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dimension: 3, MaxRetries: 3}, nil)
	start := time.Now()
	vecs, err := c.EmbedBatch(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if len(vecs) != 1 {
		t.Fatalf("unexpected result: %+v", vecs)
	}
	if time.Since(start) <= 0 {
		t.Fatalf("expected some backoff delay")
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	c := New(Config{BaseURL: "http://example.invalid", Dimension: 3}, nil)
	_, err := c.EmbedBatch(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected error on empty input")
	}
}

func TestEmbedBatch_ValidationErrorsDoNotRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Dimension: 3, MaxRetries: 5}, nil)
	_, err := c.EmbedBatch(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected no retries on 400, got %d attempts", attempts)
	}
}
