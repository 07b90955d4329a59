// Package embedclient is a retrying HTTP client over an external embedding
// model service. It is a thin wrapper: dimension validation and error
// classification are its only real responsibilities, everything else is
// delegated to the wrapped HTTP transport.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/memsubstrate/internal/httpx"
	"github.com/yungbote/memsubstrate/internal/logger"
)

// ErrorClass classifies a failed embedding call for the error taxonomy in
// spec §7/§4.4.
type ErrorClass string

const (
	ErrorClassConnection ErrorClass = "connection_error"
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassModel      ErrorClass = "model_error"
	ErrorClassValidation ErrorClass = "validation_error"
	ErrorClassUnknown    ErrorClass = "unknown"
)

// Error is returned by Embed/EmbedBatch on failure; Recoverable reports
// whether the failure's class is transient (connection, timeout, 408, 429,
// 5xx) and so was retried, rather than failed on the first attempt.
type Error struct {
	Class       ErrorClass
	Recoverable bool
	Status      int
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("embedding client: %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("embedding client: %s", e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatusCode() int { return e.Status }

func classify(status int, err error) (ErrorClass, bool) {
	if status == 0 {
		if isTimeout(err) {
			return ErrorClassTimeout, true
		}
		return ErrorClassConnection, true
	}
	if status == 408 {
		return ErrorClassTimeout, true
	}
	if status == 429 || (status >= 500 && status <= 599) {
		return ErrorClassModel, true
	}
	if status >= 400 && status < 500 {
		return ErrorClassValidation, false
	}
	return ErrorClassUnknown, false
}

func isTimeout(err error) bool {
	ne, ok := asNetError(err)
	return ok && ne.Timeout()
}

func asNetError(err error) (net.Error, bool) {
	ne, ok := err.(net.Error)
	return ne, ok
}

// Config configures the wrapped HTTP client.
type Config struct {
	BaseURL             string
	Dimension           int // compile-/startup-time constant; dimension mismatch is non-recoverable
	Timeout             time.Duration
	MaxRetries          int // default attempt limit beyond the first try
	MaxIdleConns        int
	MaxIdleConnsPerHost int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Dimension <= 0 {
		c.Dimension = 768
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 5
	}
	return c
}

// Client embeds text via an external HTTP embedding service, with bounded
// retry and keep-alive.
type Client struct {
	cfg        Config
	log        *logger.Logger
	httpClient *http.Client
}

func New(cfg Config, log *logger.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			},
		},
	}
}

// Health reports whether the client is in a usable state. It performs no
// network call; it only verifies construction invariants, matching the
// Backfill Worker's lightweight liveness expectation.
func (c *Client) Health(ctx context.Context) error {
	if c.httpClient == nil {
		return fmt.Errorf("embedding client not initialized")
	}
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return fmt.Errorf("embedding client missing base url")
	}
	return nil
}

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, &Error{Class: ErrorClassModel, Recoverable: false, Err: fmt.Errorf("empty embedding response")}
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order, at most 10 texts per request, retrying
// transient failures of a request with exponential backoff (1s, doubling,
// capped at 30s, up to cfg.MaxRetries retries after the first attempt).
// A request that fails fails the whole call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &Error{Class: ErrorClassValidation, Recoverable: false, Err: fmt.Errorf("empty input")}
	}

	const maxBatchSize = 10
	if len(texts) > maxBatchSize {
		out := make([][]float32, 0, len(texts))
		for start := 0; start < len(texts); start += maxBatchSize {
			vecs, err := c.EmbedBatch(ctx, texts[start:min(start+maxBatchSize, len(texts))])
			if err != nil {
				return nil, err
			}
			out = append(out, vecs...)
		}
		return out, nil
	}

	backoff := 1 * time.Second
	const maxBackoff = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vecs, status, err := c.doOnce(ctx, texts)
		if err == nil {
			if dimErr := c.validateDimension(vecs); dimErr != nil {
				return nil, dimErr
			}
			return vecs, nil
		}

		class, recoverable := classify(status, err)
		apiErr := &Error{Class: class, Recoverable: recoverable, Status: status, Err: err}
		lastErr = apiErr

		if !recoverable {
			return nil, apiErr
		}
		if attempt == c.cfg.MaxRetries {
			return nil, apiErr
		}

		sleepFor := httpx.JitterSleep(backoff)
		if c.log != nil {
			c.log.Warn("embedding request retrying",
				"attempt", attempt+1,
				"max_retries", c.cfg.MaxRetries,
				"sleep", sleepFor.String(),
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleepFor):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, lastErr
}

func (c *Client) validateDimension(vecs [][]float32) error {
	for _, v := range vecs {
		if len(v) != c.cfg.Dimension {
			return &Error{
				Class:       ErrorClassValidation,
				Recoverable: false,
				Err:         fmt.Errorf("embedding dimension mismatch: got %d want %d", len(v), c.cfg.Dimension),
			}
		}
	}
	return nil
}

func (c *Client) doOnce(ctx context.Context, texts []string) ([][]float32, int, error) {
	body, err := json.Marshal(embedRequest{Input: texts})
	if err != nil {
		return nil, 0, err
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(raw))
	}

	var out embedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode embedding response: %w", err)
	}
	return out.Embeddings, resp.StatusCode, nil
}
