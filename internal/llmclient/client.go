// Package llmclient is the retrying HTTP client over the external,
// OpenAI-compatible chat model this service delegates both structured memory
// extraction (C3) and conversational completion (C13) to. It is the single
// outbound collaborator satisfying both extraction.LLMClient and
// chatapi.ChatClient.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/memsubstrate/internal/chatapi"
	"github.com/yungbote/memsubstrate/internal/httpx"
	"github.com/yungbote/memsubstrate/internal/logger"
)

// Config configures the wrapped HTTP client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	return c
}

// Client talks to an OpenAI-compatible /v1/chat/completions endpoint, both
// for one-shot structured JSON extraction and for streamed conversational
// completion.
type Client struct {
	cfg        Config
	log        *logger.Logger
	httpClient *http.Client
}

func New(cfg Config, log *logger.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string       { return fmt.Sprintf("llm client: http %d: %s", e.Status, e.Body) }
func (e *httpError) HTTPStatusCode() int { return e.Status }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// GenerateJSON satisfies extraction.LLMClient: one-shot structured output
// via the OpenAI-compatible response_format=json_schema facility.
func (c *Client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, errors.New("llm client: schemaName required")
	}
	if schema == nil {
		return nil, errors.New("llm client: schema required")
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
	}

	var resp chatResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm client: empty choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, fmt.Errorf("llm client: empty content in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("llm client: decode model json: %w; text=%s", err, text)
	}
	return obj, nil
}

// StreamChat satisfies chatapi.ChatClient: streams assistant content deltas
// from the upstream model's own chat completion stream and forwards them
// unchanged. onDelta is best-effort; any non-empty delta is forwarded and
// accumulated into the returned text.
func (c *Client) StreamChat(ctx context.Context, systemPrompt string, messages []chatapi.Message, onDelta func(string)) (string, error) {
	reqMessages := make([]chatMessage, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		reqMessages = append(reqMessages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		reqMessages = append(reqMessages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    reqMessages,
		Temperature: c.cfg.Temperature,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", &httpError{Status: resp.StatusCode, Body: string(raw)}
	}

	var full strings.Builder
	err = streamSSELines(resp.Body, func(data string) error {
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return fmt.Errorf("llm client: upstream stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

func (c *Client) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
}

func (c *Client) setHeaders(r *http.Request) {
	if c.cfg.APIKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	r.Header.Set("Content-Type", "application/json")
}

// do performs one non-streaming request with bounded retry, exponential
// backoff (1s, doubling, capped at 30s), and jitter, mirroring the
// embedding client's retry discipline.
func (c *Client) do(ctx context.Context, req chatRequest, out *chatResponse) error {
	backoff := 1 * time.Second
	const maxBackoff = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.doOnce(ctx, req, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.cfg.MaxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(backoff)
		if c.log != nil {
			c.log.Warn("llm request retrying",
				"attempt", attempt+1,
				"max_retries", c.cfg.MaxRetries,
				"sleep", sleepFor.String(),
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, req chatRequest, out *chatResponse) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{Status: resp.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("llm client: decode response: %w; raw=%s", err, string(raw))
	}
	return nil
}

// streamSSELines parses a `data: <line>\n\n`-framed SSE body, one data
// payload per event, ignoring `event:`/comment lines since this protocol
// never needs them.
func streamSSELines(r io.Reader, onData func(data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if err := onData(data); err != nil {
			return err
		}
	}
	return scanner.Err()
}
