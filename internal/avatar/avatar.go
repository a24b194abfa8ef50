// Package avatar hands completed assistant text to a streaming avatar service
// so it can be spoken by a rendered presenter.
//
// Only the text hand-off is implemented: the avatar session itself is created
// and torn down by the caller, who passes its identifier when opening the
// bridge.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL  = "https://api.heygen.com"
	defaultTaskType = "repeat"
	defaultTimeout  = 10 * time.Second

	// errorBodyLimit caps how much of an error response is quoted.
	errorBodyLimit = 1 << 10
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithBaseURL overrides the service base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTaskType sets the task type sent with every hand-off. "repeat" makes
// the avatar speak the text verbatim.
func WithTaskType(t string) Option {
	return func(c *Client) {
		if t != "" {
			c.taskType = t
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client posts text to the avatar streaming task endpoint. It is safe for
// concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	taskType   string
	httpClient *http.Client
}

// New returns a Client authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("avatar: api key must not be empty")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		taskType:   defaultTaskType,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "avatar " + r.Method + " " + r.URL.Path
				}),
			),
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type taskRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	TaskType  string `json:"task_type"`
}

// Speak asks the avatar in session to speak text. Blank text is a no-op.
func (c *Client) Speak(ctx context.Context, session, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if session == "" {
		return fmt.Errorf("avatar: speak: empty session")
	}

	body, err := json.Marshal(taskRequest{SessionID: session, Text: text, TaskType: c.taskType})
	if err != nil {
		return fmt.Errorf("avatar: speak: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/streaming.task", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("avatar: speak: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("avatar: speak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return fmt.Errorf("avatar: speak: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
