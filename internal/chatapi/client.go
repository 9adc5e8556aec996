// Package chatapi is the client for the remote support chat API. Chat turns are
// sent with a per-attempt timeout and linear-backoff retries; health checks are
// single attempts that never fail to the caller.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"supportchat/internal/logger"

	"github.com/charmbracelet/log"
)

// Default request settings, matching the browser client.
const (
	DefaultChatPath    = "/chat"
	DefaultHealthPath  = "/health"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxHistory  = 10
)

// Health status values.
const (
	StatusHealthy = "healthy"
	StatusError   = "error"
)

// Config holds the client settings.
type Config struct {
	BaseURL     string
	ChatPath    string
	HealthPath  string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseDelay   time.Duration // wait before retry k is BaseDelay*k
	MaxHistory  int           // history entries sent per request
}

// DefaultConfig returns the default settings for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		ChatPath:    DefaultChatPath,
		HealthPath:  DefaultHealthPath,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxHistory:  DefaultMaxHistory,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client talks to the chat API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleep      Sleeper
	logger     *log.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSleeper replaces the backoff wait, mainly for tests.
func WithSleeper(sleep Sleeper) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates a Client. Missing settings fall back to defaults and
// MaxAttempts is at least 1.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.ChatPath == "" {
		cfg.ChatPath = DefaultChatPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = DefaultHealthPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = DefaultMaxHistory
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		sleep:  sleepContext,
		logger: logger.NewStyledLogger("ChatAPI"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("Chat API client initialized",
		"base_url", cfg.BaseURL,
		"timeout", cfg.Timeout.String(),
		"max_attempts", cfg.MaxAttempts,
		"base_delay", cfg.BaseDelay.String())
	return c
}

// Config returns the effective settings.
func (c *Client) Config() Config {
	return c.cfg
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// ChatRequest is the body of a chat turn.
type ChatRequest struct {
	Message     string   `json:"message"`
	History     []string `json:"history"`
	PhoneNumber *string  `json:"phone_number"`
}

// Reply is the API's answer to a chat turn.
type Reply struct {
	Reply             string `json:"reply"`
	CompressedContext string `json:"compressed_context,omitempty"`
}

type replyPayload struct {
	Reply             *string `json:"reply"`
	CompressedContext *string `json:"compressed_context"`
}

// SendMessage sends text with the most recent MaxHistory history entries.
// contactKey is passed through as phone_number, or null when empty; the client
// does not interpret it. Failed attempts are retried; the returned error is a
// *RequestError describing the last attempt.
func (c *Client) SendMessage(ctx context.Context, text string, history []string, contactKey string) (*Reply, error) {
	payload := ChatRequest{
		Message: text,
		History: window(history, c.cfg.MaxHistory),
	}
	if contactKey != "" {
		payload.PhoneNumber = &contactKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	var reply Reply
	decode := func(data []byte) error {
		var p replyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		if p.Reply == nil {
			return errors.New("response has no reply field")
		}
		reply.Reply = *p.Reply
		if p.CompressedContext != nil {
			reply.CompressedContext = *p.CompressedContext
		}
		return nil
	}

	if err := c.doWithRetry(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.ChatPath, body, decode); err != nil {
		return nil, err
	}
	return &reply, nil
}

// window returns the last n entries of history as a new non-nil slice.
func window(history []string, n int) []string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	return append(make([]string, 0, len(history)), history...)
}

// HealthStatus is the result of a health check.
type HealthStatus struct {
	Status  string         `json:"status"`
	Version string         `json:"version,omitempty"`
	Model   string         `json:"model,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"-"` // the full decoded response body
}

// Healthy reports whether the API said it is healthy.
func (h HealthStatus) Healthy() bool {
	return h.Status == StatusHealthy
}

// CheckHealth makes one request to the health endpoint. It never returns an
// error: any failure becomes a status of "error" carrying the error text.
func (c *Client) CheckHealth(ctx context.Context) HealthStatus {
	url := c.cfg.BaseURL + c.cfg.HealthPath

	var status HealthStatus
	decode := func(data []byte) error {
		var details map[string]any
		if err := json.Unmarshal(data, &details); err != nil {
			return err
		}
		if err := json.Unmarshal(data, &status); err != nil {
			return err
		}
		status.Details = details
		return nil
	}

	if err := c.attempt(ctx, http.MethodGet, url, nil, decode); err != nil {
		err.Attempts = 1
		c.logger.Error("Health check failed", "url", url, "error", err)
		return HealthStatus{Status: StatusError, Error: err.Error()}
	}
	if status.Status == "" {
		status.Status = "unknown"
	}
	return status
}

// doWithRetry runs attempts until one succeeds or MaxAttempts is reached,
// waiting BaseDelay*k after failed attempt k.
func (c *Client) doWithRetry(ctx context.Context, method, url string, body []byte, decode func([]byte) error) error {
	for attempt := 1; ; attempt++ {
		c.logger.Debug("API request attempt", "method", method, "url", url, "attempt", attempt, "max_attempts", c.cfg.MaxAttempts)

		reqErr := c.attempt(ctx, method, url, body, decode)
		if reqErr == nil {
			if attempt > 1 {
				c.logger.Info("Request succeeded after retry", "url", url, "attempt", attempt)
			}
			return nil
		}
		reqErr.Attempts = attempt

		if reqErr.Kind == KindCanceled || attempt >= c.cfg.MaxAttempts {
			c.logger.Error("Request failed", "url", url, "kind", reqErr.Kind.String(), "attempts", attempt, "error", reqErr.Err)
			return reqErr
		}

		delay := c.cfg.BaseDelay * time.Duration(attempt)
		c.logger.Warn("Request attempt failed, retrying",
			"url", url,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"kind", reqErr.Kind.String(),
			"delay", delay.String(),
			"error", reqErr.Err)

		if err := c.sleep(ctx, delay); err != nil {
			reqErr.Kind = KindCanceled
			reqErr.Err = err
			return reqErr
		}
	}
}

// attempt issues one request bounded by the per-attempt timeout. A timeout
// cancels only this request.
func (c *Client) attempt(ctx context.Context, method, url string, body []byte, decode func([]byte) error) *RequestError {
	fail := func(kind ErrorKind, status int, err error) *RequestError {
		return &RequestError{Kind: kind, Method: method, URL: url, StatusCode: status, Err: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, bodyReader)
	if err != nil {
		return fail(KindNetwork, 0, fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(c.classify(ctx, attemptCtx), 0, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(c.classify(ctx, attemptCtx), resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.Debug("API response received", "method", method, "url", url, "status_code", resp.StatusCode, "body_length", len(data))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(KindServer, resp.StatusCode, fmt.Errorf("HTTP error! status: %d", resp.StatusCode))
	}

	if err := decode(data); err != nil {
		return fail(KindParse, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// classify decides whether a transport error was the caller giving up, the
// attempt deadline, or a plain connectivity failure.
func (c *Client) classify(parent, attemptCtx context.Context) ErrorKind {
	switch {
	case parent.Err() != nil:
		return KindCanceled
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindNetwork
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
