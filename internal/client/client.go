// Package client calls a promptarch server over HTTP. Every call is
// retried on transport failures with a flat backoff; structured error
// responses are returned at once as *apperr.Error with their code intact.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/promptarchitect/studio/internal/apperr"
)

const (
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries = 3
	// RetryDelay is the fixed pause between attempts.
	RetryDelay = time.Second
)

// Client is a promptarch API client. It is safe for concurrent use; calls
// share no state beyond the underlying http.Client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as the bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleep replaces the pause between attempts. Tests use it to observe
// the backoff without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		sleep:      sleepContext,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// errorBody mirrors the server's error response.
type errorBody struct {
	Error     string         `json:"error"`
	ErrorCode apperr.Code    `json:"errorCode"`
	Details   map[string]any `json:"details,omitempty"`
}

// call performs one logical request: up to MaxRetries+1 attempts separated
// by RetryDelay. A structured error ends the call immediately. out may be
// nil.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, RetryDelay); err != nil {
				lastErr = err
				break
			}
		}

		err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if e, ok := apperr.As(err); ok {
			return e
		}
		lastErr = err
		c.logger.Debug("request attempt failed", "method", method, "path", path, "attempt", attempt+1, "error", err)
	}

	return apperr.Wrap(apperr.Network, lastErr,
		fmt.Sprintf("Could not reach the server at %s. Is promptarch running?", c.baseURL))
}

// attempt sends a single request. Transport failures and unreadable
// responses come back as plain errors; error responses with a JSON body
// come back as *apperr.Error.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns an error response into *apperr.Error. A body that is
// not a JSON error object is a plain error, so the call is retried.
func decodeError(status int, data []byte) error {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil || (eb.Error == "" && eb.ErrorCode == "") {
		return fmt.Errorf("server returned %d: %s", status, truncate(string(data), 200))
	}

	code := eb.ErrorCode
	if !code.Known() {
		code = apperr.GenerationFailed
	}
	msg := eb.Error
	if msg == "" {
		msg = fmt.Sprintf("Request failed with status %d.", status)
	}
	e := apperr.New(code, "%s", msg)
	for k, v := range eb.Details {
		e.WithDetail(k, v)
	}
	return e
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
