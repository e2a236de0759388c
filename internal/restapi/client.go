// Package restapi talks to the external bearer-token REST backend.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/chatbridge/internal/notify"
)

const maxResponseBytes = 10 << 20

// TokenSource provides and invalidates the bearer token.
type TokenSource interface {
	GetToken(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) error
}

// Notifier receives user-facing failure notifications.
type Notifier interface {
	LoginRequired() bool
	FetchError(message string, status int)
}

// Client executes requests against the external backend.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	notifier   Notifier
	logger     *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithNotifier sets the notification target for 401s and transport errors.
func WithNotifier(n Notifier) ClientOption {
	return func(client *Client) {
		client.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// NewClient creates a client. An empty baseURL is accepted here and
// reported as ErrNotConfigured on first use.
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// URL returns the absolute URL for endpoint.
func (c *Client) URL(endpoint string) string {
	return BuildURL(c.baseURL, endpoint)
}

// RequestOption adjusts a single request.
type RequestOption func(*http.Request)

// WithHeader sets a request header. An explicit Content-Type suppresses
// the JSON default.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// Result is a successful response.
type Result struct {
	Status int
	Body   []byte
	// NoContent is set for 204 responses, which carry no body.
	NoContent bool
}

// Decode unmarshals the body into out. It is a no-op for 204 responses
// and empty bodies.
func (r *Result) Decode(out any) error {
	if out == nil || r.NoContent || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do sends an authenticated request and decodes the JSON response into out.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any, opts ...RequestOption) error {
	res, err := c.Send(ctx, method, endpoint, body, opts...)
	if err != nil {
		return err
	}
	return res.Decode(out)
}

// DoPublic sends an unauthenticated request (login, register).
func (c *Client) DoPublic(ctx context.Context, method, endpoint string, body, out any, opts ...RequestOption) error {
	res, err := c.send(ctx, method, endpoint, body, "", opts)
	if err != nil {
		return err
	}
	return res.Decode(out)
}

// Send sends an authenticated request and returns the raw result.
func (c *Client) Send(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	token, ok, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if !ok {
		return nil, ErrNotAuthenticated
	}

	return c.send(ctx, method, endpoint, body, token, opts)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any, token string, opts []RequestOption) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	bodyReader, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	reqURL := c.URL(endpoint)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for _, opt := range opts {
		opt(req)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			c.logger.Debug("Request canceled", "method", method, "endpoint", endpoint)
			return nil, fmt.Errorf("%w: %w", ErrCanceled, context.Canceled)
		}
		if c.notifier != nil && !notify.IsQuiet(ctx) {
			c.notifier.FetchError(err.Error(), 0)
		} else {
			c.logger.Warn("External request failed", "method", method, "endpoint", endpoint, "error", err)
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %w", ErrCanceled, context.Canceled)
		}
		return nil, fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}

	c.logger.Debug("External API request",
		"method", method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized && token != "":
		c.expire(ctx)
		return nil, ErrAuthenticationExpired
	case resp.StatusCode == http.StatusNoContent:
		return &Result{Status: resp.StatusCode, NoContent: true}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &RequestFailedError{
			Status:  resp.StatusCode,
			Message: ErrorMessage(data, defaultFailureMessage),
			Body:    data,
		}
	}

	return &Result{Status: resp.StatusCode, Body: data}, nil
}

// expire clears the stored credential after a 401. The clear must happen
// even if the request context is already done.
func (c *Client) expire(ctx context.Context) {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.tokens.Clear(clearCtx); err != nil {
		c.logger.Error("Failed to clear credential after 401", "error", err)
	}
	if c.notifier != nil {
		c.notifier.LoginRequired()
	}
}

func encodeBody(body any) (io.Reader, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(v), nil
	case json.RawMessage:
		return bytes.NewReader(v), nil
	case string:
		return bytes.NewReader([]byte(v)), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}
