// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrServerError indicates the device API returned a 5xx status on
	// every attempt.
	ErrServerError = errors.New("device API server error")

	// ErrBadRequest indicates a 4xx status. These are permanent: the
	// same request will fail the same way, so no retry is attempted.
	ErrBadRequest = errors.New("device API rejected request")

	// ErrUnreachable indicates the device API could not be reached at
	// the transport level after all retries.
	ErrUnreachable = errors.New("device API unreachable")
)

// StatusError carries the HTTP status of a failed request so callers
// can distinguish 404 (endpoint absent, try the next strategy) from
// other failures.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device API returned %d for %s", e.StatusCode, e.Endpoint)
}

// Unwrap maps the status class onto a sentinel so callers can use
// errors.Is without inspecting codes.
func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 500 {
		return ErrServerError
	}
	return ErrBadRequest
}

// IsNotFound reports whether err is a 404 from the device API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// =============================================================================
// CLIENT
// =============================================================================

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3

	// maxResponseSize caps response bodies read from the device API.
	// Embedded firmware should never produce more than a few MB; the
	// cap protects against a misbehaving proxy streaming forever.
	maxResponseSize = 10 * 1024 * 1024
)

// Client is a resilient HTTP client for the remote device API.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int

	// limiter paces outbound requests so retry storms from several
	// concurrent strategies cannot hammer the embedded gateway.
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
// The total attempt count is maxRetries+1.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRateLimit overrides the default request pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithHTTPClient substitutes the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the device API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured device API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET against endpoint (a path like "/data/esp32_wifi_001")
// with the given query parameters, retrying transport failures and 5xx
// responses with exponential backoff. 4xx responses fail immediately.
// The returned body is fully read and capped at maxResponseSize.
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		reqURL += "?" + q.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt - 1)
			log.Printf("[transport] Retry %d/%d for %s in %v: %v",
				attempt, c.maxRetries, endpoint, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, reqURL, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
	}

	if errors.Is(lastErr, ErrServerError) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrUnreachable, lastErr)
}

func (c *Client) doOnce(ctx context.Context, reqURL, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   endpoint,
			Body:       truncateBody(body),
		}
	}
	return body, nil
}

// Health checks whether the device API answers at all. Any HTTP
// response counts as reachable; only transport failures do not.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// =============================================================================
// RETRY POLICY
// =============================================================================

// backoffDelay returns the wait before retry attempt n (0-based):
// (2^n)+1 seconds, so 2s, 3s, 5s, 9s.
func backoffDelay(n int) time.Duration {
	if n > 6 {
		n = 6
	}
	return time.Duration(1<<uint(n))*time.Second + time.Second
}

// isRetryable reports whether another attempt could plausibly succeed.
// Transport failures and 5xx responses are retried; 4xx responses are
// permanent and context cancellation is honored immediately.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	// Everything else at this point is a transport-level failure.
	return true
}

func truncateBody(body []byte) string {
	const maxLen = 200
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
