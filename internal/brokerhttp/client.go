// Package brokerhttp is the REST transport shared by every broker
// adapter: retrying, rate-limited JSON-over-HTTPS, adapted from the
// teacher's internal/rest/client.go. Request signing uses a static
// bearer token (internal/brokerhttp/auth.go) rather than the
// teacher's HMAC query-signing — Finam and T-Invest both authenticate
// with an `Authorization: Bearer <token>` header, so HMAC signing has
// no home here (see DESIGN.md).
package brokerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is a minimal retrying JSON REST client for one broker's base
// URL, shared by internal/brokers/finam and internal/brokers/tinvest.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	auth        *BearerAuth
	rateLimiter *RateLimiter
	maxRetries  int
}

type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) { c.rateLimiter = NewRateLimiter(requestsPerSecond, burst) }
}

func NewClient(baseURL string, auth *BearerAuth, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		auth:        auth,
		rateLimiter: NewRateLimiter(10, 5),
		maxRetries:  3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs method against path with jsonBody (nil for no body),
// decoding a successful response into out (nil to discard the body).
// Retries on network errors and retryable APIError codes with
// exponential backoff and jitter.
func (c *Client) Do(ctx context.Context, method, path string, jsonBody, out interface{}) error {
	var payload []byte
	if jsonBody != nil {
		b, err := json.Marshal(jsonBody)
		if err != nil {
			return fmt.Errorf("brokerhttp: marshal request: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("brokerhttp: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.auth != nil {
			c.auth.Apply(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries && isNetworkError(err) {
				log.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Msg("broker request retrying")
				c.waitForRetry(attempt)
				continue
			}
			return lastErr
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries {
				c.waitForRetry(attempt)
				continue
			}
			return lastErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(body) > 0 {
				if err := json.Unmarshal(body, out); err != nil {
					return fmt.Errorf("brokerhttp: decode response: %w", err)
				}
			}
			return nil
		}

		apiErr := ParseAPIError(resp.StatusCode, body)
		lastErr = apiErr
		if attempt < c.maxRetries && apiErr.Retryable() {
			c.waitForRetry(attempt)
			continue
		}
		return apiErr
	}
	return lastErr
}

func (c *Client) waitForRetry(attempt int) {
	baseDelay := 100 * time.Millisecond
	maxDelay := 2 * time.Second

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitterFactor := float64(time.Now().UnixNano()%100) / 100.0
	jitter := time.Duration(float64(delay) * 0.2 * (2*jitterFactor - 1))
	time.Sleep(delay + jitter)
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, netErr := range []string{"connection refused", "no such host", "timeout", "network unreachable", "connection reset"} {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}
	return false
}
