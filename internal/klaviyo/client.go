// Package klaviyo is a rate-governed client for the Klaviyo JSON:API,
// plus the endpoint services and batching executor the audit pipeline
// drives.
package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/andzen/prospect-audit/internal/pkg/logger"
	"github.com/andzen/prospect-audit/internal/ratelimit"
)

const (
	// DefaultBaseURL is the provider API root.
	DefaultBaseURL = "https://a.klaviyo.com/api"
	// DefaultRevision pins the API revision every request carries.
	DefaultRevision = "2025-10-15"

	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
)

// RetryPolicy controls per-request retry behavior.
type RetryPolicy struct {
	RetryOn429 bool
	MaxRetries int
	Timeout    time.Duration
}

// DefaultRetryPolicy retries 429s and transient server errors up to three
// times with a 30s per-request timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{RetryOn429: true, MaxRetries: defaultMaxRetries, Timeout: defaultTimeout}
}

// Config holds client construction parameters. The client reads no
// environment variables.
type Config struct {
	APIKey   string
	BaseURL  string
	Revision string
	Tier     ratelimit.Tier
	Timeout  time.Duration
}

// HTTPDoer is the transport seam; *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues authenticated, rate-governed requests against the provider.
// It owns the limiter for its lifetime; endpoint services hold a non-owning
// reference to the client.
type Client struct {
	baseURL    string
	apiKey     string
	revision   string
	httpClient HTTPDoer
	limiter    *ratelimit.Limiter
	tierCap    ratelimit.Limits

	hintsMu sync.Mutex
	hints   ServerHints

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Klaviyo API client for the given tier. The API key is
// read once here and never written to logs or errors.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Revision == "" {
		cfg.Revision = DefaultRevision
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limits := ratelimit.LimitsForTier(cfg.Tier)
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		revision:   cfg.Revision,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    ratelimit.NewWithLimits(limits.PerSecond, limits.PerMinute),
		tierCap:    limits,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Hints returns the most recent server rate-limit feedback.
func (c *Client) Hints() ServerHints {
	c.hintsMu.Lock()
	defer c.hintsMu.Unlock()
	return c.hints
}

// Get issues a GET and decodes the response into out when out is non-nil.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	body, err := c.Request(ctx, http.MethodGet, path, query, nil, DefaultRetryPolicy())
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newError(ErrParseIncomplete, 0, fmt.Sprintf("decoding %s response", path), err)
	}
	return nil
}

// Post issues a POST with a JSON body and returns the raw response.
func (c *Client) Post(ctx context.Context, path string, body interface{}, policy RetryPolicy) ([]byte, error) {
	return c.Request(ctx, http.MethodPost, path, nil, body, policy)
}

// Request issues one API call with rate-limit compliance, structured retry
// and error classification. The returned bytes are the raw response body.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, body interface{}, policy RetryPolicy) ([]byte, error) {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = defaultMaxRetries
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, newError(ErrValidation, 0, "marshaling request body", err)
		}
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, newError(ErrCancelled, 0, "cancelled while waiting for rate limiter", err)
	}

	var lastErr *Error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, newError(ErrCancelled, 0, "request cancelled", ctx.Err())
		}

		respBody, status, hints, err := c.doOnce(ctx, method, path, query, payload)
		if err != nil {
			// Network/timeout errors are treated as 5xx.
			lastErr = newError(ErrTransport, 0, fmt.Sprintf("%s %s failed", method, path), err)
			if ctx.Err() != nil {
				return nil, newError(ErrCancelled, 0, "request cancelled", ctx.Err())
			}
			if attempt == policy.MaxRetries {
				continue
			}
			if err := c.backoff(ctx, attempt, 5, 0); err != nil {
				return nil, newError(ErrCancelled, 0, "cancelled during backoff", err)
			}
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, newError(ErrCancelled, 0, "cancelled while waiting for rate limiter", err)
			}
			continue
		}

		switch {
		case status >= 200 && status < 300:
			c.recordHints(hints, status)
			return respBody, nil

		case status == http.StatusBadRequest:
			// Configuration fault; never retried.
			c.recordHints(hints, status)
			return nil, newError(ErrBadRequest, status, truncateBody(respBody), nil)

		case status == http.StatusTooManyRequests:
			logger.Warn("klaviyo.client", logger.EventRateLimited,
				"path", path, "attempt", attempt)
			if !policy.RetryOn429 || attempt == policy.MaxRetries {
				lastErr = newError(ErrRateLimited, status, truncateBody(respBody), nil)
				if !policy.RetryOn429 {
					return nil, lastErr
				}
				continue
			}
			delay := retryDelay(hints, respBody, attempt)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, newError(ErrCancelled, 0, "cancelled during retry wait", err)
			}
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, newError(ErrCancelled, 0, "cancelled while waiting for rate limiter", err)
			}
			lastErr = newError(ErrRateLimited, status, truncateBody(respBody), nil)

		case status >= 500:
			c.recordHints(hints, status)
			lastErr = newError(ErrServerError, status, truncateBody(respBody), nil)
			if attempt == policy.MaxRetries {
				continue
			}
			if err := c.backoff(ctx, attempt, 5, 0); err != nil {
				return nil, newError(ErrCancelled, 0, "cancelled during backoff", err)
			}
			if err := c.limiter.Acquire(ctx); err != nil {
				return nil, newError(ErrCancelled, 0, "cancelled while waiting for rate limiter", err)
			}

		default:
			// Other 4xx: surface without retry.
			c.recordHints(hints, status)
			return nil, newError(ErrBadRequest, status, truncateBody(respBody), nil)
		}
	}

	if lastErr == nil {
		lastErr = newError(ErrServerError, 0, "retries exhausted", nil)
	}
	return nil, lastErr
}

// doOnce issues a single HTTP exchange and parses server hints.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, int, ServerHints, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, 0, ServerHints{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)
	req.Header.Set("revision", c.revision)
	req.Header.Set("accept", "application/vnd.api+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, ServerHints{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, ServerHints{}, fmt.Errorf("reading response: %w", err)
	}

	return respBody, resp.StatusCode, parseHints(resp.Header), nil
}

// recordHints stores server feedback and adapts the per-minute cap: under
// pressure the cap shrinks toward what the server says remains; once
// headroom returns, the configured tier cap is restored.
func (c *Client) recordHints(hints ServerHints, status int) {
	if !hints.HasLimits {
		return
	}
	c.hintsMu.Lock()
	c.hints = hints
	c.hintsMu.Unlock()

	if status == http.StatusTooManyRequests {
		return
	}

	limit := float64(hints.Limit)
	remaining := float64(hints.Remaining)
	current := c.limiter.PerMinute()

	switch {
	case remaining < 0.2*limit:
		reduced := int(math.Max(0.5*limit, remaining))
		if reduced < current {
			c.limiter.SetPerMinute(reduced)
			logger.Info("klaviyo.client", logger.EventRateLimitAdjusted,
				"direction", "reduce", "per_minute", reduced,
				"remaining", hints.Remaining, "limit", hints.Limit)
		}
	case remaining > 0.5*limit && current < c.tierCap.PerMinute:
		c.limiter.SetPerMinute(c.tierCap.PerMinute)
		logger.Info("klaviyo.client", logger.EventRateLimitAdjusted,
			"direction", "restore", "per_minute", c.tierCap.PerMinute)
	}
}

// backoff sleeps min(2^attempt, cap) seconds plus optional jitter.
func (c *Client) backoff(ctx context.Context, attempt, capSeconds int, jitter float64) error {
	secs := math.Min(math.Pow(2, float64(attempt)), float64(capSeconds))
	d := time.Duration((secs + jitter) * float64(time.Second))
	return c.sleep(ctx, d)
}

var expectedAvailableRe = regexp.MustCompile(`[Ee]xpected available in (\d+) seconds?`)

// retryDelay extracts the 429 retry delay in priority order: Retry-After
// header, meta.retry_after in the body, the "Expected available in N
// seconds" detail phrase, then exponential backoff with jitter.
func retryDelay(hints ServerHints, body []byte, attempt int) time.Duration {
	if hints.RetryAfter > 0 {
		return time.Duration(hints.RetryAfter) * time.Second
	}

	var parsed struct {
		Meta struct {
			RetryAfter float64 `json:"retry_after"`
		} `json:"meta"`
		Errors []struct {
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Meta.RetryAfter > 0 {
			return time.Duration(parsed.Meta.RetryAfter * float64(time.Second))
		}
		for _, e := range parsed.Errors {
			if m := expectedAvailableRe.FindStringSubmatch(e.Detail); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
					return time.Duration(n) * time.Second
				}
			}
		}
	}

	secs := math.Min(math.Pow(2, float64(attempt)), 10)
	jitter := 0.1 + rand.Float64()*0.2
	return time.Duration((secs + jitter) * float64(time.Second))
}

// parseHints reads the RateLimit-* trio and Retry-After headers.
func parseHints(h http.Header) ServerHints {
	hints := ServerHints{
		Limit:      headerInt(h, "RateLimit-Limit"),
		Remaining:  headerInt(h, "RateLimit-Remaining"),
		Reset:      headerInt(h, "RateLimit-Reset"),
		RetryAfter: headerInt(h, "Retry-After"),
	}
	hints.HasLimits = hints.Limit > 0
	return hints
}

func headerInt(h http.Header, key string) int {
	v := h.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// truncateBody bounds error messages; provider error bodies can be long and
// must never drag the response into logs wholesale.
func truncateBody(body []byte) string {
	const max = 300
	s := string(body)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
