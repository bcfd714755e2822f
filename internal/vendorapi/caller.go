// Package vendorapi implements the Fetcher Factory (spec.md C4): build()
// binds a task name and parameters into a parameterless thunk that, when
// invoked, rate-limits itself and calls the configured vendor HTTP API.
//
// The retry/error-classification shape follows the teacher's
// internal/flow/client.go withRetry: a small bounded loop with exponential
// backoff on transient failures, immediate return on anything else. The
// transport here is plain net/http rather than gRPC, since the vendor is a
// REST quote service, not a Flow access node, but the policy — retry on
// "try again later" signals, give up on anything resembling a client
// error — carries over unchanged.
package vendorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"ashare-lake/internal/model"
)

// Caller is the narrow seam between the Fetcher Factory and the network.
// HTTPCaller is the production implementation; tests substitute a stub.
type Caller interface {
	Call(ctx context.Context, base, method string, params map[string]string) ([]map[string]any, error)
}

// HTTPCaller calls a vendor that accepts method+params as URL query
// parameters and responds with a JSON array of flat objects — the shape
// commonly exposed by Chinese market-data aggregators (Tushare-style
// "one method name, one flat param bag" APIs named in the glossary).
type HTTPCaller struct {
	Client      *http.Client
	TokenEnvVar string // name of the env var holding the vendor credential; empty disables auth
	tokenFn     func(string) string
	MaxRetries  int
	BaseBackoff time.Duration
}

// NewHTTPCaller builds an HTTPCaller with the teacher's retry defaults
// (5 attempts, 500ms base backoff, doubling each attempt).
func NewHTTPCaller(tokenEnvVar string) *HTTPCaller {
	return &HTTPCaller{
		Client:      &http.Client{Timeout: 30 * time.Second},
		TokenEnvVar: tokenEnvVar,
		tokenFn:     osGetenv,
		MaxRetries:  5,
		BaseBackoff: 500 * time.Millisecond,
	}
}

func (c *HTTPCaller) Call(ctx context.Context, base, method string, params map[string]string) ([]map[string]any, error) {
	req, err := c.buildRequest(ctx, base, method, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBadRequest, err)
	}

	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	backoff := c.BaseBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		rows, err := c.attempt(req.Clone(ctx))
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if !model.Transient(err) {
			return nil, err
		}
		if attempt == maxRetries-1 {
			return nil, fmt.Errorf("vendorapi: max retries reached: %w", err)
		}
		wait := backoff * time.Duration(1<<attempt)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// attempt performs one HTTP round trip and classifies the outcome onto the
// model error vocabulary so the retry loop above (and, eventually, the
// orchestrator's dead-letter policy) can decide transient vs. permanent
// without knowing anything about HTTP status codes.
func (c *HTTPCaller) attempt(req *http.Request) ([]map[string]any, error) {
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendorapi: call %s: %w: %v", req.URL, model.ErrTimeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vendorapi: read body: %w: %v", model.ErrTimeout, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("vendorapi: %s: %w (status %d)", req.URL, model.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("vendorapi: %s: %w (status %d)", req.URL, model.ErrServerError, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("vendorapi: %s: %w (status %d)", req.URL, model.ErrServerError, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("vendorapi: %s: %w (status %d): %s", req.URL, model.ErrBadRequest, resp.StatusCode, truncate(string(body), 256))
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var rows []map[string]any
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("vendorapi: decode response: %w: %v", model.ErrBadRequest, err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("vendorapi: %s: unexpected status %d: %w", req.URL, resp.StatusCode, model.ErrServerError)
	}
}

func (c *HTTPCaller) buildRequest(ctx context.Context, base, method string, params map[string]string) (*http.Request, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("method", method)
	for k, v := range params {
		q.Set(k, v)
	}
	if c.TokenEnvVar != "" {
		if tok := c.tokenFn(c.TokenEnvVar); tok != "" {
			q.Set("token", tok)
		}
	}
	u.RawQuery = q.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func osGetenv(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
