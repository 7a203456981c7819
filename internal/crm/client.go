// Package crm is the Kommo-backed source of candidate deals: listing leads in
// a pipeline status, resolving their contact and products, and tagging them
// once an invoice went out.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when Kommo answers 404 for an entity.
var ErrNotFound = errors.New("crm entity not found")

// Config configures a KommoClient.
type Config struct {
	Subdomain   string
	AccessToken string

	// BaseURL overrides https://<subdomain>.kommo.com.
	BaseURL string

	// RateLimit is the sustained request rate in requests per second.
	RateLimit  float64
	MaxRetries int
	RetryDelay time.Duration
	PageSize   int
	MaxPages   int

	HTTPClient *http.Client
}

// KommoClient talks to the Kommo v4 REST API.
type KommoClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	pageSize   int
	maxPages   int
}

func NewKommoClient(cfg Config) (*KommoClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Subdomain == "" {
			return nil, fmt.Errorf("KOMMO_SUBDOMAIN must be set")
		}
		baseURL = fmt.Sprintf("https://%s.kommo.com", cfg.Subdomain)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("KOMMO_ACCESS_TOKEN must be set")
	}

	c := &KommoClient{
		baseURL:    baseURL,
		token:      cfg.AccessToken,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		pageSize:   cfg.PageSize,
		maxPages:   cfg.MaxPages,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 4
	}
	if c.retryDelay <= 0 {
		c.retryDelay = 1 * time.Second
	}
	if c.pageSize <= 0 {
		c.pageSize = 250
	}
	if c.maxPages <= 0 {
		c.maxPages = 10
	}
	return c, nil
}

type statusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("kommo %s %s: status %d: %s", e.method, e.path, e.code, e.body)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// do sends one request, retrying throttled and server-side failures with
// exponential backoff. It returns the response status and body.
func (c *KommoClient) do(ctx context.Context, method, path string, query url.Values, body any) (int, []byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	backoff := c.retryDelay
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		code, data, err := c.attempt(ctx, method, endpoint, payload)
		if err == nil && code < 400 {
			return code, data, nil
		}
		if err == nil && code == http.StatusNotFound {
			return code, nil, fmt.Errorf("kommo %s %s: %w", method, path, ErrNotFound)
		}
		if err == nil {
			lastErr = &statusError{method: method, path: path, code: code, body: truncate(string(data), 200)}
			if !retryable(code) {
				return code, nil, lastErr
			}
		} else {
			if ctx.Err() != nil {
				return 0, nil, err
			}
			lastErr = err
		}

		if i == c.maxRetries-1 {
			break
		}
		slog.Warn("Kommo request failed, will retry.",
			"method", method,
			"path", path,
			"attempt", i+1,
			"maxRetries", c.maxRetries,
			"backoff", backoff.String(),
			"error", lastErr,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
	return 0, nil, fmt.Errorf("kommo %s %s failed after %d attempts: %w", method, path, c.maxRetries, lastErr)
}

func (c *KommoClient) attempt(ctx context.Context, method, endpoint string, payload []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (c *KommoClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	_, data, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
