// Package httputil provides the JSON-over-HTTP client shared by the chain RPC
// and payment relay clients.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Response size limits.
const (
	MaxErrorBodyBytes    = 64 << 10
	MaxResponseBodyBytes = 8 << 20
)

// StatusError is returned by DecodeResponse for responses with status >= 400.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// =============================================================================
// Service Client
// =============================================================================

// ServiceClient posts JSON to a single base URL, attaching static headers to
// every request.
type ServiceClient struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	maxRetries int
}

// ServiceClientConfig configures the service client.
type ServiceClientConfig struct {
	BaseURL string
	Timeout time.Duration
	// MaxRetries bounds retries on 502/503/504 responses. Zero disables them.
	MaxRetries int
	Headers    map[string]string
	HTTPClient *http.Client
}

// NewServiceClient creates a new service client.
func NewServiceClient(cfg ServiceClientConfig) *ServiceClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &ServiceClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		headers:    headers,
		maxRetries: maxRetries,
	}
}

// BaseURL returns the configured base URL.
func (c *ServiceClient) BaseURL() string { return c.baseURL }

// Do executes an HTTP request, retrying on transient gateway failures.
func (c *ServiceClient) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	return c.doWithRetry(ctx, method, path, payload, 0)
}

func (c *ServiceClient) doWithRetry(ctx context.Context, method, path string, payload []byte, attempt int) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if isTransient(resp.StatusCode) && attempt < c.maxRetries {
		resp.Body.Close()
		return c.doWithRetry(ctx, method, path, payload, attempt+1)
	}

	return resp, nil
}

func isTransient(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Get performs a GET request.
func (c *ServiceClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *ServiceClient) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, MaxErrorBodyBytes)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBodyBytes)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, MaxResponseBodyBytes)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
