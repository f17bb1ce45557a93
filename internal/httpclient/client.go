// Package httpclient provides a shared HTTP client for talking to the
// registry replica, package origins, and the catalog.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the per-request timeout used when none is given
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (100MB).
	// Feed pages and package tarballs are well under this.
	MaxResponseSize = 100 * 1024 * 1024

	userAgent = "registry-harvester/1.0"
)

// Client defines the interface for HTTP operations
type Client interface {
	// Get performs a GET request and returns the response body.
	// Non-2xx responses return an *HTTPError.
	Get(ctx context.Context, url string) ([]byte, error)

	// Head performs a HEAD request and returns the response status code.
	Head(ctx context.Context, url string) (int, error)
}

// defaultClient is the default implementation of Client
type defaultClient struct {
	client *http.Client
}

// NewDefaultClient creates a new HTTP client with the given timeout.
// A zero timeout falls back to DefaultTimeout.
func NewDefaultClient(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &defaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *defaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPError(resp.StatusCode, url, http.StatusText(resp.StatusCode))
	}

	// Fast-path rejection when the server declares the size up front
	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d exceeds maximum allowed size (%.2f MB)",
			resp.ContentLength, float64(MaxResponseSize)/(1024*1024))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size (%.2f MB)",
			float64(MaxResponseSize)/(1024*1024))
	}

	return data, nil
}

func (c *defaultClient) Head(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
