// Package ghes provides the remote-client boundary of the pipeline: a
// minimal search client and a bounded pool for safe concurrent use of a
// rate-limited GHES instance.
package ghes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is the surface the pipeline needs from one GHES connection.
// Implementations must be safe for use by one goroutine at a time; the
// Pool guarantees exclusive access between Acquire and Release.
type Client interface {
	// Search issues the given search query constrained to [from, to] and
	// returns the raw result payload.
	Search(ctx context.Context, query string, from, to time.Time) ([]byte, error)

	// Close releases the client's underlying connections.
	Close() error
}

// HTTPClient talks to the GHES search API over its own *http.Client, so
// each pool slot has an independent connection pool and concurrent use
// across slots cannot share connection state.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a search client for the given GHES base URL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Search runs one issue search bounded to the window. The response body is
// returned opaque; validity is checked only to the extent of being JSON.
func (c *HTTPClient) Search(ctx context.Context, query string, from, to time.Time) ([]byte, error) {
	q := fmt.Sprintf("%s updated:%s..%s",
		query, from.Format(time.DateOnly), to.Format(time.DateOnly))

	u := fmt.Sprintf("%s/search/issues?q=%s&per_page=100", c.baseURL, url.QueryEscape(q))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("search returned invalid JSON")
	}

	return body, nil
}

// Close drops idle connections held by this client.
func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
