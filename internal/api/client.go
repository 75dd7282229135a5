// Package api implements the HTTP client for the remote financial-data
// API. All methods map non-2xx responses onto the folio error
// taxonomy; 422 responses keep their full field-level message list.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"foliosync/internal/folio"
)

// Client talks to the remote API. It is safe for concurrent use; the
// bearer token is installed by the session manager via SetToken.
// Every request carries a unique X-Request-ID so server-side logs can
// be correlated with this client's.
type Client struct {
	baseURL string
	http    *http.Client
	ids     folio.IDGenerator

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for the given base URL. httpClient may be
// nil, in which case a client with a 30s timeout is used; a nil ids
// falls back to random UUIDs.
func NewClient(baseURL string, httpClient *http.Client, ids folio.IDGenerator) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if ids == nil {
		ids = folio.UUIDGenerator{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		ids:     ids,
	}
}

// SetToken installs the bearer token for subsequent requests. An empty
// string clears it.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// doJSON issues a request with an optional JSON body and decodes a
// JSON response into out (which may be nil). A non-2xx status is
// translated by errorFromResponse.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", c.ids.New())
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(path, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// getRaw fetches a path and returns the raw response body.
func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building GET %s request: %w", path, err)
	}
	req.Header.Set("X-Request-ID", c.ids.New())
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse(path, resp)
	}
	return io.ReadAll(resp.Body)
}
