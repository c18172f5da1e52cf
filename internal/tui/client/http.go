package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kiwi-scanner/sdk/internal/health"
	"github.com/kiwi-scanner/sdk/internal/stats"
	"github.com/kiwi-scanner/sdk/internal/ws"
)

// HTTPClient makes REST calls to kiwiscand.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetStats fetches /api/stats.
func (c *HTTPClient) GetStats(ctx context.Context) (*stats.Stats, error) {
	var s stats.Stats
	if err := c.get(ctx, "/api/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetHealth fetches /api/health.
func (c *HTTPClient) GetHealth(ctx context.Context) (*health.Snapshot, error) {
	var h health.Snapshot
	if err := c.get(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// GetSettings fetches /api/settings.
func (c *HTTPClient) GetSettings(ctx context.Context) (*ws.SettingsResponse, error) {
	var s ws.SettingsResponse
	if err := c.get(ctx, "/api/settings", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
