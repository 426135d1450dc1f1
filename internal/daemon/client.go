package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client queries a running bot's health endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the endpoint at addr (host:port).
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Health fetches /api/health. A degraded bot returns its body together with
// an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	status, err := c.getJSON(ctx, "/api/health", &h)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	if status != http.StatusOK {
		return &h, fmt.Errorf("health check: status %d (%s)", status, h.Status)
	}
	return &h, nil
}

// Stats fetches /api/stats.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	status, err := c.getJSON(ctx, "/api/stats", &st)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("stats: status %d", status)
	}
	return &st, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("parsing response: %w", err)
	}
	return resp.StatusCode, nil
}
