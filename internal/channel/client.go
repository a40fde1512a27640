package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBody caps what the client reads back.
const maxResponseBody int64 = 1 << 20

// Client talks to a daemon's HTTP transport.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the daemon at baseURL (e.g.
// "http://127.0.0.1:7717").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Send posts req to the default page, or to pageID when non-empty.
func (c *Client) Send(ctx context.Context, pageID string, req Request) (Response, error) {
	path := "/message"
	if pageID != "" {
		path = "/pages/" + url.PathEscape(pageID) + "/message"
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("channel/client: encode: %w", err)
	}

	var resp Response
	if err := c.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Toggle sends toggleShorts.
func (c *Client) Toggle(ctx context.Context, pageID string, hidden bool) (Response, error) {
	return c.Send(ctx, pageID, Request{Action: ActionToggle, Hidden: &hidden})
}

// Stats sends getStats.
func (c *Client) Stats(ctx context.Context, pageID string) (Response, error) {
	return c.Send(ctx, pageID, Request{Action: ActionStats})
}

// Refresh sends refresh.
func (c *Client) Refresh(ctx context.Context, pageID string) (Response, error) {
	return c.Send(ctx, pageID, Request{Action: ActionRefresh})
}

// Pages lists the daemon's attached pages.
func (c *Client) Pages(ctx context.Context) ([]PageInfo, error) {
	var out []PageInfo
	if err := c.do(ctx, http.MethodGet, "/pages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("channel/client: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("channel/client: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("channel/client: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("channel/client: status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("channel/client: decode: %w", err)
	}
	return nil
}
