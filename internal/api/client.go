package api

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

// Client talks to a running daemon's API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(addr string) *Client {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{BaseURL: base, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) Preferences(ctx context.Context) (map[string]bool, error) {
	var out struct {
		Data map[string]bool `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/preferences", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) SetPreferences(ctx context.Context, partial map[string]bool) (map[string]bool, error) {
	var out struct {
		Data map[string]bool `json:"data"`
	}
	if err := c.do(ctx, http.MethodPatch, "/v1/preferences", partial, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) SetSound(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPut, "/v1/sound", map[string]bool{"enabled": enabled}, nil)
}

// Status returns the raw status document.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("api %s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
