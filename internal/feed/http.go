package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"notisync/internal/notification"
	logx "notisync/pkg/logx"
)

// HTTPConfig configures the authoritative feed client.
type HTTPConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PageSize int
	MaxPages int
}

// HTTP is the authoritative source: GET {base}/notifications paged by
// limit/offset, plus the read-state writes.
type HTTP struct {
	cfg  HTTPConfig
	http *http.Client
	log  logx.Logger
}

func NewHTTP(cfg HTTPConfig, log logx.Logger) (*HTTP, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("feed: empty base_url")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("feed: parse base_url: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("comp", "feed.http")),
	}, nil
}

func (h *HTTP) Name() string { return "server" }

// Fetch pages until a short page or MaxPages. Malformed items are dropped
// individually; any transport or status error fails the whole fetch.
func (h *HTTP) Fetch(ctx context.Context) ([]notification.Notification, error) {
	var (
		all     []notification.Notification
		dropped int
	)
	for page := 0; page < h.cfg.MaxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(h.cfg.PageSize))
		q.Set("offset", strconv.Itoa(page*h.cfg.PageSize))

		body, err := h.do(ctx, http.MethodGet, "/notifications?"+q.Encode())
		if err != nil {
			return nil, err
		}
		raws, err := splitList(body)
		if err != nil {
			return nil, fmt.Errorf("feed: decode page %d: %w", page, err)
		}
		items, d := decodeItems(raws, h.Name())
		all = append(all, items...)
		dropped += d
		if len(raws) < h.cfg.PageSize {
			break
		}
	}
	if dropped > 0 {
		h.log.Warn("dropped malformed notifications", logx.Int("count", dropped))
	}
	return all, nil
}

func (h *HTTP) MarkRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("feed: empty id")
	}
	_, err := h.do(ctx, http.MethodPut, "/notifications/"+url.PathEscape(id)+"/read")
	return err
}

func (h *HTTP) MarkAllRead(ctx context.Context) error {
	_, err := h.do(ctx, http.MethodPut, "/notifications/read-all")
	return err
}

func (h *HTTP) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("feed: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: %d", ErrStatus, method, path, resp.StatusCode)
	}
	return body, nil
}
