package push

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SSE reads a text/event-stream endpoint. Each event ends on a blank line;
// "event:" names it (default EventNotification) and "data:" lines are joined
// with newlines.
type SSE struct {
	URL   string
	Token string
	// HTTPClient must not set a total Timeout; the stream stays open.
	HTTPClient *http.Client
	// HandshakeTimeout bounds the wait for response headers.
	HandshakeTimeout time.Duration
}

func (s *SSE) Dial(ctx context.Context, userID string) (Stream, error) {
	u, err := endpoint(s.URL, userID)
	if err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(sctx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("push: sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	hc := s.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	timeout := s.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	handshake := time.AfterFunc(timeout, cancel)
	resp, err := hc.Do(req)
	stopped := handshake.Stop()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("push: sse dial: %w", err)
	}
	if !stopped {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("push: sse handshake timed out after %s", timeout)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("push: sse dial: unexpected status %s", resp.Status)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("push: sse dial: unexpected content type %q", ct)
	}
	return &sseStream{body: resp.Body, r: bufio.NewReader(resp.Body), cancel: cancel}, nil
}

type sseStream struct {
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
}

func (s *sseStream) Next(ctx context.Context) (Event, error) {
	var (
		name string
		data []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		line, err := s.r.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			if err == io.EOF {
				return Event{}, io.ErrUnexpectedEOF
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(data) == 0 {
				name = ""
				continue
			}
			if name == "" {
				name = EventNotification
			}
			payload := strings.Join(data, "\n")
			if !json.Valid([]byte(payload)) {
				name, data = "", nil
				continue
			}
			return Event{Name: name, Data: json.RawMessage(payload)}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = strings.TrimSpace(value)
		case "data":
			data = append(data, value)
		}
	}
}

func (s *sseStream) Close() error {
	s.cancel()
	return s.body.Close()
}
