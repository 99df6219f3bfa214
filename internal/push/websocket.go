package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket dials a websocket endpoint. Every text frame is one event:
// either an envelope {"event":"...","data":{...}} or a bare notification
// object, which is delivered as EventNotification.
type WebSocket struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
}

func (w *WebSocket) Dial(ctx context.Context, userID string) (Stream, error) {
	u, err := endpoint(w.URL, userID)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	if w.Token != "" {
		hdr.Set("Authorization", "Bearer "+w.Token)
	}
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: w.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = 10 * time.Second
	}
	conn, resp, err := d.DialContext(ctx, u, hdr)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("push: websocket dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("push: websocket dial: %w", err)
	}
	return newWSStream(ctx, conn), nil
}

type wsStream struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func newWSStream(ctx context.Context, conn *websocket.Conn) *wsStream {
	s := &wsStream{conn: conn, done: make(chan struct{})}
	// ReadMessage has no context; closing the socket unblocks it.
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s
}

func (s *wsStream) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		mt, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		ev, ok := decodeFrame(msg)
		if !ok {
			continue
		}
		return ev, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// decodeFrame turns one frame into an event. Frames that are not JSON
// objects are skipped.
func decodeFrame(msg []byte) (Event, bool) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || msg[0] != '{' {
		return Event{}, false
	}
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return Event{}, false
	}
	if strings.TrimSpace(env.Event) == "" {
		return Event{Name: EventNotification, Data: json.RawMessage(msg)}, true
	}
	return Event{Name: strings.TrimSpace(env.Event), Data: env.Data}, true
}

func endpoint(raw, userID string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("push: empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("push: parse url: %w", err)
	}
	if userID != "" {
		q := u.Query()
		q.Set("user_id", userID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// None never connects; the consumer relies on polling alone.
type None struct{}

func (None) Dial(context.Context, string) (Stream, error) { return nil, ErrDisabled }
