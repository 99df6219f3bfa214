// Package feed provides notification sources. Every source normalizes its
// items into notification.Notification; the HTTP feed is the authoritative
// one and also carries the read-state writes back to the server.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"notisync/internal/notification"
)

// Source yields the current list from one provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]notification.Notification, error)
}

// Writer propagates read state to the server.
type Writer interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// ErrStatus wraps non-2xx responses.
var ErrStatus = errors.New("feed: unexpected status")

// wireItem is the server shape of one notification.
type wireItem struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Comment   string    `json:"comment"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
	EntityID  string    `json:"entity_id"`
	Status    string    `json:"status"`
}

func (w wireItem) normalize(source string) notification.Notification {
	cat, ok := notification.ParseCategory(w.Category)
	if !ok {
		cat = notification.CategoryOf(w.Type)
	}
	title := strings.TrimSpace(w.Title)
	if title == "" {
		title = defaultTitle(w.Type)
	}
	return notification.Notification{
		ID:        strings.TrimSpace(w.ID),
		Category:  cat,
		Type:      strings.TrimSpace(w.Type),
		Title:     title,
		Message:   w.Message,
		Comment:   w.Comment,
		Read:      w.IsRead,
		CreatedAt: w.CreatedAt,
		LinkedID:  strings.TrimSpace(w.EntityID),
		Status:    strings.TrimSpace(w.Status),
		Source:    source,
	}
}

func defaultTitle(typ string) string {
	t := strings.ReplaceAll(strings.TrimSpace(typ), "_", " ")
	if t == "" {
		return "Notification"
	}
	r, size := utf8.DecodeRuneInString(t)
	return string(unicode.ToUpper(r)) + t[size:]
}

// DecodeItem parses one wire item. Items that fail to decode or validate
// return an error and are expected to be dropped by the caller.
func DecodeItem(raw json.RawMessage, source string) (notification.Notification, error) {
	var w wireItem
	if err := json.Unmarshal(raw, &w); err != nil {
		return notification.Notification{}, fmt.Errorf("feed: decode item: %w", err)
	}
	n := w.normalize(source)
	if err := n.Validate(); err != nil {
		return notification.Notification{}, err
	}
	return n, nil
}

// decodeItems decodes each element independently and returns the good ones
// plus the number dropped.
func decodeItems(raws []json.RawMessage, source string) ([]notification.Notification, int) {
	out := make([]notification.Notification, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		n, err := DecodeItem(raw, source)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, n)
	}
	return out, dropped
}

// Static serves a fixed list. It backs canned/demo providers and tests.
type Static struct {
	SourceName string
	Items      []notification.Notification
}

func (s *Static) Name() string { return s.SourceName }

func (s *Static) Fetch(ctx context.Context) ([]notification.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]notification.Notification, len(s.Items))
	copy(out, s.Items)
	for i := range out {
		if out[i].Source == "" {
			out[i].Source = s.SourceName
		}
	}
	return out, nil
}

// File reads a JSON array (or {"data":[...]}) of wire items on every fetch.
type File struct {
	Path string
}

func (f *File) Name() string { return "file:" + f.Path }

func (f *File) Fetch(ctx context.Context) ([]notification.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("feed: read %s: %w", f.Path, err)
	}
	raws, err := splitList(b)
	if err != nil {
		return nil, fmt.Errorf("feed: parse %s: %w", f.Path, err)
	}
	out, _ := decodeItems(raws, f.Name())
	return out, nil
}

// splitList accepts either a bare array or the {"data":[...]} envelope.
func splitList(b []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var raws []json.RawMessage
		if err := json.Unmarshal(b, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}
	var env struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}
