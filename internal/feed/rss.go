package feed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"notisync/internal/notification"
)

// RSS turns a platform announcement feed (RSS/Atom/JSON Feed) into system
// notifications. Items are never read on the server side; read state lives
// in the inbox.
type RSS struct {
	URL    string
	MaxAge time.Duration

	parser *gofeed.Parser
}

func NewRSS(url string, maxAge time.Duration) *RSS {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &RSS{URL: url, MaxAge: maxAge, parser: gofeed.NewParser()}
}

func (r *RSS) Name() string { return "rss:" + r.URL }

func (r *RSS) Fetch(ctx context.Context) ([]notification.Notification, error) {
	f, err := r.parser.ParseURLWithContext(r.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: rss %s: %w", r.URL, err)
	}
	return r.convert(f, time.Now()), nil
}

func (r *RSS) convert(f *gofeed.Feed, now time.Time) []notification.Notification {
	oldest := now.Add(-r.MaxAge)
	out := make([]notification.Notification, 0, len(f.Items))
	for _, item := range f.Items {
		if item == nil {
			continue
		}
		var pub time.Time
		switch {
		case item.PublishedParsed != nil:
			pub = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			pub = *item.UpdatedParsed
		default:
			continue
		}
		if pub.Before(oldest) {
			continue
		}
		key := item.GUID
		if key == "" {
			key = item.Link
		}
		if key == "" {
			key = item.Title + pub.String()
		}
		typ := notification.TypeSystemAnnouncement
		if hasCategory(item.Categories, "maintenance") {
			typ = notification.TypeSystemMaintenance
		}
		out = append(out, notification.Notification{
			ID:        "rss-" + itemID(key),
			Category:  notification.CategorySystem,
			Type:      typ,
			Title:     strings.TrimSpace(item.Title),
			Message:   strings.TrimSpace(item.Description),
			CreatedAt: pub,
			LinkedID:  item.Link,
			Source:    r.Name(),
		})
	}
	return out
}

func hasCategory(cats []string, want string) bool {
	for _, c := range cats {
		if strings.EqualFold(strings.TrimSpace(c), want) {
			return true
		}
	}
	return false
}

func itemID(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h[:12])
}
