package aggregate

import (
	"context"
	"fmt"
	"sync"

	"notisync/internal/feed"
	"notisync/internal/notification"
	logx "notisync/pkg/logx"
)

// Collector fetches every source concurrently and merges the results.
//
// The primary source is authoritative: its failure fails the collection.
// An extra source that fails contributes its last good result instead.
type Collector struct {
	primary feed.Source
	extras  []feed.Source
	log     logx.Logger

	mu   sync.Mutex
	last map[string][]notification.Notification
}

func NewCollector(primary feed.Source, extras []feed.Source, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collector{
		primary: primary,
		extras:  extras,
		log:     log.With(logx.String("comp", "aggregate")),
		last:    make(map[string][]notification.Notification),
	}
}

type result struct {
	items []notification.Notification
	err   error
}

// Collect returns the merged, unfiltered list.
func (c *Collector) Collect(ctx context.Context) ([]notification.Notification, error) {
	if c.primary == nil {
		return nil, fmt.Errorf("aggregate: no primary source")
	}
	sources := append([]feed.Source{c.primary}, c.extras...)
	results := make([]result, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src feed.Source) {
			defer wg.Done()
			items, err := src.Fetch(ctx)
			results[i] = result{items: items, err: err}
		}(i, src)
	}
	wg.Wait()

	if err := results[0].err; err != nil {
		return nil, fmt.Errorf("aggregate: %s: %w", c.primary.Name(), err)
	}

	c.mu.Lock()
	lists := make([][]notification.Notification, 0, len(sources))
	for i, src := range sources {
		r := results[i]
		if r.err != nil {
			c.log.Warn("source fetch failed; keeping previous result", logx.String("source", src.Name()), logx.Err(r.err))
			lists = append(lists, c.last[src.Name()])
			continue
		}
		c.last[src.Name()] = r.items
		lists = append(lists, r.items)
	}
	c.mu.Unlock()

	return Merge(lists), nil
}
