// Package aggregate merges per-source notification lists into one ordered,
// deduplicated list and computes what is new between merges.
package aggregate

import (
	"sort"

	"notisync/internal/notification"
)

// Merge concatenates sources in order, drops malformed items, keeps one item
// per id (the later CreatedAt wins, the later-seen wins a tie) and sorts
// newest first. Items with equal CreatedAt keep their merge order.
// Merge does not modify its input and is idempotent.
func Merge(sources [][]notification.Notification) []notification.Notification {
	size := 0
	for _, s := range sources {
		size += len(s)
	}
	out := make([]notification.Notification, 0, size)
	index := make(map[string]int, size)

	for _, s := range sources {
		for _, n := range s {
			if n.Validate() != nil {
				continue
			}
			if i, ok := index[n.ID]; ok {
				if !n.CreatedAt.Before(out[i].CreatedAt) {
					out[i] = n
				}
				continue
			}
			index[n.ID] = len(out)
			out = append(out, n)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Filter returns the items allow accepts, preserving order.
func Filter(list []notification.Notification, allow func(typ string) bool) []notification.Notification {
	out := make([]notification.Notification, 0, len(list))
	for _, n := range list {
		if allow == nil || allow(n.Type) {
			out = append(out, n)
		}
	}
	return out
}

// ByCategory returns the items of category c, preserving order.
func ByCategory(list []notification.Notification, c notification.Category) []notification.Notification {
	out := make([]notification.Notification, 0, len(list))
	for _, n := range list {
		if n.Category == c {
			out = append(out, n)
		}
	}
	return out
}

// Novelty tracks the id set of the previous merge. It is not safe for
// concurrent use; the owner serializes Observe.
type Novelty struct {
	prev   map[string]struct{}
	seeded bool
}

// Observe records list as the current set and returns the items whose id
// was absent from the previous set. The first call only seeds and returns nil.
func (n *Novelty) Observe(list []notification.Notification) []notification.Notification {
	cur := make(map[string]struct{}, len(list))
	for _, it := range list {
		cur[it.ID] = struct{}{}
	}
	if !n.seeded {
		n.prev = cur
		n.seeded = true
		return nil
	}
	var fresh []notification.Notification
	for _, it := range list {
		if _, ok := n.prev[it.ID]; !ok {
			fresh = append(fresh, it)
		}
	}
	n.prev = cur
	return fresh
}
