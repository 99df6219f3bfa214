// Package notification defines the unified notification shape shared by every
// source, plus the static tables that map a notification type to its category
// and preference key.
package notification

import (
	"errors"
	"strings"
	"time"
)

// Category is the closed set of notification families.
type Category string

const (
	CategoryPublish       Category = "publish"
	CategoryCollaboration Category = "collaboration"
	CategoryFinance       Category = "finance"
	CategorySystem        Category = "system"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryPublish, CategoryCollaboration, CategoryFinance, CategorySystem}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPublish, CategoryCollaboration, CategoryFinance, CategorySystem:
		return true
	}
	return false
}

// ParseCategory normalizes a wire category string. An empty or unknown value
// returns ok=false.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Notification is the canonical item every source is normalized into.
type Notification struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Comment   string    `json:"comment,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	LinkedID  string    `json:"linked_id,omitempty"`
	Status    string    `json:"status,omitempty"`

	// Source names the provider that produced the item.
	Source string `json:"source,omitempty"`
}

var (
	ErrMissingID       = errors.New("notification: missing id")
	ErrUnknownCategory = errors.New("notification: unknown category")
	ErrMissingTime     = errors.New("notification: missing created_at")
)

// Validate reports why n cannot take part in a merge, or nil.
func (n Notification) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return ErrMissingID
	}
	if !n.Category.Valid() {
		return ErrUnknownCategory
	}
	if n.CreatedAt.IsZero() {
		return ErrMissingTime
	}
	return nil
}
