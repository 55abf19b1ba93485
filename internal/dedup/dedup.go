// Package dedup decides whether a candidate alert already exists.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/regalert/internal/regulatory"
)

// DefaultWindow is the title/source match window when a source sets none.
const DefaultWindow = 7 * 24 * time.Hour

// DefaultURLWindow bounds external_url matches for dedup_by_url sources.
const DefaultURLWindow = 30 * 24 * time.Hour

// Checker looks up prior alerts through an AlertStore.
type Checker struct {
	store     regulatory.AlertStore
	window    time.Duration
	urlWindow time.Duration
}

// New returns a Checker. Non-positive windows fall back to the defaults.
func New(store regulatory.AlertStore, window, urlWindow time.Duration) *Checker {
	if window <= 0 {
		window = DefaultWindow
	}
	if urlWindow <= 0 {
		urlWindow = DefaultURLWindow
	}
	return &Checker{store: store, window: window, urlWindow: urlWindow}
}

// Query builds the lookup for an alert drawn from src.
func (c *Checker) Query(alert regulatory.Alert, src regulatory.Source) regulatory.DuplicateQuery {
	q := regulatory.DuplicateQuery{
		Title:     alert.Title,
		Source:    alert.Source,
		Reference: alert.PublishedDate,
		Window:    c.window,
	}
	if src.DedupWindowDays > 0 {
		q.Window = time.Duration(src.DedupWindowDays) * 24 * time.Hour
	}
	if q.Reference.IsZero() {
		q.Reference = alert.CreatedAt
	}
	if src.DedupByURL && alert.ExternalURL != "" {
		q.ExternalURL = alert.ExternalURL
		q.URLWindow = c.urlWindow
	}
	return q
}

// IsDuplicate reports whether the alert matches an existing row.
func (c *Checker) IsDuplicate(ctx context.Context, alert regulatory.Alert, src regulatory.Source) (bool, error) {
	dup, err := c.store.FindDuplicate(ctx, c.Query(alert, src))
	if err != nil {
		return false, fmt.Errorf("dedup lookup %q: %w", alert.Title, err)
	}
	return dup, nil
}

// Matches applies the duplicate rule to one stored alert. In-memory stores
// use it so every backend agrees on the rule.
func Matches(q regulatory.DuplicateQuery, existing regulatory.Alert) bool {
	if existing.Title == q.Title && existing.Source == q.Source {
		if within(existing.PublishedDate, q.Reference, q.Window) || within(existing.CreatedAt, q.Reference, q.Window) {
			return true
		}
	}
	if q.ExternalURL != "" && existing.ExternalURL == q.ExternalURL {
		return within(existing.CreatedAt, q.Reference, q.URLWindow) ||
			within(existing.PublishedDate, q.Reference, q.URLWindow)
	}
	return false
}

func within(t, ref time.Time, window time.Duration) bool {
	if t.IsZero() {
		return false
	}
	d := t.Sub(ref)
	if d < 0 {
		d = -d
	}
	return d <= window
}
