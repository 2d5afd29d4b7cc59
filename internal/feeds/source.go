// Package feeds retrieves and normalizes external syndication feeds: the Feed
// Source Adapter consumed by the block engine during feed expansion.
package feeds

import (
	"context"
)

// Item is one syndication entry in feed-native order. Values are read-only
// to consumers: an expansion borrows items for one call and never mutates or
// caches them. Optional fields are empty strings when the feed omits them.
type Item struct {
	Title       string
	Body        string // entry content; may contain markup
	ImageSource string
	Link        string
}

// Source fetches the ordered items of a feed. Implementations must preserve
// feed-native item order, honor context cancellation, and be safe for
// concurrent use: independent feed blocks of one document may fetch in
// parallel.
type Source interface {
	Fetch(ctx context.Context, uri string) ([]Item, error)
}
