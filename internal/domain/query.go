package domain

import "context"

// MarketView is a market joined with its latest state, as read by the
// presentation layer.
type MarketView struct {
	Market Market
	State  *MarketState
}

// FeedEntry is a published feed item joined with its market.
type FeedEntry struct {
	Item FeedItem
	MarketView
}

// VolumeQuery filters the top-by-volume listing.
type VolumeQuery struct {
	Limit    int
	Category string
	MaxDays  int
}

// QueryStore serves the read-only presentation queries.
type QueryStore interface {
	FeedEntries(ctx context.Context, feed FeedName, limit int, category string) ([]FeedEntry, error)
	TopByVolume(ctx context.Context, q VolumeQuery) ([]MarketView, error)
	MarketBySlug(ctx context.Context, slug string) (MarketView, error)
	Search(ctx context.Context, query string, limit int) ([]MarketView, error)
	Related(ctx context.Context, excludeID, category string, limit int) ([]MarketView, error)
}
