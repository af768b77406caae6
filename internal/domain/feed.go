package domain

import "time"

// FeedName names a published ranking.
type FeedName string

const (
	FeedLikely FeedName = "likely"
	FeedMoved  FeedName = "moved"
)

// Valid reports whether the feed name is known.
func (f FeedName) Valid() bool {
	return f == FeedLikely || f == FeedMoved
}

// FeedItem is one ranked entry of a published feed.
type FeedItem struct {
	Feed       FeedName
	Rank       int
	MarketID   string
	Score      float64
	Delta1h    *float64
	Delta24h   *float64
	ComputedAt time.Time
}
