package domain

import "time"

// Source identifies an upstream prediction-market venue.
type Source string

const (
	SourcePolymarket Source = "polymarket"
	SourceKalshi     Source = "kalshi"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusUnknown  MarketStatus = "unknown"
)

// MarketType distinguishes two-outcome markets from multi-outcome ones.
type MarketType string

const (
	MarketTypeBinary MarketType = "binary"
	MarketTypeMulti  MarketType = "multi"
)

// Market is the canonical, source-independent market record.
type Market struct {
	ID             string
	Source         Source
	SourceMarketID string
	Slug           string
	TitleRaw       string
	MarketType     MarketType
	Outcomes       []string
	Status         MarketStatus
	ResolvesAt     *time.Time
	SourceURL      string
	ImageURL       *string
	Category       *string
	RulesPrimary   *string

	// EventKey groups sibling markets of one logical event. Empty when the
	// source does not group.
	EventKey string
	// ListedVolume is the volume reported by the listing endpoint. It only
	// selects the representative of an event group and is not persisted.
	ListedVolume float64

	Article   *Article
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarketRef is the minimal identity needed to price a market.
type MarketRef struct {
	ID             string
	Source         Source
	SourceMarketID string
}

// UpsertResult reports what a market upsert did.
type UpsertResult struct {
	ID       string
	Inserted bool
}
