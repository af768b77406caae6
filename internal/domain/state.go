package domain

import "time"

// TrustTier buckets a market's liquidity/volume/spread quality.
type TrustTier string

const (
	TrustTierHigh   TrustTier = "high"
	TrustTierMedium TrustTier = "medium"
	TrustTierLow    TrustTier = "low"
)

// StateRecord is one source's current pricing view of a market, as returned
// by an adapter. Optional numbers are nil when the source did not report them.
type StateRecord struct {
	SourceMarketID string
	P              float64
	PJSON          map[string]float64
	TopOutcomeProb *float64
	VolumeTotal    *float64
	Volume24h      *float64
	Liquidity      *float64
	BestBid        *float64
	BestAsk        *float64
	Spread         *float64
}

// MarketState is the latest known state of a market, overwritten in place.
type MarketState struct {
	MarketID       string
	P              float64
	PJSON          map[string]float64
	TopOutcomeProb *float64
	VolumeTotal    *float64
	Volume24h      *float64
	Liquidity      *float64
	BestBid        *float64
	BestAsk        *float64
	Spread         *float64
	TrustTier      TrustTier
	UpdatedAt      time.Time
}

// Snapshot is an immutable probability observation at a 5-minute bucket.
type Snapshot struct {
	ID        string
	MarketID  string
	TsBucket  int64
	P         float64
	PJSON     map[string]float64
	Volume24h *float64
	Liquidity *float64
	CreatedAt time.Time
}

// ActiveMarketState joins an active market with its current state. It is the
// input row for feed scoring.
type ActiveMarketState struct {
	MarketID   string
	ResolvesAt *time.Time
	State      MarketState
}
