package scoring

import (
	"sort"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// Candidate is one active market considered for the feeds.
type Candidate struct {
	MarketID   string
	P          float64
	ResolvesAt *time.Time
	TrustTier  domain.TrustTier
	// Points are the market's recent snapshots, ordered by bucket.
	Points []Point
}

// Ranked is a scored feed entry.
type Ranked struct {
	MarketID string
	Score    float64
	Deltas   Deltas
}

// RankFeeds scores every candidate and returns the likely and moved feeds,
// each truncated to size. Low-trust markets never appear; the moved feed
// also drops markets without movement. Equal scores keep input order.
func RankFeeds(cands []Candidate, now time.Time, size int) (likely, moved []Ranked) {
	for _, c := range cands {
		tier := c.TrustTier
		if tier == "" {
			tier = domain.TrustTierLow
		}
		if tier == domain.TrustTierLow {
			continue
		}
		days := DaysUntil(c.ResolvesAt, now)
		deltas := ComputeDeltas(c.P, c.Points, now)

		likely = append(likely, Ranked{
			MarketID: c.MarketID,
			Score:    LikelyScore(LikelyInput{P: c.P, Days: days, TrustTier: tier}),
			Deltas:   deltas,
		})

		if !deltas.Any() {
			continue
		}
		ms := MovedScore(MovedInput{AbsDelta: deltas.AbsMax(), Days: days, TrustTier: tier})
		if ms > 0 {
			moved = append(moved, Ranked{MarketID: c.MarketID, Score: ms, Deltas: deltas})
		}
	}

	return topN(likely, size), topN(moved, size)
}

func topN(items []Ranked, n int) []Ranked {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if n >= 0 && len(items) > n {
		items = items[:n]
	}
	return items
}
