// Package service holds the read-side services behind the HTTP API. Each
// service turns store rows into response views and caches them in the
// read cache.
package service

import (
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/normalize"
)

// MarketCard is the list representation of a market.
type MarketCard struct {
	ID               string              `json:"id"`
	Slug             string              `json:"slug"`
	Source           domain.Source       `json:"source"`
	Title            string              `json:"title"`
	Headline         string              `json:"headline"`
	HeadlineShort    string              `json:"headline_short,omitempty"`
	Category         string              `json:"category"`
	MarketType       domain.MarketType   `json:"market_type"`
	Outcomes         []string            `json:"outcomes"`
	Status           domain.MarketStatus `json:"status"`
	Probability      *float64            `json:"probability"`
	ProbabilityLabel string              `json:"probability_label,omitempty"`
	PJSON            map[string]float64  `json:"p_json,omitempty"`
	VolumeTotal      *float64            `json:"volume_total"`
	Volume24h        *float64            `json:"volume_24h"`
	Liquidity        *float64            `json:"liquidity"`
	Spread           *float64            `json:"spread"`
	TrustTier        domain.TrustTier    `json:"trust_tier"`
	ResolvesAt       *time.Time          `json:"resolves_at"`
	ResolvesIn       string              `json:"resolves_in"`
	SourceURL        string              `json:"source_url"`
	ImageURL         *string             `json:"image_url,omitempty"`
	StateUpdatedAt   *time.Time          `json:"state_updated_at,omitempty"`
}

// FeedCard is one ranked feed entry.
type FeedCard struct {
	Rank         int        `json:"rank"`
	Score        float64    `json:"score"`
	Delta1h      *float64   `json:"delta_1h"`
	Delta24h     *float64   `json:"delta_24h"`
	MovementNote string     `json:"movement_note,omitempty"`
	Market       MarketCard `json:"market"`
}

// FeedResponse is a published feed.
type FeedResponse struct {
	Feed       domain.FeedName `json:"feed"`
	Category   string          `json:"category,omitempty"`
	ComputedAt *time.Time      `json:"computed_at"`
	Items      []FeedCard      `json:"items"`
}

// SnapshotPoint is one point of a probability series.
type SnapshotPoint struct {
	TsBucket int64   `json:"ts_bucket"`
	P        float64 `json:"p"`
}

// MarketDetail is the market page payload.
type MarketDetail struct {
	MarketCard
	Body            string          `json:"body,omitempty"`
	MetaDescription string          `json:"meta_description,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Rules           *string         `json:"rules,omitempty"`
	Snapshots       []SnapshotPoint `json:"snapshots"`
	Related         []MarketCard    `json:"related"`
}

// NewMarketCard builds the card for v relative to now.
func NewMarketCard(v domain.MarketView, now time.Time) MarketCard {
	m := v.Market
	c := MarketCard{
		ID:         m.ID,
		Slug:       m.Slug,
		Source:     m.Source,
		Title:      m.TitleRaw,
		Headline:   m.TitleRaw,
		Category:   cardCategory(m),
		MarketType: m.MarketType,
		Outcomes:   m.Outcomes,
		Status:     m.Status,
		TrustTier:  domain.TrustTierLow,
		ResolvesAt: m.ResolvesAt,
		ResolvesIn: normalize.FormatResolvesIn(m.ResolvesAt, now),
		SourceURL:  m.SourceURL,
		ImageURL:   m.ImageURL,
	}
	if c.Outcomes == nil {
		c.Outcomes = []string{}
	}
	if a := m.Article; a != nil && a.Headline != "" {
		c.Headline = a.Headline
		c.HeadlineShort = a.HeadlineShort
	}
	if st := v.State; st != nil {
		p := st.P
		c.Probability = &p
		c.ProbabilityLabel = normalize.FormatProbability(p)
		c.PJSON = st.PJSON
		c.VolumeTotal = st.VolumeTotal
		c.Volume24h = st.Volume24h
		c.Liquidity = st.Liquidity
		c.Spread = st.Spread
		if st.TrustTier != "" {
			c.TrustTier = st.TrustTier
		}
		if !st.UpdatedAt.IsZero() {
			at := st.UpdatedAt.UTC()
			c.StateUpdatedAt = &at
		}
	}
	return c
}

// cardCategory returns the stored news category, inferring one for rows
// written before categories were normalized.
func cardCategory(m domain.Market) string {
	declared := ""
	if m.Category != nil {
		declared = *m.Category
	}
	if normalize.IsCategory(declared) {
		return declared
	}
	return normalize.InferCategory(normalize.CategoryInput{Declared: declared, Title: m.TitleRaw, Slug: m.Slug})
}

// NewFeedCard builds a feed card with its movement note.
func NewFeedCard(e domain.FeedEntry, now time.Time) FeedCard {
	card := FeedCard{
		Rank:     e.Item.Rank,
		Score:    e.Item.Score,
		Delta1h:  e.Item.Delta1h,
		Delta24h: e.Item.Delta24h,
		Market:   NewMarketCard(e.MarketView, now),
	}
	if e.State != nil {
		card.MovementNote = normalize.MovementNote(normalize.MovementInput{
			Delta1h:    e.Item.Delta1h,
			Delta24h:   e.Item.Delta24h,
			P:          e.State.P,
			ResolvesAt: e.Market.ResolvesAt,
		}, now)
	}
	return card
}

func snapshotPoints(snaps []domain.Snapshot) []SnapshotPoint {
	out := make([]SnapshotPoint, len(snaps))
	for i, s := range snaps {
		out[i] = SnapshotPoint{TsBucket: s.TsBucket, P: s.P}
	}
	return out
}

// Downsample reduces a series to n evenly spaced points plus the latest
// point. Series of at most n points are returned unchanged.
func Downsample(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	step := float64(len(values)) / float64(n)
	out := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, values[int(float64(i)*step)])
	}
	return append(out, values[len(values)-1])
}
