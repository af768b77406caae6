package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/prenews/internal/domain"
)

const marketCols = `id, source, source_market_id, slug, title_raw,
	headline, headline_short, article_body, article_meta_description, article_image_prompt,
	category, tags, market_type, outcomes, rules_primary,
	status, resolves_at, source_url, image_url, event_key,
	created_at, updated_at`

const marketColsQualified = `m.id, m.source, m.source_market_id, m.slug, m.title_raw,
	m.headline, m.headline_short, m.article_body, m.article_meta_description, m.article_image_prompt,
	m.category, m.tags, m.market_type, m.outcomes, m.rules_primary,
	m.status, m.resolves_at, m.source_url, m.image_url, m.event_key,
	m.created_at, m.updated_at`

// stateColsNullable selects state columns from a LEFT JOIN; market_id is
// NULL when the market has never been priced.
const stateColsNullable = `s.market_id, s.p, s.p_json, s.top_outcome_prob,
	s.volume_total, s.volume_24h, s.liquidity, s.best_bid, s.best_ask, s.spread,
	s.trust_tier, s.updated_at`

// marketRow holds the nullable scan targets of a market row.
type marketRow struct {
	m                                          domain.Market
	source, marketType, status                 string
	headline, headlineShort, body, meta, image *string
	tags, outcomes                             []byte
}

func (r *marketRow) dest() []any {
	return []any{
		&r.m.ID, &r.source, &r.m.SourceMarketID, &r.m.Slug, &r.m.TitleRaw,
		&r.headline, &r.headlineShort, &r.body, &r.meta, &r.image,
		&r.m.Category, &r.tags, &r.marketType, &r.outcomes, &r.m.RulesPrimary,
		&r.status, &r.m.ResolvesAt, &r.m.SourceURL, &r.m.ImageURL, &r.m.EventKey,
		&r.m.CreatedAt, &r.m.UpdatedAt,
	}
}

func (r *marketRow) market() (domain.Market, error) {
	m := r.m
	m.Source = domain.Source(r.source)
	m.MarketType = domain.MarketType(r.marketType)
	m.Status = domain.MarketStatus(r.status)

	if len(r.outcomes) > 0 {
		if err := json.Unmarshal(r.outcomes, &m.Outcomes); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal outcomes: %w", err)
		}
	}
	if r.headline != nil {
		a := &domain.Article{Headline: *r.headline}
		a.HeadlineShort = deref(r.headlineShort)
		a.Body = deref(r.body)
		a.MetaDescription = deref(r.meta)
		a.ImagePrompt = deref(r.image)
		if m.Category != nil {
			a.Category = *m.Category
		}
		if len(r.tags) > 0 {
			if err := json.Unmarshal(r.tags, &a.Tags); err != nil {
				return domain.Market{}, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		m.Article = a
	}
	return m, nil
}

// stateRow holds the nullable scan targets of a LEFT JOINed state.
type stateRow struct {
	marketID                             *string
	p, top                               *float64
	pJSON                                []byte
	volTotal, vol24h, liq, bid, ask, spr *float64
	tier                                 *string
	updatedAt                            *time.Time
}

func (r *stateRow) dest() []any {
	return []any{
		&r.marketID, &r.p, &r.pJSON, &r.top,
		&r.volTotal, &r.vol24h, &r.liq, &r.bid, &r.ask, &r.spr,
		&r.tier, &r.updatedAt,
	}
}

func (r *stateRow) state() (*domain.MarketState, error) {
	if r.marketID == nil {
		return nil, nil
	}
	st := &domain.MarketState{
		MarketID:       *r.marketID,
		P:              deref(r.p),
		TopOutcomeProb: r.top,
		VolumeTotal:    r.volTotal,
		Volume24h:      r.vol24h,
		Liquidity:      r.liq,
		BestBid:        r.bid,
		BestAsk:        r.ask,
		Spread:         r.spr,
		TrustTier:      domain.TrustTier(deref(r.tier)),
	}
	if r.updatedAt != nil {
		st.UpdatedAt = *r.updatedAt
	}
	if len(r.pJSON) > 0 {
		if err := json.Unmarshal(r.pJSON, &st.PJSON); err != nil {
			return nil, fmt.Errorf("unmarshal p_json: %w", err)
		}
	}
	return st, nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var r marketRow
	if err := row.Scan(r.dest()...); err != nil {
		return domain.Market{}, err
	}
	return r.market()
}

// scanMarketWithState scans marketCols followed by stateColsNullable.
func scanMarketWithState(row pgx.Row) (domain.Market, *domain.MarketState, error) {
	var mr marketRow
	var sr stateRow
	if err := row.Scan(append(mr.dest(), sr.dest()...)...); err != nil {
		return domain.Market{}, nil, err
	}
	m, err := mr.market()
	if err != nil {
		return domain.Market{}, nil, err
	}
	st, err := sr.state()
	if err != nil {
		return domain.Market{}, nil, err
	}
	return m, st, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func marshalPJSON(p map[string]float64) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// toUUIDs parses ids for binary-encoded uuid parameters and COPY rows.
func toUUIDs(ids []string) ([]pgtype.UUID, error) {
	out := make([]pgtype.UUID, len(ids))
	for i, id := range ids {
		if err := out[i].Scan(id); err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", id, err)
		}
	}
	return out, nil
}
