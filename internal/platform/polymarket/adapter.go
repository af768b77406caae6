package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/normalize"
)

// PageSize is the Gamma listing page size.
const PageSize = 100

// Adapter implements domain.MarketAdapter for Polymarket.
type Adapter struct {
	gamma  *GammaClient
	logger *slog.Logger
}

// NewAdapter creates a Polymarket adapter over the given Gamma client.
func NewAdapter(gamma *GammaClient, logger *slog.Logger) *Adapter {
	return &Adapter{
		gamma:  gamma,
		logger: logger.With(slog.String("component", "polymarket_adapter")),
	}
}

func (a *Adapter) Source() domain.Source { return domain.SourcePolymarket }

// ListMarkets fetches one page. The cursor is the numeric offset; a full
// page implies another may follow.
func (a *Adapter) ListMarkets(ctx context.Context, cursor string) (domain.MarketPage, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return domain.MarketPage{}, fmt.Errorf("polymarket: invalid cursor %q", cursor)
		}
		offset = n
	}

	records, err := a.gamma.ListActiveMarkets(ctx, PageSize, offset)
	if err != nil {
		return domain.MarketPage{}, err
	}

	page := domain.MarketPage{Markets: records}
	if len(records) == PageSize {
		page.HasMore = true
		page.Cursor = strconv.Itoa(offset + PageSize)
	}
	return page, nil
}

// GetMarketStates fetches each market individually. Failures are logged and
// skipped; only context cancellation aborts the loop.
func (a *Adapter) GetMarketStates(ctx context.Context, ids []string) ([]domain.StateRecord, error) {
	out := make([]domain.StateRecord, 0, len(ids))
	for _, id := range ids {
		m, err := a.gamma.GetMarket(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			a.logger.WarnContext(ctx, "state fetch failed",
				slog.String("market", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		st := m.State()
		st.SourceMarketID = id
		out = append(out, st)
	}
	return out, nil
}

// Normalize converts a raw Gamma market into the canonical record.
func (a *Adapter) Normalize(raw json.RawMessage) (domain.Market, error) {
	var m GammaMarket
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Market{}, fmt.Errorf("polymarket: %w: %v", domain.ErrInvalidRecord, err)
	}
	return m.Normalize()
}

// Normalize maps the DTO onto domain.Market.
func (m *GammaMarket) Normalize() (domain.Market, error) {
	id := m.marketID()
	title := strings.TrimSpace(m.title())
	if id == "" {
		return domain.Market{}, fmt.Errorf("polymarket: %w: missing id", domain.ErrInvalidRecord)
	}
	if title == "" {
		return domain.Market{}, fmt.Errorf("polymarket: %w: market %s has no title", domain.ErrInvalidRecord, id)
	}

	outcomes := []string(m.Outcomes)
	if len(outcomes) == 0 {
		outcomes = []string{"Yes", "No"}
	}
	marketType := domain.MarketTypeMulti
	if len(outcomes) == 2 {
		marketType = domain.MarketTypeBinary
	}

	slug := normalize.Slugify(m.Slug)
	if slug == "" {
		slug = normalize.Slugify(title)
	}

	status := domain.MarketStatusActive
	if (m.Active.ok && !bool(m.Active.val)) || bool(m.Closed) {
		status = domain.MarketStatusClosed
	}

	urlSlug := m.Slug
	if urlSlug == "" {
		urlSlug = slug
	}
	if len(m.Events) > 0 && m.Events[0].Slug != "" {
		urlSlug = m.Events[0].Slug
	}

	category := normalize.InferCategory(normalize.CategoryInput{
		Declared: m.Category,
		Title:    title,
		Slug:     slug,
	})

	market := domain.Market{
		Source:         domain.SourcePolymarket,
		SourceMarketID: id,
		Slug:           slug,
		TitleRaw:       title,
		MarketType:     marketType,
		Outcomes:       outcomes,
		Status:         status,
		ResolvesAt:     parseTime(m.endDate()),
		SourceURL:      "https://polymarket.com/event/" + urlSlug,
		Category:       &category,
		ImageURL:       optString(m.Image),
		RulesPrimary:   optString(strings.TrimSpace(m.Description)),
		ListedVolume:   m.volumeTotal().val,
	}
	return market, nil
}

// State derives the pricing view. The probability is the first outcome
// price, falling back to the bid/ask midpoint, then the last trade, then 0.5.
func (m *GammaMarket) State() domain.StateRecord {
	prices := m.prices()

	var p float64
	switch {
	case len(prices) > 0:
		p = prices[0]
	case m.BestBid.ok && m.BestAsk.ok:
		p = normalize.MidPrice(m.BestBid.val, m.BestAsk.val)
	case m.LastTradePrice.ok:
		p = m.LastTradePrice.val
	default:
		p = 0.5
	}

	st := domain.StateRecord{
		SourceMarketID: m.marketID(),
		P:              normalize.ClampProb(p),
		VolumeTotal:    m.volumeTotal().ptr(),
		Volume24h:      m.Volume24hr.ptr(),
		Liquidity:      m.liquidity().ptr(),
		BestBid:        m.BestBid.ptr(),
		BestAsk:        m.BestAsk.ptr(),
	}

	switch {
	case m.BestBid.ok && m.BestAsk.ok:
		s := normalize.Spread(m.BestBid.val, m.BestAsk.val)
		st.Spread = &s
	case m.Spread.ok:
		st.Spread = m.Spread.ptr()
	}

	if len(prices) > 0 && len(prices) == len(m.Outcomes) {
		st.PJSON = make(map[string]float64, len(prices))
		top := 0.0
		for i, v := range prices {
			v = normalize.ClampProb(v)
			st.PJSON[m.Outcomes[i]] = v
			if v > top {
				top = v
			}
		}
		st.TopOutcomeProb = &top
	}
	return st
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
