package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/normalize"
)

// PageSize is the listing page size.
const PageSize = 100

// Adapter implements domain.MarketAdapter for Kalshi.
type Adapter struct {
	client *Client
	logger *slog.Logger
}

// NewAdapter creates a Kalshi adapter over client.
func NewAdapter(client *Client, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		logger: logger.With(slog.String("component", "kalshi_adapter")),
	}
}

func (a *Adapter) Source() domain.Source { return domain.SourceKalshi }

// ListMarkets fetches one page of open markets. The cursor is opaque and
// supplied by Kalshi.
func (a *Adapter) ListMarkets(ctx context.Context, cursor string) (domain.MarketPage, error) {
	records, next, err := a.client.ListOpenMarkets(ctx, PageSize, cursor)
	if err != nil {
		return domain.MarketPage{}, err
	}
	return domain.MarketPage{Markets: records, Cursor: next, HasMore: next != ""}, nil
}

// GetMarketStates fetches each ticker. Failures are logged and skipped.
func (a *Adapter) GetMarketStates(ctx context.Context, ids []string) ([]domain.StateRecord, error) {
	out := make([]domain.StateRecord, 0, len(ids))
	for _, ticker := range ids {
		m, err := a.client.GetMarket(ctx, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			a.logger.WarnContext(ctx, "state fetch failed",
				slog.String("ticker", ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		st := m.State()
		st.SourceMarketID = ticker
		out = append(out, st)
	}
	return out, nil
}

// Normalize converts a raw Kalshi market into the canonical record.
func (a *Adapter) Normalize(raw json.RawMessage) (domain.Market, error) {
	var m KalshiMarket
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Market{}, fmt.Errorf("kalshi: %w: %v", domain.ErrInvalidRecord, err)
	}
	return m.Normalize()
}

// Normalize maps the DTO onto domain.Market. Sibling markets of one event
// share EventKey so discovery can collapse them.
func (m *KalshiMarket) Normalize() (domain.Market, error) {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = strings.TrimSpace(m.Subtitle)
	}
	if m.Ticker == "" {
		return domain.Market{}, fmt.Errorf("kalshi: %w: missing ticker", domain.ErrInvalidRecord)
	}
	if title == "" {
		return domain.Market{}, fmt.Errorf("kalshi: %w: market %s has no title", domain.ErrInvalidRecord, m.Ticker)
	}

	marketType := domain.MarketTypeBinary
	outcomes := []string{"Yes", "No"}
	if m.MarketType == "multiple_choice" {
		marketType = domain.MarketTypeMulti
		outcomes = []string{}
	}

	resolves := m.CloseTime
	if resolves == "" {
		resolves = m.ExpirationTime
	}

	urlKey := m.EventTicker
	if urlKey == "" {
		urlKey = m.Ticker
	}

	slug := normalize.Slugify(title)
	category := normalize.InferCategory(normalize.CategoryInput{
		Declared: m.Category,
		Title:    title,
		Slug:     slug,
	})

	market := domain.Market{
		Source:         domain.SourceKalshi,
		SourceMarketID: m.Ticker,
		Slug:           slug,
		TitleRaw:       title,
		MarketType:     marketType,
		Outcomes:       outcomes,
		Status:         mapStatus(m.Status),
		ResolvesAt:     parseTime(resolves),
		SourceURL:      "https://kalshi.com/markets/" + strings.ToLower(urlKey),
		Category:       &category,
		EventKey:       m.EventTicker,
	}
	if rules := strings.TrimSpace(m.RulesPrimary); rules != "" {
		market.RulesPrimary = &rules
	}
	if m.Volume != nil {
		market.ListedVolume = *m.Volume
	}
	return market, nil
}

// State derives the pricing view from cent-denominated quotes. The
// probability is the bid/ask midpoint, else the last trade, else 0.5.
func (m *KalshiMarket) State() domain.StateRecord {
	bid, ask, last := cents(m.YesBid), cents(m.YesAsk), cents(m.LastPrice)

	var p float64
	switch {
	case bid != nil && ask != nil:
		p = normalize.MidPrice(*bid, *ask)
	case last != nil:
		p = *last
	default:
		p = 0.5
	}
	p = normalize.ClampProb(p)

	st := domain.StateRecord{
		SourceMarketID: m.Ticker,
		P:              p,
		PJSON:          map[string]float64{"Yes": p, "No": 1 - p},
		VolumeTotal:    m.Volume,
		Volume24h:      m.Volume24H,
		Liquidity:      m.OpenInterest,
		BestBid:        bid,
		BestAsk:        ask,
	}
	top := max(p, 1-p)
	st.TopOutcomeProb = &top
	if bid != nil && ask != nil {
		s := normalize.Spread(*bid, *ask)
		st.Spread = &s
	}
	return st
}

func mapStatus(s string) domain.MarketStatus {
	switch strings.ToLower(s) {
	case "open", "active", "":
		return domain.MarketStatusActive
	case "closed":
		return domain.MarketStatusClosed
	case "settled", "finalized", "determined":
		return domain.MarketStatusResolved
	default:
		return domain.MarketStatusUnknown
	}
}

func cents(v *float64) *float64 {
	if v == nil {
		return nil
	}
	d := *v / 100
	return &d
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
