package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/normalize"
	"github.com/alanyoungcy/prenews/internal/scoring"
)

const (
	detailWindow      = 7 * 24 * time.Hour
	detailMaxPoints   = 500
	relatedLimit      = 3
	sparklinePoints   = 24
	maxSparklineIDs   = 100
	defaultMaxDays    = 365
	defaultSeriesSpan = 24 * time.Hour
)

// MarketService serves market listings, search, detail pages and
// probability series.
type MarketService struct {
	queries   domain.QueryStore
	snapshots domain.SnapshotStore
	cache     domain.ReadCache
	cfg       ReadConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(queries domain.QueryStore, snapshots domain.SnapshotStore, cache domain.ReadCache, cfg ReadConfig, logger *slog.Logger) *MarketService {
	return &MarketService{
		queries:   queries,
		snapshots: snapshots,
		cache:     cache,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "market_service")),
		now:       time.Now,
	}
}

// Top lists active markets by cumulative volume. maxDays bounds the
// resolution date (default 365).
func (s *MarketService) Top(ctx context.Context, category string, limit, maxDays int) ([]MarketCard, error) {
	if category != "" && !normalize.IsCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, category)
	}
	if maxDays < 0 {
		return nil, fmt.Errorf("%w: max_days must be positive", ErrInvalidArgument)
	}
	if maxDays == 0 {
		maxDays = defaultMaxDays
	}
	n, err := s.cfg.limit(limit)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%stop:%s:%d:%d", domain.CacheMarketPrefix, category, n, maxDays)
	return cacheAside(ctx, s.cache, s.cfg.CacheTTL, s.logger, key, func(ctx context.Context) ([]MarketCard, error) {
		views, err := s.queries.TopByVolume(ctx, domain.VolumeQuery{Limit: n, Category: category, MaxDays: maxDays})
		if err != nil {
			return nil, fmt.Errorf("market_service: top: %w", err)
		}
		return s.cards(views), nil
	})
}

// Search runs a full-text query. Results are not cached.
func (s *MarketService) Search(ctx context.Context, query string, limit int) ([]MarketCard, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidArgument)
	}
	n, err := s.cfg.limit(limit)
	if err != nil {
		return nil, err
	}
	views, err := s.queries.Search(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("market_service: search: %w", err)
	}
	return s.cards(views), nil
}

// Detail returns the market page for slug: card, article, the last seven
// days of snapshots (at most 500) and up to three related markets.
func (s *MarketService) Detail(ctx context.Context, slug string) (MarketDetail, error) {
	key := domain.CacheMarketPrefix + "slug:" + slug
	return cacheAside(ctx, s.cache, s.cfg.CacheTTL, s.logger, key, func(ctx context.Context) (MarketDetail, error) {
		view, err := s.queries.MarketBySlug(ctx, slug)
		if err != nil {
			return MarketDetail{}, fmt.Errorf("market_service: detail %s: %w", slug, err)
		}
		now := s.now()
		d := MarketDetail{MarketCard: NewMarketCard(view, now), Related: []MarketCard{}}
		if a := view.Market.Article; a != nil {
			d.Body = a.Body
			d.MetaDescription = a.MetaDescription
			d.Tags = a.Tags
		}
		d.Rules = view.Market.RulesPrimary

		since := scoring.TsBucket(now.Add(-detailWindow))
		snaps, err := s.snapshots.ListForMarket(ctx, view.Market.ID, since, detailMaxPoints)
		if err != nil {
			return MarketDetail{}, fmt.Errorf("market_service: detail snapshots: %w", err)
		}
		d.Snapshots = snapshotPoints(snaps)

		if d.Category != "" {
			related, err := s.queries.Related(ctx, view.Market.ID, d.Category, relatedLimit)
			if err != nil {
				s.logger.WarnContext(ctx, "related markets failed",
					slog.String("slug", slug),
					slog.String("error", err.Error()),
				)
			} else {
				d.Related = s.cards(related)
			}
		}
		return d, nil
	})
}

// Series returns the snapshot series of slug over the last span (default
// 24h), capped at limit points.
func (s *MarketService) Series(ctx context.Context, slug string, span time.Duration, limit int) ([]SnapshotPoint, error) {
	if span < 0 {
		return nil, fmt.Errorf("%w: span must be positive", ErrInvalidArgument)
	}
	if span == 0 {
		span = defaultSeriesSpan
	}
	if limit <= 0 || limit > detailMaxPoints {
		limit = detailMaxPoints
	}

	key := fmt.Sprintf("%sseries:%s:%d:%d", domain.CacheMarketPrefix, slug, int64(span.Seconds()), limit)
	return cacheAside(ctx, s.cache, s.cfg.CacheTTL, s.logger, key, func(ctx context.Context) ([]SnapshotPoint, error) {
		view, err := s.queries.MarketBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("market_service: series %s: %w", slug, err)
		}
		snaps, err := s.snapshots.ListForMarket(ctx, view.Market.ID, scoring.TsBucket(s.now().Add(-span)), limit)
		if err != nil {
			return nil, fmt.Errorf("market_service: series snapshots: %w", err)
		}
		return snapshotPoints(snaps), nil
	})
}

// Sparklines returns seven-day probability series for ids, downsampled to
// 24 points plus the latest. Markets without snapshots are omitted.
func (s *MarketService) Sparklines(ctx context.Context, ids []string) (map[string][]float64, error) {
	if len(ids) == 0 {
		return map[string][]float64{}, nil
	}
	if len(ids) > maxSparklineIDs {
		return nil, fmt.Errorf("%w: at most %d ids", ErrInvalidArgument, maxSparklineIDs)
	}

	since := scoring.TsBucket(s.now().Add(-detailWindow))
	snaps, err := s.snapshots.ListForMarkets(ctx, ids, since)
	if err != nil {
		return nil, fmt.Errorf("market_service: sparklines: %w", err)
	}
	series := make(map[string][]float64, len(ids))
	for _, sn := range snaps {
		series[sn.MarketID] = append(series[sn.MarketID], sn.P)
	}
	for id, values := range series {
		series[id] = Downsample(values, sparklinePoints)
	}
	return series, nil
}

func (s *MarketService) cards(views []domain.MarketView) []MarketCard {
	now := s.now()
	out := make([]MarketCard, 0, len(views))
	for _, v := range views {
		out = append(out, NewMarketCard(v, now))
	}
	return out
}
