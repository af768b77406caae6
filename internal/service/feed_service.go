package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/normalize"
)

// FeedService serves the published likely and moved feeds.
type FeedService struct {
	queries domain.QueryStore
	cache   domain.ReadCache
	cfg     ReadConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewFeedService creates a FeedService. cache may be nil.
func NewFeedService(queries domain.QueryStore, cache domain.ReadCache, cfg ReadConfig, logger *slog.Logger) *FeedService {
	return &FeedService{
		queries: queries,
		cache:   cache,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "feed_service")),
		now:     time.Now,
	}
}

// Feed returns feed in rank order, optionally narrowed to one news category.
// Results are cached under the feed: prefix, which every feed build
// invalidates.
func (s *FeedService) Feed(ctx context.Context, feed domain.FeedName, category string, limit int) (FeedResponse, error) {
	if !feed.Valid() {
		return FeedResponse{}, fmt.Errorf("feed %q: %w", feed, domain.ErrNotFound)
	}
	if category != "" && !normalize.IsCategory(category) {
		return FeedResponse{}, fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, category)
	}
	n, err := s.cfg.limit(limit)
	if err != nil {
		return FeedResponse{}, err
	}

	key := fmt.Sprintf("%s%s:%s:%d", domain.CacheFeedPrefix, feed, category, n)
	return cacheAside(ctx, s.cache, s.cfg.CacheTTL, s.logger, key, func(ctx context.Context) (FeedResponse, error) {
		entries, err := s.queries.FeedEntries(ctx, feed, n, category)
		if err != nil {
			return FeedResponse{}, fmt.Errorf("feed_service: %s: %w", feed, err)
		}
		now := s.now()
		resp := FeedResponse{Feed: feed, Category: category, Items: make([]FeedCard, 0, len(entries))}
		for _, e := range entries {
			resp.Items = append(resp.Items, NewFeedCard(e, now))
			if at := e.Item.ComputedAt.UTC(); resp.ComputedAt == nil || at.After(*resp.ComputedAt) {
				resp.ComputedAt = &at
			}
		}
		return resp, nil
	})
}
