package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/scoring"
)

const (
	// DefaultFeedSize is the number of items published per feed.
	DefaultFeedSize = 200
	// feedLookback covers the 24h delta window plus its tolerance.
	feedLookback = 25 * time.Hour
)

// FeedResult is the job result.
type FeedResult struct {
	Likely     int       `json:"likely"`
	Moved      int       `json:"moved"`
	Candidates int       `json:"candidates"`
	ComputedAt time.Time `json:"computed_at"`
}

// FeedBuilder scores active markets and republishes the likely and moved
// feeds. Cache, bus and audit are optional side channels; their failures
// are logged and never fail the build.
type FeedBuilder struct {
	states    domain.StateStore
	snapshots domain.SnapshotStore
	feeds     domain.FeedStore
	cache     domain.ReadCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	size      int
	logger    *slog.Logger
	now       func() time.Time
}

// FeedBuilderDeps groups the optional side channels.
type FeedBuilderDeps struct {
	Cache domain.ReadCache
	Bus   domain.SignalBus
	Audit domain.AuditStore
}

func NewFeedBuilder(states domain.StateStore, snapshots domain.SnapshotStore, feeds domain.FeedStore, deps FeedBuilderDeps, size int, logger *slog.Logger) *FeedBuilder {
	return &FeedBuilder{
		states:    states,
		snapshots: snapshots,
		feeds:     feeds,
		cache:     deps.Cache,
		bus:       deps.Bus,
		audit:     deps.Audit,
		size:      orDefault(size, DefaultFeedSize),
		logger:    logger.With(slog.String("job", JobFeeds)),
		now:       time.Now,
	}
}

func (b *FeedBuilder) Name() string { return JobFeeds }

// Run builds both feeds. opts.Limit overrides the feed size.
func (b *FeedBuilder) Run(ctx context.Context, opts RunOpts) (any, error) {
	start := time.Now()
	computedAt := b.now().UTC()
	size := orDefault(opts.Limit, b.size)

	active, err := b.states.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("feeds: load active states: %w", err)
	}
	snaps, err := b.snapshots.ListSince(ctx, computedAt.Add(-feedLookback).Unix())
	if err != nil {
		return nil, fmt.Errorf("feeds: load snapshots: %w", err)
	}

	points := make(map[string][]scoring.Point, len(active))
	for _, s := range snaps {
		points[s.MarketID] = append(points[s.MarketID], scoring.Point{TsBucket: s.TsBucket, P: s.P})
	}

	cands := make([]scoring.Candidate, 0, len(active))
	for _, a := range active {
		cands = append(cands, scoring.Candidate{
			MarketID:   a.MarketID,
			P:          a.State.P,
			ResolvesAt: a.ResolvesAt,
			TrustTier:  a.State.TrustTier,
			Points:     points[a.MarketID],
		})
	}

	likely, moved := scoring.RankFeeds(cands, computedAt, size)

	if err := b.publish(ctx, domain.FeedLikely, likely, computedAt); err != nil {
		return nil, err
	}
	if err := b.publish(ctx, domain.FeedMoved, moved, computedAt); err != nil {
		return nil, err
	}

	res := FeedResult{Likely: len(likely), Moved: len(moved), Candidates: len(cands), ComputedAt: computedAt}
	b.afterPublish(ctx, res)

	b.logger.InfoContext(ctx, "feeds built",
		slog.Int("candidates", res.Candidates),
		slog.Int("likely", res.Likely),
		slog.Int("moved", res.Moved),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (b *FeedBuilder) publish(ctx context.Context, feed domain.FeedName, ranked []scoring.Ranked, at time.Time) error {
	items := make([]domain.FeedItem, len(ranked))
	for i, r := range ranked {
		items[i] = domain.FeedItem{
			Feed:       feed,
			Rank:       i + 1,
			MarketID:   r.MarketID,
			Score:      r.Score,
			Delta1h:    r.Deltas.Delta1h,
			Delta24h:   r.Deltas.Delta24h,
			ComputedAt: at,
		}
	}
	if err := b.feeds.Replace(ctx, feed, items); err != nil {
		return fmt.Errorf("feeds: publish %s: %w", feed, err)
	}
	return nil
}

func (b *FeedBuilder) afterPublish(ctx context.Context, res FeedResult) {
	if b.cache != nil {
		if err := b.cache.InvalidatePrefix(ctx, domain.CacheFeedPrefix); err != nil {
			b.logger.WarnContext(ctx, "feed cache invalidation failed", slog.String("error", err.Error()))
		}
	}
	if b.bus != nil {
		for feed, n := range map[domain.FeedName]int{domain.FeedLikely: res.Likely, domain.FeedMoved: res.Moved} {
			payload, _ := json.Marshal(domain.FeedEvent{Feed: feed, Items: n, ComputedAt: res.ComputedAt})
			if err := b.bus.Publish(ctx, domain.ChannelFeeds, payload); err != nil {
				b.logger.WarnContext(ctx, "feed event publish failed", slog.String("error", err.Error()))
			}
		}
	}
	if b.audit != nil {
		if err := b.audit.Log(ctx, "feeds.published", map[string]any{
			"likely":      res.Likely,
			"moved":       res.Moved,
			"computed_at": res.ComputedAt.Format(time.RFC3339),
		}); err != nil {
			b.logger.WarnContext(ctx, "feed audit failed", slog.String("error", err.Error()))
		}
	}
}
