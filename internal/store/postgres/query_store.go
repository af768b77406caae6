package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// QueryStore implements domain.QueryStore, the read side consumed by the
// HTTP API.
type QueryStore struct {
	pool *pgxpool.Pool
}

// NewQueryStore creates a new QueryStore backed by the given connection pool.
func NewQueryStore(pool *pgxpool.Pool) *QueryStore {
	return &QueryStore{pool: pool}
}

const viewFrom = `
	FROM market m
	JOIN market_state s ON s.market_id = m.id`

// FeedEntries returns a published feed in rank order, optionally narrowed to
// one news category.
func (q *QueryStore) FeedEntries(ctx context.Context, feed domain.FeedName, limit int, category string) ([]domain.FeedEntry, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT f.rank, f.score, f.delta_1h, f.delta_24h, f.computed_at,
			`+marketColsQualified+`, `+stateColsNullable+`
		FROM feed_item f
		JOIN market m ON m.id = f.market_id
		LEFT JOIN market_state s ON s.market_id = m.id
		WHERE f.feed = $1 AND ($2 = '' OR m.category = $2)
		ORDER BY f.rank
		LIMIT $3`, string(feed), category, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: feed entries %s: %w", feed, err)
	}
	defer rows.Close()

	var out []domain.FeedEntry
	for rows.Next() {
		var e domain.FeedEntry
		var mr marketRow
		var sr stateRow
		dest := append([]any{&e.Item.Rank, &e.Item.Score, &e.Item.Delta1h, &e.Item.Delta24h, &e.Item.ComputedAt},
			append(mr.dest(), sr.dest()...)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan feed entry: %w", err)
		}
		if e.Market, err = mr.market(); err != nil {
			return nil, fmt.Errorf("postgres: decode feed entry: %w", err)
		}
		if e.State, err = sr.state(); err != nil {
			return nil, fmt.Errorf("postgres: decode feed entry: %w", err)
		}
		e.Item.Feed = feed
		e.Item.MarketID = e.Market.ID
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: feed entries rows: %w", err)
	}
	return out, nil
}

// TopByVolume lists active markets resolving within MaxDays, ordered by
// cumulative volume, then 24h volume, liquidity and probability.
func (q *QueryStore) TopByVolume(ctx context.Context, vq domain.VolumeQuery) ([]domain.MarketView, error) {
	return q.views(ctx, "top by volume", `
		SELECT `+marketColsQualified+`, `+stateColsNullable+viewFrom+`
		WHERE m.status = 'active'
			AND m.resolves_at <= NOW() + make_interval(days => $2)
			AND ($3 = '' OR m.category = $3)
		ORDER BY s.volume_total DESC NULLS LAST, s.volume_24h DESC NULLS LAST,
			s.liquidity DESC NULLS LAST, s.p DESC
		LIMIT $1`, vq.Limit, vq.MaxDays, vq.Category)
}

// MarketBySlug returns a market and its state, if any.
func (q *QueryStore) MarketBySlug(ctx context.Context, slug string) (domain.MarketView, error) {
	row := q.pool.QueryRow(ctx, `
		SELECT `+marketColsQualified+`, `+stateColsNullable+`
		FROM market m
		LEFT JOIN market_state s ON s.market_id = m.id
		WHERE m.slug = $1
		ORDER BY m.updated_at DESC
		LIMIT 1`, slug)
	m, st, err := scanMarketWithState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketView{}, domain.ErrNotFound
		}
		return domain.MarketView{}, fmt.Errorf("postgres: market by slug %s: %w", slug, err)
	}
	return domain.MarketView{Market: m, State: st}, nil
}

// Search runs an English full-text query over title and headline.
func (q *QueryStore) Search(ctx context.Context, query string, limit int) ([]domain.MarketView, error) {
	return q.views(ctx, "search", `
		SELECT `+marketColsQualified+`, `+stateColsNullable+viewFrom+`
		WHERE to_tsvector('english', m.title_raw || ' ' || COALESCE(m.headline, ''))
			@@ plainto_tsquery('english', $1)
		ORDER BY s.volume_total DESC NULLS LAST
		LIMIT $2`, query, limit)
}

// Related returns other active markets in the same category.
func (q *QueryStore) Related(ctx context.Context, excludeID, category string, limit int) ([]domain.MarketView, error) {
	return q.views(ctx, "related", `
		SELECT `+marketColsQualified+`, `+stateColsNullable+viewFrom+`
		WHERE m.status = 'active' AND m.category = $1 AND m.id <> $2::uuid
		ORDER BY s.volume_24h DESC NULLS LAST
		LIMIT $3`, category, excludeID, limit)
}

func (q *QueryStore) views(ctx context.Context, op, sql string, args ...any) ([]domain.MarketView, error) {
	rows, err := q.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.MarketView
	for rows.Next() {
		m, st, err := scanMarketWithState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", op, err)
		}
		out = append(out, domain.MarketView{Market: m, State: st})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return out, nil
}
