package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// FeedStore implements domain.FeedStore using PostgreSQL.
type FeedStore struct {
	pool *pgxpool.Pool
}

// NewFeedStore creates a new FeedStore backed by the given connection pool.
func NewFeedStore(pool *pgxpool.Pool) *FeedStore {
	return &FeedStore{pool: pool}
}

var feedItemColumns = []string{"feed", "rank", "market_id", "score", "delta_1h", "delta_24h", "computed_at"}

// Replace deletes the feed's rows and copies in items inside a single
// transaction, so readers see either the old feed or the new one.
func (s *FeedStore) Replace(ctx context.Context, feed domain.FeedName, items []domain.FeedItem) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM feed_item WHERE feed = $1`, string(feed)); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.MarketID
		}
		uuids, err := toUUIDs(ids)
		if err != nil {
			return err
		}

		rows := make([][]any, len(items))
		for i, it := range items {
			rows[i] = []any{string(feed), int32(it.Rank), uuids[i], it.Score, it.Delta1h, it.Delta24h, it.ComputedAt}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"feed_item"}, feedItemColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		if int(n) != len(items) {
			return fmt.Errorf("copy: wrote %d of %d rows", n, len(items))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: replace feed %s: %w", feed, err)
	}
	return nil
}
