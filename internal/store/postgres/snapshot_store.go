package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotCols = `id, market_id, ts_bucket, p, p_json, volume_24h, liquidity, created_at`

// Insert writes a snapshot unless one already exists for the bucket.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) (bool, error) {
	pJSON, err := marshalPJSON(snap.PJSON)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal p_json: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO market_snapshot (market_id, ts_bucket, p, p_json, volume_24h, liquidity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (market_id, ts_bucket) DO NOTHING`,
		snap.MarketID, snap.TsBucket, snap.P, pJSON, snap.Volume24h, snap.Liquidity,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert snapshot %s@%d: %w", snap.MarketID, snap.TsBucket, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListSince returns every snapshot at or after sinceBucket.
func (s *SnapshotStore) ListSince(ctx context.Context, sinceBucket int64) ([]domain.Snapshot, error) {
	return s.query(ctx, "list snapshots since",
		`SELECT `+snapshotCols+` FROM market_snapshot
		 WHERE ts_bucket >= $1
		 ORDER BY market_id, ts_bucket`, sinceBucket)
}

// ListForMarket returns up to limit snapshots of one market.
func (s *SnapshotStore) ListForMarket(ctx context.Context, marketID string, sinceBucket int64, limit int) ([]domain.Snapshot, error) {
	return s.query(ctx, "list market snapshots",
		`SELECT `+snapshotCols+` FROM market_snapshot
		 WHERE market_id = $1 AND ts_bucket >= $2
		 ORDER BY ts_bucket
		 LIMIT $3`, marketID, sinceBucket, limit)
}

// ListForMarkets returns snapshots of several markets.
func (s *SnapshotStore) ListForMarkets(ctx context.Context, marketIDs []string, sinceBucket int64) ([]domain.Snapshot, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	ids, err := toUUIDs(marketIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots for markets: %w", err)
	}
	return s.query(ctx, "list snapshots for markets",
		`SELECT `+snapshotCols+` FROM market_snapshot
		 WHERE market_id = ANY($1) AND ts_bucket >= $2
		 ORDER BY market_id, ts_bucket`, ids, sinceBucket)
}

// ListRange returns snapshots with fromBucket <= ts_bucket < toBucket.
func (s *SnapshotStore) ListRange(ctx context.Context, fromBucket, toBucket int64) ([]domain.Snapshot, error) {
	return s.query(ctx, "list snapshot range",
		`SELECT `+snapshotCols+` FROM market_snapshot
		 WHERE ts_bucket >= $1 AND ts_bucket < $2
		 ORDER BY market_id, ts_bucket`, fromBucket, toBucket)
}

func (s *SnapshotStore) query(ctx context.Context, op, sql string, args ...any) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	snaps, err := pgx.CollectRows(rows, scanSnapshot)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return snaps, nil
}

func scanSnapshot(row pgx.CollectableRow) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var pJSON []byte
	if err := row.Scan(
		&snap.ID, &snap.MarketID, &snap.TsBucket, &snap.P, &pJSON,
		&snap.Volume24h, &snap.Liquidity, &snap.CreatedAt,
	); err != nil {
		return domain.Snapshot{}, err
	}
	if len(pJSON) > 0 {
		if err := json.Unmarshal(pJSON, &snap.PJSON); err != nil {
			return domain.Snapshot{}, fmt.Errorf("unmarshal p_json: %w", err)
		}
	}
	return snap, nil
}
