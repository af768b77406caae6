package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore backed by the given connection pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// Upsert overwrites the market's current state.
func (s *StateStore) Upsert(ctx context.Context, st domain.MarketState) error {
	pJSON, err := marshalPJSON(st.PJSON)
	if err != nil {
		return fmt.Errorf("postgres: marshal p_json: %w", err)
	}

	const query = `
		INSERT INTO market_state (
			market_id, p, p_json, top_outcome_prob, volume_total, volume_24h,
			liquidity, best_bid, best_ask, spread, trust_tier, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			p                = EXCLUDED.p,
			p_json           = EXCLUDED.p_json,
			top_outcome_prob = EXCLUDED.top_outcome_prob,
			volume_total     = EXCLUDED.volume_total,
			volume_24h       = EXCLUDED.volume_24h,
			liquidity        = EXCLUDED.liquidity,
			best_bid         = EXCLUDED.best_bid,
			best_ask         = EXCLUDED.best_ask,
			spread           = EXCLUDED.spread,
			trust_tier       = EXCLUDED.trust_tier,
			updated_at       = NOW()`

	_, err = s.pool.Exec(ctx, query,
		st.MarketID, st.P, pJSON, st.TopOutcomeProb, st.VolumeTotal, st.Volume24h,
		st.Liquidity, st.BestBid, st.BestAsk, st.Spread, string(st.TrustTier),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert state %s: %w", st.MarketID, err)
	}
	return nil
}

// Get returns the state of one market.
func (s *StateStore) Get(ctx context.Context, marketID string) (domain.MarketState, error) {
	var sr stateRow
	err := s.pool.QueryRow(ctx,
		`SELECT `+stateColsNullable+` FROM market_state s WHERE s.market_id = $1`, marketID,
	).Scan(sr.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketState{}, domain.ErrNotFound
		}
		return domain.MarketState{}, fmt.Errorf("postgres: get state %s: %w", marketID, err)
	}
	st, err := sr.state()
	if err != nil {
		return domain.MarketState{}, fmt.Errorf("postgres: decode state %s: %w", marketID, err)
	}
	return *st, nil
}

// ListActive returns every active market that has been priced.
func (s *StateStore) ListActive(ctx context.Context) ([]domain.ActiveMarketState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.resolves_at, `+stateColsNullable+`
		FROM market m
		JOIN market_state s ON s.market_id = m.id
		WHERE m.status = 'active'
		ORDER BY m.created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active states: %w", err)
	}
	defer rows.Close()

	var out []domain.ActiveMarketState
	for rows.Next() {
		var row domain.ActiveMarketState
		var sr stateRow
		if err := rows.Scan(append([]any{&row.ResolvesAt}, sr.dest()...)...); err != nil {
			return nil, fmt.Errorf("postgres: scan active state: %w", err)
		}
		st, err := sr.state()
		if err != nil {
			return nil, fmt.Errorf("postgres: decode active state: %w", err)
		}
		row.MarketID = st.MarketID
		row.State = *st
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active states rows: %w", err)
	}
	return out, nil
}
