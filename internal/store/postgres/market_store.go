package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts a market or refreshes the mutable fields of an existing one.
// Slug, editorial fields and created_at are left untouched on conflict.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) (domain.UpsertResult, error) {
	const query = `
		INSERT INTO market (
			source, source_market_id, slug, title_raw, category,
			market_type, outcomes, rules_primary, status, resolves_at,
			source_url, image_url, event_key
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)
		ON CONFLICT (source, source_market_id) DO UPDATE SET
			title_raw     = EXCLUDED.title_raw,
			status        = EXCLUDED.status,
			resolves_at   = EXCLUDED.resolves_at,
			outcomes      = EXCLUDED.outcomes,
			image_url     = EXCLUDED.image_url,
			category      = EXCLUDED.category,
			rules_primary = EXCLUDED.rules_primary,
			event_key     = EXCLUDED.event_key,
			updated_at    = NOW()
		RETURNING id, (xmax = 0) AS inserted`

	outcomes, err := json.Marshal(nonNilStrings(m.Outcomes))
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("postgres: marshal outcomes: %w", err)
	}

	var res domain.UpsertResult
	err = s.pool.QueryRow(ctx, query,
		string(m.Source), m.SourceMarketID, m.Slug, m.TitleRaw, m.Category,
		string(m.MarketType), outcomes, m.RulesPrimary, string(m.Status), m.ResolvesAt,
		m.SourceURL, m.ImageURL, m.EventKey,
	).Scan(&res.ID, &res.Inserted)
	if err != nil {
		return domain.UpsertResult{}, fmt.Errorf("postgres: upsert market %s/%s: %w", m.Source, m.SourceMarketID, err)
	}
	return res, nil
}

// ListActiveRefs returns the identity of every active market, grouped by
// source for the pricing job.
func (s *MarketStore) ListActiveRefs(ctx context.Context) ([]domain.MarketRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, source_market_id
		FROM market
		WHERE status = 'active'
		ORDER BY source, created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active market refs: %w", err)
	}
	defer rows.Close()

	var refs []domain.MarketRef
	for rows.Next() {
		var r domain.MarketRef
		var source string
		if err := rows.Scan(&r.ID, &source, &r.SourceMarketID); err != nil {
			return nil, fmt.Errorf("postgres: scan market ref: %w", err)
		}
		r.Source = domain.Source(source)
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active market refs rows: %w", err)
	}
	return refs, nil
}

// ListUnenriched returns markets without a headline, oldest first, with their
// state when one exists.
func (s *MarketStore) ListUnenriched(ctx context.Context, limit int) ([]domain.EnrichCandidate, error) {
	query := `SELECT ` + marketColsQualified + `, ` + stateColsNullable + `
		FROM market m
		LEFT JOIN market_state s ON s.market_id = m.id
		WHERE m.headline IS NULL
		ORDER BY m.created_at
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unenriched markets: %w", err)
	}
	defer rows.Close()

	var out []domain.EnrichCandidate
	for rows.Next() {
		m, st, err := scanMarketWithState(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan unenriched market: %w", err)
		}
		out = append(out, domain.EnrichCandidate{Market: m, State: st})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unenriched markets rows: %w", err)
	}
	return out, nil
}

// ApplyArticle writes enrichment output onto the market.
func (s *MarketStore) ApplyArticle(ctx context.Context, id string, a domain.Article) error {
	tags, err := json.Marshal(nonNilStrings(a.Tags))
	if err != nil {
		return fmt.Errorf("postgres: marshal tags: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE market SET
			headline                 = $2,
			headline_short           = $3,
			article_body             = $4,
			article_meta_description = $5,
			article_image_prompt     = $6,
			category                 = $7,
			tags                     = $8,
			updated_at               = NOW()
		WHERE id = $1`,
		id, a.Headline, a.HeadlineShort, a.Body, a.MetaDescription, a.ImagePrompt, a.Category, tags,
	)
	if err != nil {
		return fmt.Errorf("postgres: apply article to %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: apply article to %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetBySlug retrieves a market by its URL slug. When several sources share a
// slug the most recently updated market wins.
func (s *MarketStore) GetBySlug(ctx context.Context, slug string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM market WHERE slug = $1 ORDER BY updated_at DESC LIMIT 1`, slug)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market by slug %s: %w", slug, err)
	}
	return m, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}
