package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// ArtifactStore implements domain.ArtifactStore using PostgreSQL.
type ArtifactStore struct {
	pool *pgxpool.Pool
}

// NewArtifactStore creates a new ArtifactStore backed by the given connection pool.
func NewArtifactStore(pool *pgxpool.Pool) *ArtifactStore {
	return &ArtifactStore{pool: pool}
}

// Find returns a cached artifact for the exact input and prompt.
func (s *ArtifactStore) Find(ctx context.Context, marketID, artifactType, inputHash, promptHash string) (domain.Artifact, error) {
	a := domain.Artifact{
		MarketID:     marketID,
		ArtifactType: artifactType,
		InputHash:    inputHash,
		PromptHash:   promptHash,
	}
	err := s.pool.QueryRow(ctx, `
		SELECT model, input, output
		FROM llm_artifact
		WHERE market_id = $1 AND artifact_type = $2 AND input_hash = $3 AND prompt_hash = $4`,
		marketID, artifactType, inputHash, promptHash,
	).Scan(&a.Model, &a.Input, &a.Output)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Artifact{}, domain.ErrNotFound
		}
		return domain.Artifact{}, fmt.Errorf("postgres: find artifact for %s: %w", marketID, err)
	}
	return a, nil
}

// Upsert stores an artifact, replacing the output of an identical key.
func (s *ArtifactStore) Upsert(ctx context.Context, a domain.Artifact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO llm_artifact (market_id, artifact_type, model, input_hash, prompt_hash, input, output)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market_id, artifact_type, input_hash, prompt_hash) DO UPDATE SET
			model  = EXCLUDED.model,
			output = EXCLUDED.output`,
		a.MarketID, a.ArtifactType, a.Model, a.InputHash, a.PromptHash, a.Input, a.Output,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert artifact for %s: %w", a.MarketID, err)
	}
	return nil
}
