package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// setupTestDB starts a PostgreSQL container, applies the embedded
// migrations and returns a client. The test is skipped when no container
// runtime is available.
func setupTestDB(t *testing.T) *Client {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("prenews"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(pool.Close)

	client := NewFromPool(pool)
	require.NoError(t, client.RunMigrations(ctx))
	return client
}

func ptr[T any](v T) *T {
	return &v
}

func seedMarket(t *testing.T, s *MarketStore, id string, mutate func(*domain.Market)) domain.UpsertResult {
	t.Helper()
	m := domain.Market{
		Source:         domain.SourcePolymarket,
		SourceMarketID: id,
		Slug:           "market-" + id,
		TitleRaw:       "Market " + id,
		MarketType:     domain.MarketTypeBinary,
		Outcomes:       []string{"Yes", "No"},
		Status:         domain.MarketStatusActive,
		SourceURL:      "https://polymarket.com/event/market-" + id,
		Category:       ptr("events"),
	}
	if mutate != nil {
		mutate(&m)
	}
	res, err := s.Upsert(context.Background(), m)
	require.NoError(t, err)
	return res
}
