package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists canonical market metadata.
type MarketStore interface {
	// Upsert inserts or updates by (source, source_market_id). Mutable
	// fields are refreshed; identity and editorial content are preserved.
	Upsert(ctx context.Context, market Market) (UpsertResult, error)
	ListActiveRefs(ctx context.Context) ([]MarketRef, error)
	ListUnenriched(ctx context.Context, limit int) ([]EnrichCandidate, error)
	ApplyArticle(ctx context.Context, id string, article Article) error
	GetBySlug(ctx context.Context, slug string) (Market, error)
	Count(ctx context.Context) (int64, error)
}

// StateStore persists the latest state per market.
type StateStore interface {
	Upsert(ctx context.Context, state MarketState) error
	Get(ctx context.Context, marketID string) (MarketState, error)
	ListActive(ctx context.Context) ([]ActiveMarketState, error)
}

// SnapshotStore persists the append-only snapshot series. List methods
// return rows ordered by market then ts_bucket ascending.
type SnapshotStore interface {
	// Insert is a no-op when (market_id, ts_bucket) already exists; the bool
	// reports whether a row was written.
	Insert(ctx context.Context, snap Snapshot) (bool, error)
	ListSince(ctx context.Context, sinceBucket int64) ([]Snapshot, error)
	ListForMarket(ctx context.Context, marketID string, sinceBucket int64, limit int) ([]Snapshot, error)
	ListForMarkets(ctx context.Context, marketIDs []string, sinceBucket int64) ([]Snapshot, error)
	ListRange(ctx context.Context, fromBucket, toBucket int64) ([]Snapshot, error)
}

// FeedStore publishes ranked feeds.
type FeedStore interface {
	// Replace atomically swaps the feed's contents for items.
	Replace(ctx context.Context, feed FeedName, items []FeedItem) error
}

// ArtifactStore caches enricher outputs.
type ArtifactStore interface {
	Find(ctx context.Context, marketID, artifactType, inputHash, promptHash string) (Artifact, error)
	Upsert(ctx context.Context, artifact Artifact) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditFilter narrows an audit listing. An empty Event matches all events;
// a trailing '*' matches by prefix ("job.*").
type AuditFilter struct {
	Event string
	ListOpts
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
	Latest(ctx context.Context, event string) (AuditEntry, error)
}
