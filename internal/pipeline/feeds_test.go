package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prenews/internal/domain"
)

var feedNow = time.Unix(1_700_000_100, 0).UTC()

// seedFeedMarkets creates a confident high-trust market that moved over the
// last hour, a medium-trust coin flip and a low-trust market.
func seedFeedMarkets(t *testing.T, store *memStore) (confident, coinFlip, lowTrust string) {
	t.Helper()
	soon := feedNow.Add(12 * time.Hour)
	confident = store.seed(domain.SourcePolymarket, "confident",
		&domain.MarketState{P: 0.9, TrustTier: domain.TrustTierHigh}, &soon)
	coinFlip = store.seed(domain.SourceKalshi, "flip",
		&domain.MarketState{P: 0.6, TrustTier: domain.TrustTierMedium}, nil)
	lowTrust = store.seed(domain.SourceKalshi, "thin",
		&domain.MarketState{P: 0.99, TrustTier: domain.TrustTierLow}, &soon)

	ctx := context.Background()
	_, err := store.Insert(ctx, domain.Snapshot{MarketID: confident, TsBucket: feedNow.Unix() - 3600, P: 0.8})
	require.NoError(t, err)
	_, err = store.Insert(ctx, domain.Snapshot{MarketID: lowTrust, TsBucket: feedNow.Unix() - 3600, P: 0.5})
	require.NoError(t, err)
	return confident, coinFlip, lowTrust
}

func newFeedBuilder(store *memStore, deps FeedBuilderDeps, size int) *FeedBuilder {
	b := NewFeedBuilder(stateStore{store}, store, store, deps, size, discardLogger())
	b.now = func() time.Time { return feedNow }
	return b
}

func TestFeedBuilder_RanksAndPublishes(t *testing.T) {
	store := newMemStore()
	confident, coinFlip, _ := seedFeedMarkets(t, store)

	out, err := newFeedBuilder(store, FeedBuilderDeps{}, 0).Run(context.Background(), RunOpts{})
	require.NoError(t, err)
	res := out.(FeedResult)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 2, res.Likely)
	assert.Equal(t, 1, res.Moved)
	assert.Equal(t, feedNow, res.ComputedAt)

	likely := store.feeds[domain.FeedLikely]
	require.Len(t, likely, 2)
	assert.Equal(t, confident, likely[0].MarketID)
	assert.Equal(t, 1, likely[0].Rank)
	assert.Equal(t, coinFlip, likely[1].MarketID)
	assert.Equal(t, 2, likely[1].Rank)
	assert.Greater(t, likely[0].Score, likely[1].Score)

	moved := store.feeds[domain.FeedMoved]
	require.Len(t, moved, 1)
	assert.Equal(t, confident, moved[0].MarketID)
	require.NotNil(t, moved[0].Delta1h)
	assert.InDelta(t, 0.1, *moved[0].Delta1h, 1e-9)
	assert.Nil(t, moved[0].Delta24h)
	assert.Equal(t, feedNow, moved[0].ComputedAt)
}

func TestFeedBuilder_LimitOverridesSize(t *testing.T) {
	store := newMemStore()
	seedFeedMarkets(t, store)

	out, err := newFeedBuilder(store, FeedBuilderDeps{}, 50).Run(context.Background(), RunOpts{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(FeedResult).Likely)
	assert.Len(t, store.feeds[domain.FeedLikely], 1)
}

func TestFeedBuilder_ReplacesPreviousFeed(t *testing.T) {
	store := newMemStore()
	store.feeds[domain.FeedMoved] = []domain.FeedItem{{Feed: domain.FeedMoved, Rank: 1, MarketID: "stale"}}

	_, err := newFeedBuilder(store, FeedBuilderDeps{}, 0).Run(context.Background(), RunOpts{})
	require.NoError(t, err)
	assert.Empty(t, store.feeds[domain.FeedMoved])
}

func TestFeedBuilder_SideChannels(t *testing.T) {
	store := newMemStore()
	seedFeedMarkets(t, store)
	cache, bus, audit := &memCache{}, &memBus{}, &memAudit{}

	_, err := newFeedBuilder(store, FeedBuilderDeps{Cache: cache, Bus: bus, Audit: audit}, 0).
		Run(context.Background(), RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, []string{domain.CacheFeedPrefix}, cache.invalidated)
	require.Len(t, bus.pubs, 2)
	got := map[domain.FeedName]int{}
	for _, p := range bus.pubs {
		assert.Equal(t, domain.ChannelFeeds, p.channel)
		var ev domain.FeedEvent
		require.NoError(t, json.Unmarshal(p.payload, &ev))
		got[ev.Feed] = ev.Items
	}
	assert.Equal(t, map[domain.FeedName]int{domain.FeedLikely: 2, domain.FeedMoved: 1}, got)
	assert.Equal(t, []string{"feeds.published"}, audit.events())
}

func TestFeedBuilder_SideChannelFailuresAreIgnored(t *testing.T) {
	store := newMemStore()
	seedFeedMarkets(t, store)
	deps := FeedBuilderDeps{Cache: &memCache{err: errUpstream}, Bus: &memBus{err: errUpstream}}

	_, err := newFeedBuilder(store, deps, 0).Run(context.Background(), RunOpts{})
	require.NoError(t, err)
	assert.Len(t, store.feeds[domain.FeedLikely], 2)
}

func TestFeedBuilder_ReplaceFailure(t *testing.T) {
	store := newMemStore()
	seedFeedMarkets(t, store)
	store.replaceErr = errUpstream
	cache := &memCache{}

	_, err := newFeedBuilder(store, FeedBuilderDeps{Cache: cache}, 0).Run(context.Background(), RunOpts{})
	require.ErrorIs(t, err, errUpstream)
	assert.Empty(t, cache.invalidated, "nothing is announced when publishing fails")
}
