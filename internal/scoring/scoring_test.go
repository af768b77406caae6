package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prenews/internal/domain"
)

func ptr[T any](v T) *T { return &v }

// --- buckets ---

func TestTsBucket_FloorsToFiveMinutes(t *testing.T) {
	ts := time.Unix(1_700_000_123, 0)
	b := TsBucket(ts)
	assert.Equal(t, int64(1_700_000_100), b)
	assert.Zero(t, b%BucketSeconds)
	assert.Equal(t, b, BucketEpoch(b))
}

func TestTsBucket_SameBucketWithinWindow(t *testing.T) {
	base := time.Unix(1_700_000_100, 0)
	for i := 0; i < BucketSeconds; i += 37 {
		assert.Equal(t, TsBucket(base), TsBucket(base.Add(time.Duration(i)*time.Second)))
	}
	assert.NotEqual(t, TsBucket(base), TsBucket(base.Add(BucketSeconds*time.Second)))
}

// --- closest snapshot ---

func TestFindClosestSnapshot_Empty(t *testing.T) {
	_, ok := FindClosestSnapshot(nil, 1000, DefaultTolerance)
	assert.False(t, ok)
}

func TestFindClosestSnapshot_PicksNearest(t *testing.T) {
	pts := []Point{{TsBucket: 1000, P: 0.1}, {TsBucket: 1300, P: 0.2}, {TsBucket: 1600, P: 0.3}}
	got, ok := FindClosestSnapshot(pts, 1350, DefaultTolerance)
	require.True(t, ok)
	assert.Equal(t, 0.2, got.P)
}

func TestFindClosestSnapshot_TieKeepsFirst(t *testing.T) {
	pts := []Point{{TsBucket: 900, P: 0.4}, {TsBucket: 1500, P: 0.6}}
	got, ok := FindClosestSnapshot(pts, 1200, DefaultTolerance)
	require.True(t, ok)
	assert.Equal(t, 0.4, got.P)
}

func TestFindClosestSnapshot_OutsideTolerance(t *testing.T) {
	pts := []Point{{TsBucket: 0, P: 0.4}}
	_, ok := FindClosestSnapshot(pts, 601, DefaultTolerance)
	assert.False(t, ok)

	got, ok := FindClosestSnapshot(pts, 600, DefaultTolerance)
	require.True(t, ok)
	assert.Equal(t, 0.4, got.P)
}

func TestFindClosestSnapshot_BucketGrid(t *testing.T) {
	pts := []Point{
		{TsBucket: 1000, P: 0.10},
		{TsBucket: 1300, P: 0.13},
		{TsBucket: 1600, P: 0.16},
		{TsBucket: 1900, P: 0.19},
	}
	tests := []struct {
		name   string
		target int64
		want   int64
		found  bool
	}{
		{"nearest bucket", 1280, 1300, true},
		{"exact match", 1600, 1600, true},
		{"beyond tolerance", 5000, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindClosestSnapshot(pts, tt.target, DefaultTolerance)
			require.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got.TsBucket)
			}
		})
	}
}

// --- deltas ---

func TestComputeDelta(t *testing.T) {
	now := time.Unix(100_000, 0)
	pts := []Point{{TsBucket: 100_000 - 3600, P: 0.40}, {TsBucket: 100_000 - 86400, P: 0.70}}

	d := ComputeDeltas(0.55, pts, now)
	require.NotNil(t, d.Delta1h)
	require.NotNil(t, d.Delta24h)
	assert.InDelta(t, 0.15, *d.Delta1h, 1e-9)
	assert.InDelta(t, -0.15, *d.Delta24h, 1e-9)
	assert.InDelta(t, 0.15, d.AbsMax(), 1e-9)
	assert.True(t, d.Any())
}

func TestComputeDelta_NoHistory(t *testing.T) {
	now := time.Unix(100_000, 0)
	assert.Nil(t, ComputeDelta(0.5, nil, 1, now, DefaultTolerance))

	d := ComputeDeltas(0.5, []Point{{TsBucket: 100_000 - 5*3600, P: 0.1}}, now)
	assert.False(t, d.Any())
	assert.Zero(t, d.AbsMax())
}

// --- trust ---

func TestComputeTrustScore(t *testing.T) {
	cfg := DefaultTrustConfig()
	score := ComputeTrustScore(TrustInput{Volume24h: ptr(1000.0), Liquidity: ptr(500.0), Spread: ptr(0.02)}, cfg)
	want := math.Log1p(1000) + 0.8*math.Log1p(500) - 2*0.02
	assert.InDelta(t, want, score, 1e-9)
}

func TestComputeTrustScore_MissingSpreadPenalised(t *testing.T) {
	cfg := DefaultTrustConfig()
	withSpread := ComputeTrustScore(TrustInput{Volume24h: ptr(10.0), Spread: ptr(0.0)}, cfg)
	without := ComputeTrustScore(TrustInput{Volume24h: ptr(10.0)}, cfg)
	assert.InDelta(t, 1.0, withSpread-without, 1e-9)
}

func TestComputeTrustTier(t *testing.T) {
	cfg := DefaultTrustConfig()
	tests := []struct {
		name string
		in   TrustInput
		want domain.TrustTier
	}{
		{"no volume or liquidity", TrustInput{Spread: ptr(0.0)}, domain.TrustTierLow},
		{"deep market", TrustInput{Volume24h: ptr(1e6), Liquidity: ptr(1e5), Spread: ptr(0.01)}, domain.TrustTierHigh},
		{"mid market", TrustInput{Volume24h: ptr(1000.0), Spread: ptr(0.05)}, domain.TrustTierMedium},
		{"thin market", TrustInput{Volume24h: ptr(5.0), Liquidity: ptr(5.0)}, domain.TrustTierLow},
		{"no signals, nil spread", TrustInput{}, domain.TrustTierLow},
		{"no signals, tight spread", TrustInput{Spread: ptr(0.001)}, domain.TrustTierLow},
		{"no signals, wide spread", TrustInput{Spread: ptr(0.9)}, domain.TrustTierLow},
		{"no signals, negative spread", TrustInput{Spread: ptr(-100.0)}, domain.TrustTierLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeTrustTier(tt.in, cfg))
		})
	}
}

// --- feed scores ---

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(0.5))
	assert.InDelta(t, 1.0, Confidence(0), 1e-12)
	assert.InDelta(t, 1.0, Confidence(1), 1e-12)
	assert.InDelta(t, 0.8, Confidence(0.9), 1e-9)
}

func TestConfidence_Symmetric(t *testing.T) {
	for i := 0; i <= 100; i++ {
		p := float64(i) / 100
		c := Confidence(p)
		assert.InDelta(t, c, Confidence(1-p), 1e-12, "p=%v", p)
		assert.GreaterOrEqual(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0+1e-12)
	}
}

func TestUrgency(t *testing.T) {
	tests := []struct {
		days *float64
		want float64
	}{
		{nil, 0.3},
		{ptr(-2.0), 0.1},
		{ptr(0.0), 0.1},
		{ptr(0.5), 1.0},
		{ptr(1.0), 1.0},
		{ptr(3.0), 0.8},
		{ptr(7.0), 0.8},
		{ptr(20.0), 0.5},
		{ptr(30.0), 0.5},
		{ptr(31.0), 0.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Urgency(tt.days))
	}
}

func TestTrustMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, TrustMultiplier(domain.TrustTierHigh))
	assert.Equal(t, 0.7, TrustMultiplier(domain.TrustTierMedium))
	assert.Equal(t, 0.3, TrustMultiplier(domain.TrustTierLow))
	assert.Equal(t, 0.3, TrustMultiplier(""))
}

func TestLikelyAndMovedScore(t *testing.T) {
	days := ptr(0.5)
	assert.InDelta(t, 1.0*0.8*0.7, LikelyScore(LikelyInput{P: 0.9, Days: days, TrustTier: domain.TrustTierMedium}), 1e-9)
	assert.InDelta(t, 0.2*1.0*(0.5+0.5*1.0), MovedScore(MovedInput{AbsDelta: 0.2, Days: days, TrustTier: domain.TrustTierHigh}), 1e-9)
	assert.Zero(t, MovedScore(MovedInput{AbsDelta: 0, TrustTier: domain.TrustTierHigh}))
}

func TestLikelyScore_CoinFlipIsZero(t *testing.T) {
	for _, days := range []*float64{nil, ptr(-1.0), ptr(0.5), ptr(5.0), ptr(20.0), ptr(90.0)} {
		for _, tier := range []domain.TrustTier{domain.TrustTierHigh, domain.TrustTierMedium, domain.TrustTierLow} {
			assert.Zero(t, LikelyScore(LikelyInput{P: 0.5, Days: days, TrustTier: tier}))
		}
	}
}

func TestLikelyScore_ConfidentSoonBeatsUncertainDistant(t *testing.T) {
	strong := LikelyScore(LikelyInput{P: 0.95, Days: ptr(1.0), TrustTier: domain.TrustTierHigh})
	weak := LikelyScore(LikelyInput{P: 0.55, Days: ptr(60.0), TrustTier: domain.TrustTierLow})
	assert.InDelta(t, 0.9, strong, 1e-9)
	assert.InDelta(t, 0.3*0.1*0.3, weak, 1e-9)
	assert.Greater(t, strong, weak)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, DaysUntil(nil, now))
	at := now.Add(36 * time.Hour)
	assert.InDelta(t, 1.5, *DaysUntil(&at, now), 1e-9)
}

// --- ranking ---

func TestRankFeeds_FiltersAndOrders(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	soon := now.Add(12 * time.Hour)
	hourAgo := now.Unix() - 3600

	cands := []Candidate{
		{MarketID: "low", P: 0.99, ResolvesAt: &soon, TrustTier: domain.TrustTierLow,
			Points: []Point{{TsBucket: hourAgo, P: 0.1}}},
		{MarketID: "untiered", P: 0.99, ResolvesAt: &soon},
		{MarketID: "flat", P: 0.6, ResolvesAt: &soon, TrustTier: domain.TrustTierHigh,
			Points: []Point{{TsBucket: hourAgo, P: 0.6}}},
		{MarketID: "mover", P: 0.7, ResolvesAt: &soon, TrustTier: domain.TrustTierMedium,
			Points: []Point{{TsBucket: hourAgo, P: 0.4}}},
		{MarketID: "sure", P: 0.95, TrustTier: domain.TrustTierHigh},
	}

	likely, moved := RankFeeds(cands, now, 200)

	ids := func(rs []Ranked) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.MarketID
		}
		return out
	}
	assert.Equal(t, []string{"mover", "sure", "flat"}, ids(likely))
	assert.Equal(t, []string{"mover"}, ids(moved))
	assert.InDelta(t, 0.3*0.7*1.0, moved[0].Score, 1e-9)
	for i := 1; i < len(likely); i++ {
		assert.GreaterOrEqual(t, likely[i-1].Score, likely[i].Score)
	}
}

func TestRankFeeds_TruncatesAndKeepsInputOrderOnTies(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	var cands []Candidate
	for _, id := range []string{"a", "b", "c", "d"} {
		cands = append(cands, Candidate{MarketID: id, P: 0.8, TrustTier: domain.TrustTierHigh})
	}
	likely, moved := RankFeeds(cands, now, 3)
	require.Len(t, likely, 3)
	assert.Equal(t, "a", likely[0].MarketID)
	assert.Equal(t, "c", likely[2].MarketID)
	assert.Empty(t, moved)
}
