package scoring

import (
	"math"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// missingSpread is the spread assumed when the source reports none.
const missingSpread = 0.5

// TrustConfig holds the trust score weights and tier thresholds.
type TrustConfig struct {
	VolumeWeight    float64
	LiquidityWeight float64
	SpreadWeight    float64
	HighThreshold   float64
	MediumThreshold float64
}

// DefaultTrustConfig returns the production weights.
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		VolumeWeight:    1.0,
		LiquidityWeight: 0.8,
		SpreadWeight:    2.0,
		HighThreshold:   15.0,
		MediumThreshold: 6.0,
	}
}

// TrustInput carries the market quality signals. Nil means unreported.
type TrustInput struct {
	Volume24h *float64
	Liquidity *float64
	Spread    *float64
}

// ComputeTrustScore combines log-scaled 24h volume and liquidity with a
// spread penalty. Missing volume or liquidity contributes 0; a missing
// spread is penalised as 0.5.
func ComputeTrustScore(in TrustInput, cfg TrustConfig) float64 {
	spread := missingSpread
	if in.Spread != nil {
		spread = *in.Spread
	}
	return cfg.VolumeWeight*math.Log1p(orZero(in.Volume24h)) +
		cfg.LiquidityWeight*math.Log1p(orZero(in.Liquidity)) -
		cfg.SpreadWeight*spread
}

// ComputeTrustTier maps the trust score to a tier. A market with neither
// volume nor liquidity reported is always low.
func ComputeTrustTier(in TrustInput, cfg TrustConfig) domain.TrustTier {
	if in.Volume24h == nil && in.Liquidity == nil {
		return domain.TrustTierLow
	}
	score := ComputeTrustScore(in, cfg)
	switch {
	case score >= cfg.HighThreshold:
		return domain.TrustTierHigh
	case score >= cfg.MediumThreshold:
		return domain.TrustTierMedium
	default:
		return domain.TrustTierLow
	}
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
