package scoring

import (
	"math"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// Confidence measures how far p sits from a coin flip, in [0,1].
func Confidence(p float64) float64 {
	return math.Abs(p-0.5) * 2
}

// Urgency weights a market by days until resolution. Unknown resolution
// dates get the same weight as distant ones.
func Urgency(days *float64) float64 {
	if days == nil {
		return 0.3
	}
	d := *days
	switch {
	case d <= 0:
		return 0.1
	case d <= 1:
		return 1.0
	case d <= 7:
		return 0.8
	case d <= 30:
		return 0.5
	default:
		return 0.3
	}
}

// TrustMultiplier converts a tier into a score multiplier.
func TrustMultiplier(tier domain.TrustTier) float64 {
	switch tier {
	case domain.TrustTierHigh:
		return 1.0
	case domain.TrustTierMedium:
		return 0.7
	default:
		return 0.3
	}
}

// LikelyInput is the input to LikelyScore.
type LikelyInput struct {
	P         float64
	Days      *float64
	TrustTier domain.TrustTier
}

// LikelyScore ranks confident markets that resolve soon.
func LikelyScore(in LikelyInput) float64 {
	return Urgency(in.Days) * Confidence(in.P) * TrustMultiplier(in.TrustTier)
}

// MovedInput is the input to MovedScore.
type MovedInput struct {
	AbsDelta  float64
	Days      *float64
	TrustTier domain.TrustTier
}

// MovedScore ranks markets by recent repricing, damped by trust and
// mildly boosted by urgency.
func MovedScore(in MovedInput) float64 {
	return in.AbsDelta * TrustMultiplier(in.TrustTier) * (0.5 + 0.5*Urgency(in.Days))
}

// DaysUntil returns the fractional days from now until t, or nil if t is nil.
func DaysUntil(t *time.Time, now time.Time) *float64 {
	if t == nil {
		return nil
	}
	d := t.Sub(now).Seconds() / 86400
	return &d
}
