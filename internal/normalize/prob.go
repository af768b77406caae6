package normalize

import (
	"fmt"
	"math"
)

// ClampProb limits p to [0,1].
func ClampProb(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}

// MidPrice returns the midpoint of bid and ask.
func MidPrice(bid, ask float64) float64 {
	return (bid + ask) / 2
}

// Spread returns ask minus bid.
func Spread(bid, ask float64) float64 {
	return ask - bid
}

// roundHalfUp rounds halves toward positive infinity so that -0.5 pts
// renders as 0, not -1.
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// FormatProbability renders p as a whole percentage, e.g. "73%".
func FormatProbability(p float64) string {
	return fmt.Sprintf("%d%%", roundHalfUp(p*100))
}

// FormatDelta renders a probability change in points, e.g. "+12 pts". It
// returns "" for a nil delta.
func FormatDelta(delta *float64) string {
	if delta == nil {
		return ""
	}
	return signedPts(*delta) + " pts"
}

func signedPts(delta float64) string {
	pts := roundHalfUp(delta * 100)
	if pts >= 0 {
		return fmt.Sprintf("+%d", pts)
	}
	return fmt.Sprintf("%d", pts)
}
