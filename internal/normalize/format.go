package normalize

import (
	"fmt"
	"strings"
	"time"
)

// FormatResolvesIn renders the time until resolution relative to now.
func FormatResolvesIn(resolvesAt *time.Time, now time.Time) string {
	if resolvesAt == nil {
		return "Unknown"
	}
	diff := resolvesAt.Sub(now)
	if diff <= 0 {
		return "Resolved"
	}

	days := int(diff / (24 * time.Hour))
	hours := int(diff / time.Hour)
	switch {
	case days > 30:
		return fmt.Sprintf("%d months", days/30)
	case days > 1:
		return fmt.Sprintf("%d days", days)
	case days == 1:
		return "1 day"
	case hours > 1:
		return fmt.Sprintf("%d hours", hours)
	default:
		return "< 1 hour"
	}
}

// MovementInput is the input to MovementNote.
type MovementInput struct {
	Delta1h    *float64
	Delta24h   *float64
	P          float64
	ResolvesAt *time.Time
}

// MovementNote builds the one-line template summary shown next to a moved
// market, e.g. "repriced +12 pts in 24h; now 64%; resolves in 3 days.".
func MovementNote(in MovementInput, now time.Time) string {
	var parts []string
	switch {
	case in.Delta24h != nil:
		parts = append(parts, fmt.Sprintf("repriced %s pts in 24h", signedPts(*in.Delta24h)))
	case in.Delta1h != nil:
		parts = append(parts, fmt.Sprintf("repriced %s pts in 1h", signedPts(*in.Delta1h)))
	}
	parts = append(parts, "now "+FormatProbability(in.P))
	if in.ResolvesAt != nil {
		parts = append(parts, "resolves in "+FormatResolvesIn(in.ResolvesAt, now))
	}
	return strings.Join(parts, "; ") + "."
}
