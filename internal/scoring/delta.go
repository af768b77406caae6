// Package scoring holds the pure functions behind snapshot bucketing,
// probability deltas, trust tiers and feed ranking scores.
package scoring

import (
	"math"
	"time"
)

const (
	// BucketSeconds is the snapshot bucket width.
	BucketSeconds = 300
	// DefaultTolerance is how far from the target a snapshot may lie and
	// still be used for a delta.
	DefaultTolerance = 600
)

// Point is one snapshot observation.
type Point struct {
	TsBucket int64
	P        float64
}

// Deltas holds the probability change over the standard windows. A nil
// field means no snapshot was close enough to the window start.
type Deltas struct {
	Delta1h  *float64
	Delta24h *float64
}

// AbsMax returns the larger absolute delta, or 0 when both are nil.
func (d Deltas) AbsMax() float64 {
	var out float64
	if d.Delta1h != nil {
		out = math.Abs(*d.Delta1h)
	}
	if d.Delta24h != nil {
		out = math.Max(out, math.Abs(*d.Delta24h))
	}
	return out
}

// Any reports whether at least one delta is known.
func (d Deltas) Any() bool {
	return d.Delta1h != nil || d.Delta24h != nil
}

// TsBucket floors t to its 5-minute bucket, in unix seconds.
func TsBucket(t time.Time) int64 {
	return BucketEpoch(t.Unix())
}

// BucketEpoch floors unix seconds to the bucket boundary.
func BucketEpoch(epoch int64) int64 {
	b := epoch / BucketSeconds
	if epoch < 0 && epoch%BucketSeconds != 0 {
		b--
	}
	return b * BucketSeconds
}

// FindClosestSnapshot returns the point whose bucket is nearest target,
// within tol seconds. On equal distance the earlier element of points wins.
func FindClosestSnapshot(points []Point, target, tol int64) (Point, bool) {
	var (
		best     Point
		bestDist int64 = math.MaxInt64
		found    bool
	)
	for _, p := range points {
		dist := p.TsBucket - target
		if dist < 0 {
			dist = -dist
		}
		if dist <= tol && dist < bestDist {
			best, bestDist, found = p, dist, true
		}
	}
	return best, found
}

// ComputeDelta returns currentP minus the probability observed hoursAgo
// before now, or nil if no snapshot lies within tol of that instant.
func ComputeDelta(currentP float64, points []Point, hoursAgo float64, now time.Time, tol int64) *float64 {
	target := now.Unix() - int64(hoursAgo*3600)
	hist, ok := FindClosestSnapshot(points, target, tol)
	if !ok {
		return nil
	}
	d := currentP - hist.P
	return &d
}

// ComputeDeltas computes the 1h and 24h deltas with the default tolerance.
func ComputeDeltas(currentP float64, points []Point, now time.Time) Deltas {
	return Deltas{
		Delta1h:  ComputeDelta(currentP, points, 1, now, DefaultTolerance),
		Delta24h: ComputeDelta(currentP, points, 24, now, DefaultTolerance),
	}
}
