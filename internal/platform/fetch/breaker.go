package fetch

import "sync"

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	// Threshold is the failure ratio above which the breaker trips.
	Threshold float64
	// MinSamples is the number of outcomes required before tripping.
	MinSamples int
}

// DefaultBreakerConfig trips above 20% failures once 10 outcomes are known.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 0.2, MinSamples: 10}
}

// BreakerStats is a point-in-time view of a breaker's counters.
type BreakerStats struct {
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	Total       int     `json:"total"`
	FailureRate float64 `json:"failure_rate"`
}

// CircuitBreaker counts outcomes over one job run and signals when the
// upstream looks degraded. It never resets itself; create one per run.
type CircuitBreaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	successes int
	failures  int
}

// NewCircuitBreaker creates a breaker with the given thresholds.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg}
}

func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	b.successes++
	b.mu.Unlock()
}

func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	b.mu.Unlock()
}

// ShouldAbort reports whether enough outcomes have been seen and the
// failure ratio exceeds the threshold.
func (b *CircuitBreaker) ShouldAbort() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.successes + b.failures
	if total < b.cfg.MinSamples || total == 0 {
		return false
	}
	return float64(b.failures)/float64(total) > b.cfg.Threshold
}

// Stats returns the current counters.
func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerStats{Successes: b.successes, Failures: b.failures, Total: b.successes + b.failures}
	if s.Total > 0 {
		s.FailureRate = float64(s.Failures) / float64(s.Total)
	}
	return s
}
