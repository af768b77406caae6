// Package pipeline implements the ingestion jobs (discovery, pricing,
// enrichment, feed build, snapshot archive) and the scheduler that runs
// them on cron schedules under distributed job locks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Job names accepted by the runner.
const (
	JobDiscovery = "discovery"
	JobPricing   = "pricing"
	JobEnrich    = "enrich"
	JobFeeds     = "feeds"
	JobArchive   = "archive"
)

// ErrUsage marks an invalid job invocation: unknown job name or a bad limit.
var ErrUsage = errors.New("usage")

// RunOpts parameterises a single job run. A zero Limit selects the job's
// configured default.
type RunOpts struct {
	Limit int
}

// Job is an idempotent unit of work the scheduler and CLI can invoke.
type Job interface {
	Name() string
	Run(ctx context.Context, opts RunOpts) (any, error)
}

// Alerter delivers operator notifications. Implementations must not block
// for long and swallow their own delivery errors.
type Alerter interface {
	Alert(ctx context.Context, event, title, message string)
}

// Alert events.
const (
	EventJobFailed      = "job_failed"
	EventBreakerTripped = "breaker_tripped"
)

// Runner resolves jobs by name.
type Runner struct {
	jobs  map[string]Job
	order []string
}

func NewRunner(jobs ...Job) *Runner {
	r := &Runner{jobs: make(map[string]Job, len(jobs))}
	for _, j := range jobs {
		r.Register(j)
	}
	return r
}

// Register adds or replaces j.
func (r *Runner) Register(j Job) {
	if _, ok := r.jobs[j.Name()]; !ok {
		r.order = append(r.order, j.Name())
	}
	r.jobs[j.Name()] = j
}

// Names lists registered jobs in registration order.
func (r *Runner) Names() []string {
	return slices.Clone(r.order)
}

// Job returns the named job or an ErrUsage error.
func (r *Runner) Job(name string) (Job, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q (want one of %s)", ErrUsage, name, strings.Join(r.order, ", "))
	}
	return j, nil
}

// ParseLimit parses an optional positive integer limit. An empty string
// yields 0.
func ParseLimit(arg string) (int, error) {
	if arg == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer, got %q", ErrUsage, arg)
	}
	return n, nil
}

// Run resolves name and limitArg and runs the job once.
func (r *Runner) Run(ctx context.Context, name, limitArg string) (any, error) {
	j, err := r.Job(name)
	if err != nil {
		return nil, err
	}
	limit, err := ParseLimit(limitArg)
	if err != nil {
		return nil, err
	}
	return j.Run(ctx, RunOpts{Limit: limit})
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
