package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// Job run statuses published on the bus.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// SchedulerConfig controls retries and locking.
type SchedulerConfig struct {
	Attempts   int           // per scheduled run, default 3
	Backoff    time.Duration // first retry delay, doubled per attempt, default 5s
	LockTTL    time.Duration // default 10m, refreshed while the job runs
	RunOnStart []string      // jobs fired once when Run starts
}

// SchedulerDeps are optional collaborators. A nil Locks falls back to the
// in-process guard alone.
type SchedulerDeps struct {
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Audit   domain.AuditStore
	Alerter Alerter
}

type entry struct {
	job      Job
	schedule Schedule
}

// Scheduler fires jobs on their cron schedules. The same job never runs
// twice at once, within the process or across processes sharing the lock
// manager.
type Scheduler struct {
	runner  *Runner
	entries []entry
	cfg     SchedulerConfig
	deps    SchedulerDeps
	logger  *slog.Logger

	mu     sync.Mutex
	guards map[string]*sync.Mutex

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(runner *Runner, cfg SchedulerConfig, deps SchedulerDeps, logger *slog.Logger) *Scheduler {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "scheduler")),
		guards: make(map[string]*sync.Mutex),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Schedule registers name to fire on cronExpr. An empty expression leaves
// the job manual-only.
func (s *Scheduler) Schedule(name, cronExpr string) error {
	if cronExpr == "" {
		return nil
	}
	job, err := s.runner.Job(name)
	if err != nil {
		return err
	}
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.entries = append(s.entries, entry{job: job, schedule: sched})
	return nil
}

// Run blocks until ctx is cancelled, running every scheduled job in its own
// goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, name := range s.cfg.RunOnStart {
		job, err := s.runner.Job(name)
		if err != nil {
			return fmt.Errorf("run on start: %w", err)
		}
		g.Go(func() error {
			_, _ = s.Execute(ctx, job, RunOpts{})
			return nil
		})
	}

	for _, e := range s.entries {
		g.Go(func() error {
			return s.loop(ctx, e)
		})
	}

	s.logger.InfoContext(ctx, "scheduler started",
		slog.Int("jobs", len(s.entries)),
		slog.Any("run_on_start", s.cfg.RunOnStart),
	)
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, e entry) error {
	for {
		next, err := e.schedule.Next(s.now())
		if err != nil {
			return err
		}
		s.logger.DebugContext(ctx, "next run",
			slog.String("job", e.job.Name()),
			slog.Time("at", next),
		)
		if err := s.sleep(ctx, next.Sub(s.now())); err != nil {
			return nil
		}
		_, _ = s.Execute(ctx, e.job, RunOpts{})
	}
}

// Execute runs job with retries. A held lock skips the run without retry;
// usage and configuration errors are not retried either.
func (s *Scheduler) Execute(ctx context.Context, job Job, opts RunOpts) (any, error) {
	return s.execute(ctx, job, opts, s.cfg.Attempts)
}

// Trigger runs the named job once, for manual invocations from the CLI and
// the HTTP API.
func (s *Scheduler) Trigger(ctx context.Context, name, limitArg string) (any, error) {
	job, err := s.runner.Job(name)
	if err != nil {
		return nil, err
	}
	limit, err := ParseLimit(limitArg)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, job, RunOpts{Limit: limit}, 1)
}

func (s *Scheduler) execute(ctx context.Context, job Job, opts RunOpts, attempts int) (any, error) {
	ev := domain.JobEvent{Job: job.Name(), StartedAt: s.now().UTC()}
	log := s.logger.With(slog.String("job", job.Name()))

	var (
		result any
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		ev.Attempts = attempt
		result, err = s.runLocked(ctx, job, opts)
		if err == nil || !retryable(err) || ctx.Err() != nil || attempt == attempts {
			break
		}
		delay := s.cfg.Backoff << (attempt - 1)
		log.WarnContext(ctx, "job attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		if s.sleep(ctx, delay) != nil {
			break
		}
	}
	ev.FinishedAt = s.now().UTC()

	switch {
	case errors.Is(err, domain.ErrLockHeld):
		ev.Status = StatusSkipped
		log.InfoContext(ctx, "job already running, skipped")
	case err != nil:
		ev.Status = StatusFailed
		ev.Error = err.Error()
		log.ErrorContext(ctx, "job failed",
			slog.Int("attempts", ev.Attempts),
			slog.String("error", err.Error()),
		)
		if s.deps.Alerter != nil && !errors.Is(err, ErrUsage) {
			s.deps.Alerter.Alert(ctx, EventJobFailed, "Job failed: "+job.Name(),
				fmt.Sprintf("%s failed after %d attempt(s): %v", job.Name(), ev.Attempts, err))
		}
	default:
		ev.Status = StatusSucceeded
		ev.Result = result
		log.InfoContext(ctx, "job succeeded",
			slog.Int("attempts", ev.Attempts),
			slog.Duration("elapsed", ev.FinishedAt.Sub(ev.StartedAt)),
		)
	}
	s.record(context.WithoutCancel(ctx), ev)
	return result, err
}

// runLocked takes the in-process guard and the distributed lock, then runs
// the job once.
func (s *Scheduler) runLocked(ctx context.Context, job Job, opts RunOpts) (any, error) {
	guard := s.guard(job.Name())
	if !guard.TryLock() {
		return nil, domain.ErrLockHeld
	}
	defer guard.Unlock()

	if s.deps.Locks != nil {
		unlock, err := s.deps.Locks.Acquire(ctx, "job:"+job.Name(), s.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	return job.Run(ctx, opts)
}

func (s *Scheduler) guard(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[name]
	if !ok {
		g = &sync.Mutex{}
		s.guards[name] = g
	}
	return g
}

// record publishes ev on the bus and job history stream and audits it.
func (s *Scheduler) record(ctx context.Context, ev domain.JobEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.WarnContext(ctx, "encode job event", slog.String("error", err.Error()))
		return
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(ctx, domain.ChannelJobs, payload); err != nil {
			s.logger.WarnContext(ctx, "publish job event", slog.String("error", err.Error()))
		}
		if err := s.deps.Bus.StreamAppend(ctx, domain.StreamJobs, payload); err != nil {
			s.logger.WarnContext(ctx, "append job history", slog.String("error", err.Error()))
		}
	}
	if s.deps.Audit != nil && ev.Status != StatusSkipped {
		detail := map[string]any{
			"status":   ev.Status,
			"attempts": ev.Attempts,
			"elapsed":  ev.FinishedAt.Sub(ev.StartedAt).String(),
		}
		if ev.Error != "" {
			detail["error"] = ev.Error
		}
		if err := s.deps.Audit.Log(ctx, "job."+ev.Job, detail); err != nil {
			s.logger.WarnContext(ctx, "audit job run", slog.String("error", err.Error()))
		}
	}
}

func retryable(err error) bool {
	return !errors.Is(err, domain.ErrLockHeld) &&
		!errors.Is(err, ErrUsage) &&
		!errors.Is(err, domain.ErrNotConfigured)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
