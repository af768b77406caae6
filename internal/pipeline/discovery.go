package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/platform/fetch"
)

// DefaultMaxMarkets caps raw records fetched per source per discovery run.
const DefaultMaxMarkets = 1500

// DiscoveryConfig tunes a discovery run.
type DiscoveryConfig struct {
	MaxMarkets int
	Breaker    fetch.BreakerConfig
}

// SourceDiscovery summarises one source's discovery run.
type SourceDiscovery struct {
	Source     domain.Source `json:"source"`
	Fetched    int           `json:"fetched"`
	Upserted   int           `json:"upserted"`
	Inserted   int           `json:"inserted"`
	Grouped    int           `json:"grouped"`
	Errors     int           `json:"errors"`
	Aborted    bool          `json:"aborted"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

// DiscoveryResult is the job result.
type DiscoveryResult struct {
	Sources []SourceDiscovery `json:"sources"`
}

// Discovery lists every configured source, normalizes the records, collapses
// event groups and upserts the surviving markets.
type Discovery struct {
	adapters []domain.MarketAdapter
	markets  domain.MarketStore
	cfg      DiscoveryConfig
	alerter  Alerter
	logger   *slog.Logger
}

func NewDiscovery(adapters []domain.MarketAdapter, markets domain.MarketStore, cfg DiscoveryConfig, alerter Alerter, logger *slog.Logger) *Discovery {
	if cfg.Breaker == (fetch.BreakerConfig{}) {
		cfg.Breaker = fetch.DefaultBreakerConfig()
	}
	return &Discovery{
		adapters: adapters,
		markets:  markets,
		cfg:      cfg,
		alerter:  alerter,
		logger:   logger.With(slog.String("job", JobDiscovery)),
	}
}

func (d *Discovery) Name() string { return JobDiscovery }

// Run processes sources one after another. Per-source failures are folded
// into that source's summary; only context cancellation fails the run.
func (d *Discovery) Run(ctx context.Context, opts RunOpts) (any, error) {
	limit := orDefault(opts.Limit, orDefault(d.cfg.MaxMarkets, DefaultMaxMarkets))
	res := DiscoveryResult{Sources: make([]SourceDiscovery, 0, len(d.adapters))}
	for _, a := range d.adapters {
		sr := d.runSource(ctx, a, limit)
		res.Sources = append(res.Sources, sr)
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("discovery: %w", err)
		}
	}
	return res, nil
}

func (d *Discovery) runSource(ctx context.Context, a domain.MarketAdapter, limit int) SourceDiscovery {
	start := time.Now()
	src := a.Source()
	res := SourceDiscovery{Source: src}
	log := d.logger.With(slog.String("source", string(src)))
	breaker := fetch.NewCircuitBreaker(d.cfg.Breaker)

	collected := d.collect(ctx, a, limit, breaker, &res, log)

	markets, grouped := groupByEvent(collected)
	res.Grouped = grouped

	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}
		up, err := d.markets.Upsert(ctx, m)
		if err != nil {
			res.Errors++
			log.WarnContext(ctx, "upsert failed",
				slog.String("source_market_id", m.SourceMarketID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Upserted++
		if up.Inserted {
			res.Inserted++
		}
	}

	res.DurationMS = time.Since(start).Milliseconds()
	log.InfoContext(ctx, "discovery source complete",
		slog.Int("fetched", res.Fetched),
		slog.Int("upserted", res.Upserted),
		slog.Int("inserted", res.Inserted),
		slog.Int("grouped", res.Grouped),
		slog.Int("errors", res.Errors),
		slog.Bool("aborted", res.Aborted),
		slog.Int64("duration_ms", res.DurationMS),
	)
	if res.Aborted && d.alerter != nil {
		st := breaker.Stats()
		d.alerter.Alert(ctx, EventBreakerTripped, "Discovery aborted: "+string(src),
			fmt.Sprintf("circuit breaker tripped after %d/%d failures (%.0f%%)", st.Failures, st.Total, st.FailureRate*100))
	}
	return res
}

// collect paginates the listing and normalizes records until the listing
// ends, the cap is hit, a page fails or the breaker trips.
func (d *Discovery) collect(ctx context.Context, a domain.MarketAdapter, limit int, breaker *fetch.CircuitBreaker, res *SourceDiscovery, log *slog.Logger) []domain.Market {
	var (
		out    []domain.Market
		cursor string
	)
	for res.Fetched < limit {
		page, err := a.ListMarkets(ctx, cursor)
		if err != nil {
			breaker.RecordFailure()
			res.Errors++
			res.Error = err.Error()
			if !errors.Is(err, context.Canceled) {
				log.WarnContext(ctx, "list markets failed",
					slog.String("cursor", cursor),
					slog.String("error", err.Error()),
				)
			}
			return out
		}
		breaker.RecordSuccess()

		for _, raw := range page.Markets {
			if res.Fetched >= limit {
				return out
			}
			res.Fetched++
			m, err := a.Normalize(raw)
			if err != nil {
				breaker.RecordFailure()
				res.Errors++
				log.DebugContext(ctx, "record skipped", slog.String("error", err.Error()))
			} else {
				breaker.RecordSuccess()
				out = append(out, m)
			}
			if breaker.ShouldAbort() {
				res.Aborted = true
				return out
			}
		}

		if !page.HasMore || page.Cursor == "" {
			return out
		}
		cursor = page.Cursor
	}
	return out
}

// groupByEvent keeps one market per non-empty EventKey: the sibling with
// the highest ListedVolume, first seen on ties. The representative takes
// the group's first position. Markets without an event key pass through.
func groupByEvent(ms []domain.Market) ([]domain.Market, int) {
	out := make([]domain.Market, 0, len(ms))
	pos := make(map[string]int)
	grouped := 0
	for _, m := range ms {
		if m.EventKey == "" {
			out = append(out, m)
			continue
		}
		i, seen := pos[m.EventKey]
		if !seen {
			pos[m.EventKey] = len(out)
			out = append(out, m)
			continue
		}
		grouped++
		if m.ListedVolume > out[i].ListedVolume {
			out[i] = m
		}
	}
	return out, grouped
}
