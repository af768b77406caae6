package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/platform/fetch"
	"github.com/alanyoungcy/prenews/internal/scoring"
)

// DefaultPricingBatch is the number of ids sent per GetMarketStates call.
const DefaultPricingBatch = 50

// PricingConfig tunes a pricing run.
type PricingConfig struct {
	BatchSize int
	Breaker   fetch.BreakerConfig
	Trust     scoring.TrustConfig
}

// SourcePricing summarises one source's pricing run.
type SourcePricing struct {
	Source     domain.Source `json:"source"`
	Markets    int           `json:"markets"`
	Updated    int           `json:"updated"`
	Snapshots  int           `json:"snapshots"`
	Errors     int           `json:"errors"`
	Aborted    bool          `json:"aborted"`
	DurationMS int64         `json:"duration_ms"`
}

// PricingResult is the job result.
type PricingResult struct {
	TsBucket int64           `json:"ts_bucket"`
	Sources  []SourcePricing `json:"sources"`
}

// Pricing refreshes market_state for every active market and appends one
// snapshot per market to the run's bucket.
type Pricing struct {
	adapters  []domain.MarketAdapter
	markets   domain.MarketStore
	states    domain.StateStore
	snapshots domain.SnapshotStore
	cfg       PricingConfig
	alerter   Alerter
	logger    *slog.Logger
	now       func() time.Time
}

func NewPricing(adapters []domain.MarketAdapter, markets domain.MarketStore, states domain.StateStore, snapshots domain.SnapshotStore, cfg PricingConfig, alerter Alerter, logger *slog.Logger) *Pricing {
	if cfg.Breaker == (fetch.BreakerConfig{}) {
		cfg.Breaker = fetch.DefaultBreakerConfig()
	}
	if cfg.Trust == (scoring.TrustConfig{}) {
		cfg.Trust = scoring.DefaultTrustConfig()
	}
	return &Pricing{
		adapters:  adapters,
		markets:   markets,
		states:    states,
		snapshots: snapshots,
		cfg:       cfg,
		alerter:   alerter,
		logger:    logger.With(slog.String("job", JobPricing)),
		now:       time.Now,
	}
}

func (p *Pricing) Name() string { return JobPricing }

// Run prices up to opts.Limit markets per source (all when zero).
func (p *Pricing) Run(ctx context.Context, opts RunOpts) (any, error) {
	refs, err := p.markets.ListActiveRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("pricing: load active markets: %w", err)
	}

	bySource := make(map[domain.Source][]domain.MarketRef)
	for _, r := range refs {
		bySource[r.Source] = append(bySource[r.Source], r)
	}

	res := PricingResult{TsBucket: scoring.TsBucket(p.now())}
	for _, a := range p.adapters {
		batch := bySource[a.Source()]
		if opts.Limit > 0 && len(batch) > opts.Limit {
			batch = batch[:opts.Limit]
		}
		res.Sources = append(res.Sources, p.runSource(ctx, a, batch, res.TsBucket))
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("pricing: %w", err)
		}
	}
	return res, nil
}

func (p *Pricing) runSource(ctx context.Context, a domain.MarketAdapter, refs []domain.MarketRef, bucket int64) SourcePricing {
	start := time.Now()
	res := SourcePricing{Source: a.Source(), Markets: len(refs)}
	log := p.logger.With(slog.String("source", string(res.Source)))
	breaker := fetch.NewCircuitBreaker(p.cfg.Breaker)
	size := orDefault(p.cfg.BatchSize, DefaultPricingBatch)

	for lo := 0; lo < len(refs) && ctx.Err() == nil; lo += size {
		batch := refs[lo:min(lo+size, len(refs))]
		ids := make([]string, len(batch))
		for i, r := range batch {
			ids[i] = r.SourceMarketID
		}

		states, err := a.GetMarketStates(ctx, ids)
		if err != nil {
			res.Errors += len(batch)
			for range batch {
				breaker.RecordFailure()
			}
			log.WarnContext(ctx, "get market states failed",
				slog.Int("batch", len(batch)),
				slog.String("error", err.Error()),
			)
		} else {
			got := make(map[string]domain.StateRecord, len(states))
			for _, s := range states {
				got[s.SourceMarketID] = s
			}
			for _, ref := range batch {
				rec, ok := got[ref.SourceMarketID]
				if !ok {
					breaker.RecordFailure()
					res.Errors++
					continue
				}
				breaker.RecordSuccess()
				p.persist(ctx, ref, rec, bucket, &res, log)
			}
		}

		if breaker.ShouldAbort() {
			res.Aborted = true
			break
		}
	}

	res.DurationMS = time.Since(start).Milliseconds()
	log.InfoContext(ctx, "pricing source complete",
		slog.Int("markets", res.Markets),
		slog.Int("updated", res.Updated),
		slog.Int("snapshots", res.Snapshots),
		slog.Int("errors", res.Errors),
		slog.Bool("aborted", res.Aborted),
		slog.Int64("duration_ms", res.DurationMS),
	)
	if res.Aborted && p.alerter != nil {
		st := breaker.Stats()
		p.alerter.Alert(ctx, EventBreakerTripped, "Pricing aborted: "+string(res.Source),
			fmt.Sprintf("circuit breaker tripped after %d/%d failures (%.0f%%)", st.Failures, st.Total, st.FailureRate*100))
	}
	return res
}

func (p *Pricing) persist(ctx context.Context, ref domain.MarketRef, rec domain.StateRecord, bucket int64, res *SourcePricing, log *slog.Logger) {
	tier := scoring.ComputeTrustTier(scoring.TrustInput{
		Volume24h: rec.Volume24h,
		Liquidity: rec.Liquidity,
		Spread:    rec.Spread,
	}, p.cfg.Trust)

	state := domain.MarketState{
		MarketID:       ref.ID,
		P:              rec.P,
		PJSON:          rec.PJSON,
		TopOutcomeProb: rec.TopOutcomeProb,
		VolumeTotal:    rec.VolumeTotal,
		Volume24h:      rec.Volume24h,
		Liquidity:      rec.Liquidity,
		BestBid:        rec.BestBid,
		BestAsk:        rec.BestAsk,
		Spread:         rec.Spread,
		TrustTier:      tier,
	}
	if err := p.states.Upsert(ctx, state); err != nil {
		res.Errors++
		log.WarnContext(ctx, "state upsert failed",
			slog.String("market_id", ref.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	res.Updated++

	inserted, err := p.snapshots.Insert(ctx, domain.Snapshot{
		MarketID:  ref.ID,
		TsBucket:  bucket,
		P:         rec.P,
		PJSON:     rec.PJSON,
		Volume24h: rec.Volume24h,
		Liquidity: rec.Liquidity,
	})
	if err != nil {
		res.Errors++
		log.WarnContext(ctx, "snapshot insert failed",
			slog.String("market_id", ref.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if inserted {
		res.Snapshots++
	}
}
