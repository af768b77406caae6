package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/enrich"
	"github.com/alanyoungcy/prenews/internal/normalize"
	"github.com/alanyoungcy/prenews/internal/scoring"
)

// DefaultEnrichLimit is the number of markets enriched per run.
const DefaultEnrichLimit = 100

// FallbackModel labels artifacts produced without an enricher.
const FallbackModel = "fallback"

// EnrichResult is the job result.
type EnrichResult struct {
	Processed  int   `json:"processed"`
	LLMCalls   int   `json:"llm_calls"`
	Cached     int   `json:"cached"`
	Fallbacks  int   `json:"fallbacks"`
	Errors     int   `json:"errors"`
	DurationMS int64 `json:"duration_ms"`
}

// Enrichment writes articles for markets that have no headline yet. The
// enricher is optional; without one every market gets the fallback.
type Enrichment struct {
	markets   domain.MarketStore
	snapshots domain.SnapshotStore
	artifacts domain.ArtifactStore
	enricher  domain.Enricher
	limit     int
	logger    *slog.Logger
	now       func() time.Time
}

func NewEnrichment(markets domain.MarketStore, snapshots domain.SnapshotStore, artifacts domain.ArtifactStore, enricher domain.Enricher, limit int, logger *slog.Logger) *Enrichment {
	return &Enrichment{
		markets:   markets,
		snapshots: snapshots,
		artifacts: artifacts,
		enricher:  enricher,
		limit:     orDefault(limit, DefaultEnrichLimit),
		logger:    logger.With(slog.String("job", JobEnrich)),
		now:       time.Now,
	}
}

func (e *Enrichment) Name() string { return JobEnrich }

func (e *Enrichment) Run(ctx context.Context, opts RunOpts) (any, error) {
	start := time.Now()
	now := e.now()

	cands, err := e.markets.ListUnenriched(ctx, orDefault(opts.Limit, e.limit))
	if err != nil {
		return nil, fmt.Errorf("enrich: load candidates: %w", err)
	}
	var res EnrichResult
	if len(cands) == 0 {
		e.logger.InfoContext(ctx, "no markets to enrich")
		return res, nil
	}

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Market.ID
	}
	snaps, err := e.snapshots.ListForMarkets(ctx, ids, now.Add(-feedLookback).Unix())
	if err != nil {
		return nil, fmt.Errorf("enrich: load snapshots: %w", err)
	}
	points := make(map[string][]scoring.Point)
	for _, s := range snaps {
		points[s.MarketID] = append(points[s.MarketID], scoring.Point{TsBucket: s.TsBucket, P: s.P})
	}

	for _, c := range cands {
		if ctx.Err() != nil {
			break
		}
		if err := e.enrichOne(ctx, c, points[c.Market.ID], now, &res); err != nil {
			res.Errors++
			e.logger.WarnContext(ctx, "enrichment failed",
				slog.String("market_id", c.Market.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Processed++
	}

	res.DurationMS = time.Since(start).Milliseconds()
	e.logger.InfoContext(ctx, "enrichment complete",
		slog.Int("processed", res.Processed),
		slog.Int("llm_calls", res.LLMCalls),
		slog.Int("cached", res.Cached),
		slog.Int("fallbacks", res.Fallbacks),
		slog.Int("errors", res.Errors),
		slog.Int64("duration_ms", res.DurationMS),
	)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("enrich: %w", err)
	}
	return res, nil
}

// ArticleInputFor builds the enricher input for a candidate.
func ArticleInputFor(c domain.EnrichCandidate, points []scoring.Point, now time.Time) domain.ArticleInput {
	m := c.Market
	in := domain.ArticleInput{
		Title:    m.TitleRaw,
		Outcomes: m.Outcomes,
		Source:   m.Source,
		Rules:    m.RulesPrimary,
	}
	if m.ResolvesAt != nil {
		s := m.ResolvesAt.UTC().Format(time.RFC3339)
		in.ResolvesAt = &s
	}
	if st := c.State; st != nil {
		p := st.P
		in.Probability = &p
		in.Volume24h = st.Volume24h
		in.Liquidity = st.Liquidity
		in.TrustTier = string(st.TrustTier)
		in.Delta24h = scoring.ComputeDeltas(p, points, now).Delta24h
	}
	return in
}

func (e *Enrichment) enrichOne(ctx context.Context, c domain.EnrichCandidate, points []scoring.Point, now time.Time, res *EnrichResult) error {
	m := c.Market
	in := ArticleInputFor(c, points, now)
	rawInput, inputHash, err := enrich.CanonicalInput(in)
	if err != nil {
		return err
	}

	cached, err := e.artifacts.Find(ctx, m.ID, enrich.ArtifactType, inputHash, enrich.PromptHash)
	switch {
	case err == nil:
		var a domain.Article
		if err := json.Unmarshal(cached.Output, &a); err != nil {
			return fmt.Errorf("decode cached artifact: %w", err)
		}
		if err := e.markets.ApplyArticle(ctx, m.ID, a); err != nil {
			return err
		}
		res.Cached++
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	category := normalize.CategoryEvents
	if m.Category != nil && *m.Category != "" {
		category = *m.Category
	}
	p := 0.5
	if in.Probability != nil {
		p = *in.Probability
	}

	article, model, usedFallback := e.generate(ctx, in, m.ID, category, p, res)
	if usedFallback {
		res.Fallbacks++
	}

	output, err := json.Marshal(article)
	if err != nil {
		return fmt.Errorf("encode article: %w", err)
	}
	if err := e.artifacts.Upsert(ctx, domain.Artifact{
		MarketID:     m.ID,
		ArtifactType: enrich.ArtifactType,
		Model:        model,
		InputHash:    inputHash,
		PromptHash:   enrich.PromptHash,
		Input:        rawInput,
		Output:       output,
	}); err != nil {
		return err
	}
	return e.markets.ApplyArticle(ctx, m.ID, article)
}

// generate calls the enricher when present and returns the article, the
// model that produced it and whether the fallback was used.
func (e *Enrichment) generate(ctx context.Context, in domain.ArticleInput, marketID, category string, p float64, res *EnrichResult) (domain.Article, string, bool) {
	if e.enricher == nil {
		return enrich.Fallback(in.Title, p, category), FallbackModel, true
	}

	res.LLMCalls++
	a, err := e.enricher.Generate(ctx, in)
	if err != nil {
		e.logger.WarnContext(ctx, "article generation failed, using fallback",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return enrich.Fallback(in.Title, p, category), e.enricher.Model(), true
	}
	a = enrich.Sanitize(a, category)
	if !enrich.Validate(a) {
		e.logger.WarnContext(ctx, "article rejected, using fallback", slog.String("market_id", marketID))
		return enrich.Fallback(in.Title, p, category), e.enricher.Model(), true
	}
	return a, e.enricher.Model(), false
}
