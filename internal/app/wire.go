package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	s3blob "github.com/alanyoungcy/prenews/internal/blob/s3"
	"github.com/alanyoungcy/prenews/internal/cache/redis"
	"github.com/alanyoungcy/prenews/internal/config"
	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/enrich"
	"github.com/alanyoungcy/prenews/internal/notify"
	"github.com/alanyoungcy/prenews/internal/pipeline"
	"github.com/alanyoungcy/prenews/internal/platform/fetch"
	"github.com/alanyoungcy/prenews/internal/platform/kalshi"
	"github.com/alanyoungcy/prenews/internal/platform/polymarket"
	"github.com/alanyoungcy/prenews/internal/scoring"
	"github.com/alanyoungcy/prenews/internal/service"
	"github.com/alanyoungcy/prenews/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Redis-backed fields are nil when Redis is disabled; Archiver is nil without
// S3; Enricher is nil without an LLM endpoint.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client

	// Stores
	Markets   *postgres.MarketStore
	States    *postgres.StateStore
	Snapshots *postgres.SnapshotStore
	Feeds     *postgres.FeedStore
	Artifacts *postgres.ArtifactStore
	Audit     *postgres.AuditStore
	Queries   *postgres.QueryStore

	// Redis
	Cache       domain.ReadCache
	Locks       domain.LockManager
	Bus         *redis.SignalBus
	RateLimiter *redis.RateLimiter

	Archiver domain.Archiver
	Adapters []domain.MarketAdapter
	Enricher domain.Enricher
	Notifier *notify.Notifier

	Runner    *pipeline.Runner
	Scheduler *pipeline.Scheduler

	FeedService   *service.FeedService
	MarketService *service.MarketService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:             cfg.Postgres.DSN,
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		Database:        cfg.Postgres.Database,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxConns:        cfg.Postgres.PoolMaxConns,
		MinConns:        cfg.Postgres.PoolMinConns,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}

	pool := pgClient.Pool()
	deps.Markets = postgres.NewMarketStore(pool)
	deps.States = postgres.NewStateStore(pool)
	deps.Snapshots = postgres.NewSnapshotStore(pool)
	deps.Feeds = postgres.NewFeedStore(pool)
	deps.Artifacts = postgres.NewArtifactStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Queries = postgres.NewQueryStore(pool)

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Redis = redisClient
		deps.Cache = redis.NewReadCache(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	} else {
		logger.WarnContext(ctx, "redis disabled: in-process job locks, uncached reads, no event stream")
	}

	// --- S3 snapshot archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewSnapshotArchiver(s3blob.NewStore(s3Client), deps.Snapshots, deps.Audit, logger)
	}

	// --- Source adapters ---
	adapters, err := wireAdapters(cfg, logger)
	if err != nil {
		return fail(err)
	}
	deps.Adapters = adapters

	// --- Enricher (optional) ---
	if cfg.LLM.Endpoint != "" {
		chat, err := enrich.NewChatClient(enrich.ChatConfig{
			Endpoint:    cfg.LLM.Endpoint,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			APIVersion:  cfg.LLM.APIVersion,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, fetch.NewClient(
			fetch.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout.Duration}),
			fetch.WithPolicy(fetchPolicy(cfg.Fetch)),
			fetch.WithLogger(logger.With(slog.String("component", "llm"))),
		))
		if err != nil {
			return fail(fmt.Errorf("wire: llm: %w", err))
		}
		deps.Enricher = chat
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, "prenews", nil))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	// --- Jobs ---
	deps.Runner = wireJobs(cfg, deps, logger)
	schedDeps := pipeline.SchedulerDeps{Audit: deps.Audit, Alerter: deps.Notifier}
	if deps.Redis != nil {
		schedDeps.Locks = deps.Locks
		schedDeps.Bus = deps.Bus
	}
	deps.Scheduler = pipeline.NewScheduler(deps.Runner, pipeline.SchedulerConfig{
		Attempts:   cfg.Jobs.Attempts,
		Backoff:    cfg.Jobs.Backoff.Duration,
		LockTTL:    cfg.Jobs.LockTTL.Duration,
		RunOnStart: cfg.Jobs.RunOnStart,
	}, schedDeps, logger)
	for _, name := range deps.Runner.Names() {
		expr := cfg.Jobs.Schedules[name]
		if expr == "" {
			continue
		}
		if err := deps.Scheduler.Schedule(name, expr); err != nil {
			return fail(fmt.Errorf("wire: schedule %s: %w", name, err))
		}
	}

	// --- Read services ---
	readCfg := service.ReadConfig{CacheTTL: cfg.Server.CacheTTL.Duration}
	deps.FeedService = service.NewFeedService(deps.Queries, deps.Cache, readCfg, logger)
	deps.MarketService = service.NewMarketService(deps.Queries, deps.Snapshots, deps.Cache, readCfg, logger)

	return deps, cleanup, nil
}

// wireAdapters builds one adapter per enabled source, each with its own paced
// fetch client.
func wireAdapters(cfg *config.Config, logger *slog.Logger) ([]domain.MarketAdapter, error) {
	var adapters []domain.MarketAdapter

	if cfg.Polymarket.Enabled {
		client := sourceClient(cfg.Fetch, cfg.Polymarket.RPS, logger.With(slog.String("source", "polymarket")))
		gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, client)
		adapters = append(adapters, polymarket.NewAdapter(gamma, logger))
	}

	if cfg.Kalshi.Enabled {
		client := sourceClient(cfg.Fetch, cfg.Kalshi.RPS, logger.With(slog.String("source", "kalshi")))
		kc := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKey, client)
		if cfg.Kalshi.RsaPrivateKeyPath != "" {
			pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("wire: kalshi private key: %w", err)
			}
			if err := kc.SetRSAPrivateKey(cfg.Kalshi.ApiKeyID, pemBytes); err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
		}
		adapters = append(adapters, kalshi.NewAdapter(kc, logger))
	}

	return adapters, nil
}

func fetchPolicy(fc config.FetchConfig) fetch.Policy {
	return fetch.Policy{
		MaxRetries: fc.MaxRetries,
		BaseDelay:  fc.BaseDelay.Duration,
		Jitter:     fc.Jitter.Duration,
	}
}

func sourceClient(fc config.FetchConfig, rps float64, logger *slog.Logger) *fetch.Client {
	opts := []fetch.Option{
		fetch.WithPolicy(fetchPolicy(fc)),
		fetch.WithHTTPClient(&http.Client{Timeout: fc.Timeout.Duration}),
		fetch.WithLogger(logger),
	}
	if rps > 0 {
		opts = append(opts, fetch.WithLimiter(rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))))
	}
	return fetch.NewClient(opts...)
}

// wireJobs registers every pipeline job with its configured limits.
func wireJobs(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *pipeline.Runner {
	breaker := fetch.BreakerConfig{
		Threshold:  cfg.Fetch.BreakerThreshold,
		MinSamples: cfg.Fetch.BreakerMinSample,
	}

	var feedDeps pipeline.FeedBuilderDeps
	feedDeps.Audit = deps.Audit
	if deps.Redis != nil {
		feedDeps.Cache = deps.Cache
		feedDeps.Bus = deps.Bus
	}

	return pipeline.NewRunner(
		pipeline.NewDiscovery(deps.Adapters, deps.Markets, pipeline.DiscoveryConfig{
			MaxMarkets: cfg.Jobs.DiscoveryMax,
			Breaker:    breaker,
		}, deps.Notifier, logger),
		pipeline.NewPricing(deps.Adapters, deps.Markets, deps.States, deps.Snapshots, pipeline.PricingConfig{
			BatchSize: cfg.Scoring.PricingBatchSize,
			Breaker:   breaker,
			Trust: scoring.TrustConfig{
				VolumeWeight:    cfg.Scoring.VolumeWeight,
				LiquidityWeight: cfg.Scoring.LiquidityWeight,
				SpreadWeight:    cfg.Scoring.SpreadWeight,
				HighThreshold:   cfg.Scoring.HighThreshold,
				MediumThreshold: cfg.Scoring.MediumThreshold,
			},
		}, deps.Notifier, logger),
		pipeline.NewEnrichment(deps.Markets, deps.Snapshots, deps.Artifacts, deps.Enricher, cfg.Jobs.EnrichLimit, logger),
		pipeline.NewFeedBuilder(deps.States, deps.Snapshots, deps.Feeds, feedDeps, cfg.Jobs.FeedSize, logger),
		pipeline.NewSnapshotArchive(deps.Archiver),
	)
}
