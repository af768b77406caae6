// Package config defines the top-level configuration for prenews and
// provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/prenews/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRENEWS_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Fetch      FetchConfig      `toml:"fetch"`
	Scoring    ScoringConfig    `toml:"scoring"`
	Jobs       JobsConfig       `toml:"jobs"`
	LLM        LLMConfig        `toml:"llm"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds the Gamma API endpoint.
type PolymarketConfig struct {
	Enabled   bool    `toml:"enabled"`
	GammaHost string  `toml:"gamma_host"`
	RPS       float64 `toml:"rps"`
}

// KalshiConfig holds Kalshi API endpoint and optional credentials. Market
// data is public; credentials only raise rate limits.
type KalshiConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`
	ApiKey            string  `toml:"api_key"`
	ApiKeyID          string  `toml:"api_key_id"`
	RsaPrivateKeyPath string  `toml:"rsa_private_key_path"`
	RPS               float64 `toml:"rps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN             string   `toml:"dsn"`
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Database        string   `toml:"database"`
	User            string   `toml:"user"`
	Password        string   `toml:"password"`
	SSLMode         string   `toml:"ssl_mode"`
	PoolMaxConns    int      `toml:"pool_max_conns"`
	PoolMinConns    int      `toml:"pool_min_conns"`
	MaxConnLifetime duration `toml:"max_conn_lifetime"`
	RunMigrations   bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional: without
// it the scheduler falls back to in-process locking and the read API is
// served uncached.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters for the snapshot
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FetchConfig controls retries and the circuit breaker for source calls.
type FetchConfig struct {
	MaxRetries       int      `toml:"max_retries"`
	BaseDelay        duration `toml:"base_delay"`
	Jitter           duration `toml:"jitter"`
	Timeout          duration `toml:"timeout"`
	BreakerThreshold float64  `toml:"breaker_threshold"`
	BreakerMinSample int      `toml:"breaker_min_samples"`
}

// ScoringConfig holds the trust-tier weights and pricing batch size.
type ScoringConfig struct {
	VolumeWeight     float64 `toml:"volume_weight"`
	LiquidityWeight  float64 `toml:"liquidity_weight"`
	SpreadWeight     float64 `toml:"spread_weight"`
	HighThreshold    float64 `toml:"high_threshold"`
	MediumThreshold  float64 `toml:"medium_threshold"`
	PricingBatchSize int     `toml:"pricing_batch_size"`
}

// JobsConfig holds cron schedules, retry policy and default limits. An empty
// cron disables the schedule; the job can still be triggered manually.
type JobsConfig struct {
	Schedules  map[string]string `toml:"schedules"`
	RunOnStart []string          `toml:"run_on_start"`
	Attempts   int               `toml:"attempts"`
	Backoff    duration          `toml:"backoff"`
	LockTTL    duration          `toml:"lock_ttl"`

	DiscoveryMax int `toml:"discovery_max"`
	EnrichLimit  int `toml:"enrich_limit"`
	FeedSize     int `toml:"feed_size"`
}

// LLMConfig configures the chat-completions enricher. Without an endpoint the
// enrichment job writes the deterministic fallback article.
type LLMConfig struct {
	Endpoint    string   `toml:"endpoint"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	APIVersion  string   `toml:"api_version"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     duration `toml:"timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	CacheTTL    duration `toml:"cache_ttl"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			Enabled:   true,
			GammaHost: "https://gamma-api.polymarket.com",
			RPS:       5,
		},
		Kalshi: KalshiConfig{
			Enabled: true,
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			RPS:     5,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "prenews",
			User:            "postgres",
			SSLMode:         "disable",
			PoolMaxConns:    10,
			PoolMinConns:    2,
			MaxConnLifetime: duration{30 * time.Minute},
			RunMigrations:   true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "prenews",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "prenews-archive",
			ForcePathStyle: true,
		},
		Fetch: FetchConfig{
			MaxRetries:       3,
			BaseDelay:        duration{time.Second},
			Jitter:           duration{time.Second},
			Timeout:          duration{30 * time.Second},
			BreakerThreshold: 0.2,
			BreakerMinSample: 10,
		},
		Scoring: ScoringConfig{
			VolumeWeight:     1.0,
			LiquidityWeight:  0.8,
			SpreadWeight:     2.0,
			HighThreshold:    15,
			MediumThreshold:  6,
			PricingBatchSize: pipeline.DefaultPricingBatch,
		},
		Jobs: JobsConfig{
			Schedules: map[string]string{
				pipeline.JobDiscovery: "*/30 * * * *",
				pipeline.JobPricing:   "*/5 * * * *",
				pipeline.JobEnrich:    "*/15 * * * *",
				pipeline.JobFeeds:     "*/5 * * * *",
				pipeline.JobArchive:   "0 3 1 * *",
			},
			RunOnStart:   []string{pipeline.JobDiscovery},
			Attempts:     3,
			Backoff:      duration{5 * time.Second},
			LockTTL:      duration{10 * time.Minute},
			DiscoveryMax: pipeline.DefaultMaxMarkets,
			EnrichLimit:  pipeline.DefaultEnrichLimit,
			FeedSize:     pipeline.DefaultFeedSize,
		},
		LLM: LLMConfig{
			Temperature: 0.4,
			MaxTokens:   1500,
			Timeout:     duration{60 * time.Second},
		},
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			CacheTTL:    duration{60 * time.Second},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{pipeline.EventJobFailed, pipeline.EventBreakerTripped},
			Cooldown: duration{15 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"worker": true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: worker, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Sources
	if !c.Polymarket.Enabled && !c.Kalshi.Enabled {
		errs = append(errs, "at least one of polymarket or kalshi must be enabled")
	}
	if c.Polymarket.Enabled {
		errs = appendURL(errs, "polymarket: gamma_host", c.Polymarket.GammaHost)
	}
	if c.Kalshi.Enabled {
		errs = appendURL(errs, "kalshi: base_url", c.Kalshi.BaseURL)
		if (c.Kalshi.ApiKeyID == "") != (c.Kalshi.RsaPrivateKeyPath == "") {
			errs = append(errs, "kalshi: api_key_id and rsa_private_key_path must be set together")
		}
	}
	if c.Polymarket.RPS < 0 || c.Kalshi.RPS < 0 {
		errs = append(errs, "rps must not be negative")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns && c.Postgres.PoolMaxConns > 0 {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when enabled")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Fetch
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, "fetch: max_retries must not be negative")
	}
	if c.Fetch.BreakerThreshold <= 0 || c.Fetch.BreakerThreshold > 1 {
		errs = append(errs, fmt.Sprintf("fetch: breaker_threshold must be in (0, 1], got %g", c.Fetch.BreakerThreshold))
	}
	if c.Fetch.BreakerMinSample <= 0 {
		errs = append(errs, "fetch: breaker_min_samples must be positive")
	}

	// Scoring
	if c.Scoring.MediumThreshold > c.Scoring.HighThreshold {
		errs = append(errs, "scoring: medium_threshold must not exceed high_threshold")
	}
	if c.Scoring.PricingBatchSize <= 0 {
		errs = append(errs, "scoring: pricing_batch_size must be positive")
	}

	// Jobs
	for name, expr := range c.Jobs.Schedules {
		if !knownJob(name) {
			errs = append(errs, fmt.Sprintf("jobs: unknown job %q in schedules", name))
			continue
		}
		if expr == "" {
			continue
		}
		if _, err := pipeline.ParseSchedule(expr); err != nil {
			errs = append(errs, fmt.Sprintf("jobs: schedule for %s: %v", name, err))
		}
	}
	for _, name := range c.Jobs.RunOnStart {
		if !knownJob(name) {
			errs = append(errs, fmt.Sprintf("jobs: unknown job %q in run_on_start", name))
		}
	}
	if c.Jobs.Attempts <= 0 {
		errs = append(errs, "jobs: attempts must be positive")
	}
	if c.Jobs.DiscoveryMax < 0 || c.Jobs.EnrichLimit < 0 || c.Jobs.FeedSize < 0 {
		errs = append(errs, "jobs: limits must not be negative")
	}

	// LLM
	if c.LLM.Endpoint != "" {
		errs = appendURL(errs, "llm: endpoint", c.LLM.Endpoint)
		if c.LLM.Model == "" {
			errs = append(errs, "llm: model is required when endpoint is set")
		}
	}

	// Server
	if c.Mode != "worker" && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func knownJob(name string) bool {
	switch name {
	case pipeline.JobDiscovery, pipeline.JobPricing, pipeline.JobEnrich, pipeline.JobFeeds, pipeline.JobArchive:
		return true
	}
	return false
}

func appendURL(errs []string, field, raw string) []string {
	u, err := url.Parse(raw)
	if raw == "" || err != nil || u.Scheme == "" || u.Host == "" {
		return append(errs, fmt.Sprintf("%s must be an absolute URL, got %q", field, raw))
	}
	return errs
}
