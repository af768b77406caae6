package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PRENEWS_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PRENEWS_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Sources ──
	setBool(&cfg.Polymarket.Enabled, "PRENEWS_POLYMARKET_ENABLED")
	setStr(&cfg.Polymarket.GammaHost, "PRENEWS_POLYMARKET_GAMMA_HOST")
	setFloat64(&cfg.Polymarket.RPS, "PRENEWS_POLYMARKET_RPS")

	setBool(&cfg.Kalshi.Enabled, "PRENEWS_KALSHI_ENABLED")
	setStr(&cfg.Kalshi.BaseURL, "PRENEWS_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.ApiKey, "PRENEWS_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.ApiKeyID, "PRENEWS_KALSHI_API_KEY_ID")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "PRENEWS_KALSHI_RSA_PRIVATE_KEY_PATH")
	setFloat64(&cfg.Kalshi.RPS, "PRENEWS_KALSHI_RPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.DSN, "PRENEWS_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PRENEWS_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRENEWS_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRENEWS_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRENEWS_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRENEWS_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRENEWS_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRENEWS_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRENEWS_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRENEWS_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRENEWS_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRENEWS_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRENEWS_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRENEWS_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRENEWS_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRENEWS_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRENEWS_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "PRENEWS_REDIS_NAMESPACE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRENEWS_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRENEWS_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRENEWS_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRENEWS_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "PRENEWS_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "PRENEWS_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRENEWS_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRENEWS_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRENEWS_S3_FORCE_PATH_STYLE")

	// ── Fetch ──
	setInt(&cfg.Fetch.MaxRetries, "PRENEWS_FETCH_MAX_RETRIES")
	setDuration(&cfg.Fetch.BaseDelay, "PRENEWS_FETCH_BASE_DELAY")
	setDuration(&cfg.Fetch.Jitter, "PRENEWS_FETCH_JITTER")
	setDuration(&cfg.Fetch.Timeout, "PRENEWS_FETCH_TIMEOUT")
	setFloat64(&cfg.Fetch.BreakerThreshold, "PRENEWS_FETCH_BREAKER_THRESHOLD")
	setInt(&cfg.Fetch.BreakerMinSample, "PRENEWS_FETCH_BREAKER_MIN_SAMPLES")

	// ── Scoring ──
	setFloat64(&cfg.Scoring.VolumeWeight, "PRENEWS_SCORING_VOLUME_WEIGHT")
	setFloat64(&cfg.Scoring.LiquidityWeight, "PRENEWS_SCORING_LIQUIDITY_WEIGHT")
	setFloat64(&cfg.Scoring.SpreadWeight, "PRENEWS_SCORING_SPREAD_WEIGHT")
	setFloat64(&cfg.Scoring.HighThreshold, "PRENEWS_SCORING_HIGH_THRESHOLD")
	setFloat64(&cfg.Scoring.MediumThreshold, "PRENEWS_SCORING_MEDIUM_THRESHOLD")
	setInt(&cfg.Scoring.PricingBatchSize, "PRENEWS_SCORING_PRICING_BATCH_SIZE")

	// ── Jobs ──
	for _, name := range []string{"discovery", "pricing", "enrich", "feeds", "archive"} {
		key := "PRENEWS_JOBS_" + strings.ToUpper(name) + "_CRON"
		if v, ok := os.LookupEnv(key); ok {
			if cfg.Jobs.Schedules == nil {
				cfg.Jobs.Schedules = make(map[string]string)
			}
			cfg.Jobs.Schedules[name] = strings.TrimSpace(v)
		}
	}
	setStringSlice(&cfg.Jobs.RunOnStart, "PRENEWS_JOBS_RUN_ON_START")
	setInt(&cfg.Jobs.Attempts, "PRENEWS_JOBS_ATTEMPTS")
	setDuration(&cfg.Jobs.Backoff, "PRENEWS_JOBS_BACKOFF")
	setDuration(&cfg.Jobs.LockTTL, "PRENEWS_JOBS_LOCK_TTL")
	setInt(&cfg.Jobs.DiscoveryMax, "PRENEWS_JOBS_DISCOVERY_MAX")
	setInt(&cfg.Jobs.EnrichLimit, "PRENEWS_JOBS_ENRICH_LIMIT")
	setInt(&cfg.Jobs.FeedSize, "PRENEWS_JOBS_FEED_SIZE")

	// ── LLM ──
	setStr(&cfg.LLM.Endpoint, "PRENEWS_LLM_ENDPOINT")
	setStr(&cfg.LLM.APIKey, "PRENEWS_LLM_API_KEY")
	setStr(&cfg.LLM.Model, "PRENEWS_LLM_MODEL")
	setStr(&cfg.LLM.APIVersion, "PRENEWS_LLM_API_VERSION")
	setFloat64(&cfg.LLM.Temperature, "PRENEWS_LLM_TEMPERATURE")
	setInt(&cfg.LLM.MaxTokens, "PRENEWS_LLM_MAX_TOKENS")
	setDuration(&cfg.LLM.Timeout, "PRENEWS_LLM_TIMEOUT")

	// ── Server ──
	setStr(&cfg.Server.Addr, "PRENEWS_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "PRENEWS_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PRENEWS_SERVER_API_KEY")
	setDuration(&cfg.Server.CacheTTL, "PRENEWS_SERVER_CACHE_TTL")
	setInt(&cfg.Server.RateLimit, "PRENEWS_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PRENEWS_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PRENEWS_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRENEWS_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRENEWS_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRENEWS_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "PRENEWS_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRENEWS_MODE")
	setStr(&cfg.LogLevel, "PRENEWS_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
