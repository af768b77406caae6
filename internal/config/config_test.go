package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "*/5 * * * *", cfg.Jobs.Schedules["pricing"])
	assert.Equal(t, 60*time.Second, cfg.Server.CacheTTL.Duration)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Polymarket.GammaHost = "not a url"
	cfg.Kalshi.ApiKeyID = "key-id"
	cfg.Fetch.BreakerThreshold = 1.5
	cfg.Jobs.Schedules["pricing"] = "*/5 * *"
	cfg.Jobs.Schedules["scrape"] = "* * * * *"
	cfg.Jobs.RunOnStart = []string{"backfill"}
	cfg.LLM.Endpoint = "https://llm.example/v1/chat/completions"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		"polymarket: gamma_host must be an absolute URL",
		"kalshi: api_key_id and rsa_private_key_path must be set together",
		"fetch: breaker_threshold",
		"jobs: schedule for pricing",
		`jobs: unknown job "scrape" in schedules`,
		`jobs: unknown job "backfill" in run_on_start`,
		"llm: model is required",
		"notify: telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_SourcesAndStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Polymarket.Enabled = false
	cfg.Kalshi.Enabled = false
	assert.ErrorContains(t, cfg.Validate(), "at least one of polymarket or kalshi")

	cfg = Defaults()
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""
	assert.ErrorContains(t, cfg.Validate(), "s3: bucket")

	cfg = Defaults()
	cfg.Postgres.Host = ""
	assert.ErrorContains(t, cfg.Validate(), "postgres: host")
	cfg.Postgres.DSN = "postgres://u:p@db/prenews"
	assert.NoError(t, cfg.Validate())

	cfg = Defaults()
	cfg.Jobs.Schedules["archive"] = ""
	assert.NoError(t, cfg.Validate(), "an empty cron disables the schedule")
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prenews.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "worker"

[kalshi]
enabled = false

[jobs]
attempts = 5
backoff = "10s"

[jobs.schedules]
pricing = "*/10 * * * *"

[notify]
events = ["job_failed"]
`), 0o600))

	// Load reads .env from the working directory.
	t.Chdir(dir)
	t.Setenv("PRENEWS_LOG_LEVEL", "debug")
	t.Setenv("PRENEWS_POSTGRES_DSN", "postgres://u:p@db/prenews")
	t.Setenv("PRENEWS_JOBS_FEEDS_CRON", "*/2 * * * *")
	t.Setenv("PRENEWS_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("PRENEWS_FETCH_TIMEOUT", "5s")
	t.Setenv("PRENEWS_REDIS_DB", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Kalshi.Enabled)
	assert.True(t, cfg.Polymarket.Enabled)
	assert.Equal(t, 5, cfg.Jobs.Attempts)
	assert.Equal(t, 10*time.Second, cfg.Jobs.Backoff.Duration)
	assert.Equal(t, "*/10 * * * *", cfg.Jobs.Schedules["pricing"])
	assert.Equal(t, "*/30 * * * *", cfg.Jobs.Schedules["discovery"], "file tables merge into defaults")
	assert.Equal(t, "*/2 * * * *", cfg.Jobs.Schedules["feeds"])
	assert.Equal(t, []string{"job_failed"}, cfg.Notify.Events)
	assert.Equal(t, "postgres://u:p@db/prenews", cfg.Postgres.DSN)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout.Duration)
	assert.Equal(t, 0, cfg.Redis.DB, "malformed values are ignored")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PRENEWS_SERVER_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PRENEWS_SERVER_API_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Server.APIKey)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = "), 0o600))
	_, err := Load(path)
	assert.ErrorContains(t, err, "config: decode")

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Postgres.DSN = "postgres://u:pw@db/prenews"
	cfg.LLM.APIKey = "sk-123"
	cfg.Server.APIKey = "admin"
	cfg.Notify.TelegramToken = "tok"
	cfg.S3.SecretKey = "secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.LLM.APIKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	assert.Equal(t, "pw", cfg.Postgres.Password)
	out.Jobs.Schedules["pricing"] = "changed"
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, "*/5 * * * *", cfg.Jobs.Schedules["pricing"])
	assert.Equal(t, "http://localhost:3000", cfg.Server.CORSOrigins[0])
}
