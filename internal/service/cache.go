package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/prenews/internal/domain"
)

// ErrInvalidArgument marks a request the caller must fix.
var ErrInvalidArgument = errors.New("invalid argument")

// ReadConfig tunes the read services.
type ReadConfig struct {
	CacheTTL     time.Duration // default 60s
	DefaultLimit int           // default 50
	MaxLimit     int           // default 200
}

func (c ReadConfig) withDefaults() ReadConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 50
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 200
	}
	return c
}

// limit clamps a requested page size. Zero selects the default.
func (c ReadConfig) limit(n int) (int, error) {
	switch {
	case n < 0:
		return 0, fmt.Errorf("%w: limit must be positive", ErrInvalidArgument)
	case n == 0:
		return c.DefaultLimit, nil
	case n > c.MaxLimit:
		return c.MaxLimit, nil
	}
	return n, nil
}

// cacheAside returns the cached value under key or loads, caches and
// returns it. Cache failures degrade to a direct load.
func cacheAside[T any](ctx context.Context, cache domain.ReadCache, ttl time.Duration, logger *slog.Logger, key string, load func(context.Context) (T, error)) (T, error) {
	if cache != nil {
		raw, err := cache.Get(ctx, key)
		switch {
		case err == nil:
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
			logger.WarnContext(ctx, "discarding undecodable cache entry", slog.String("key", key))
		case !errors.Is(err, domain.ErrNotFound):
			logger.WarnContext(ctx, "read cache get failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	v, err := load(ctx)
	if err != nil || cache == nil {
		return v, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		logger.WarnContext(ctx, "encode cache entry", slog.String("key", key), slog.String("error", err.Error()))
		return v, nil
	}
	if err := cache.Set(ctx, key, raw, ttl); err != nil {
		logger.WarnContext(ctx, "read cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return v, nil
}
