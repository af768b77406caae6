package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/prenews/internal/domain"
)

const scanBatch = 200

// ReadCache stores serialized API responses under "<ns>:cache:<key>".
type ReadCache struct {
	c *Client
}

func NewReadCache(c *Client) *ReadCache {
	return &ReadCache{c: c}
}

func (rc *ReadCache) key(k string) string { return rc.c.Key("cache", k) }

// Get returns domain.ErrNotFound on a miss.
func (rc *ReadCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := rc.c.rdb.Get(ctx, rc.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: cache get %s: %w", key, err)
	}
	return b, nil
}

func (rc *ReadCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.c.rdb.Set(ctx, rc.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: cache set %s: %w", key, err)
	}
	return nil
}

// InvalidatePrefix deletes every cached key starting with prefix using
// SCAN, so it never blocks the server the way KEYS would.
func (rc *ReadCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	iter := rc.c.rdb.Scan(ctx, 0, rc.key(prefix)+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := rc.c.rdb.Unlink(ctx, batch...).Err(); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return fmt.Errorf("redis: invalidate %s: %w", prefix, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", prefix, err)
	}
	return nil
}

var _ domain.ReadCache = (*ReadCache)(nil)
