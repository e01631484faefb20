package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/silluthedon/delta/internal/models"
)

const listCacheKey = "delta:catalog:videos"

type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedSource wraps another Source with a Redis read-through cache of the
// full listing. Redis failures are logged and fall through to the base source.
type CachedSource struct {
	base   Source
	client cacheClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedSource returns a Source that caches listings for ttl.
func NewCachedSource(base Source, client cacheClient, ttl time.Duration, logger *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{base: base, client: client, ttl: ttl, logger: logger}
}

// ListVideos returns the cached listing when present, otherwise it delegates
// to the base source and stores the result.
func (c *CachedSource) ListVideos(ctx context.Context) ([]models.Video, error) {
	if c == nil || c.base == nil {
		return nil, ErrCatalogUnavailable
	}

	if c.client != nil {
		raw, err := c.client.Get(ctx, listCacheKey).Bytes()
		switch {
		case err == nil:
			var videos []models.Video
			jsonErr := json.Unmarshal(raw, &videos)
			if jsonErr == nil {
				return videos, nil
			}
			c.logger.Warn("discarding undecodable catalog cache entry", "error", jsonErr)
		case errors.Is(err, redis.Nil):
		default:
			c.logger.Warn("catalog cache read failed", "error", err)
		}
	}

	videos, err := c.base.ListVideos(ctx)
	if err != nil {
		return nil, err
	}

	if c.client != nil {
		payload, err := json.Marshal(videos)
		if err == nil {
			err = c.client.Set(ctx, listCacheKey, payload, c.ttl).Err()
		}
		if err != nil {
			c.logger.Warn("catalog cache write failed", "error", err)
		}
	}

	return videos, nil
}

// Invalidate drops the cached listing so the next read hits the base source.
func (c *CachedSource) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, listCacheKey).Err()
}
