package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix  = "catalog:v1:"
	notFoundMark = "__none__"
)

// CachedRepository is a read-through Redis cache in front of another Repository.
// Misses are cached too so unconfigured products do not hit the database on every purchase.
type CachedRepository struct {
	next   Repository
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRepository wraps next with a Redis cache. A nil cache returns next unchanged.
func NewCachedRepository(next Repository, cache *redis.Client, ttl time.Duration, logger *slog.Logger) Repository {
	if cache == nil || ttl <= 0 {
		return next
	}
	return &CachedRepository{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (r *CachedRepository) Get(ctx context.Context, code string, serviceType ServiceType) (ServiceProviderConfig, error) {
	cacheKey := cachePrefix + key(code, serviceType)

	val, err := r.cache.Get(ctx, cacheKey).Result()
	switch {
	case err == nil:
		if val == notFoundMark {
			return ServiceProviderConfig{}, ErrNotFound
		}
		var cfg ServiceProviderConfig
		if jsonErr := json.Unmarshal([]byte(val), &cfg); jsonErr == nil {
			return cfg, nil
		}
		r.logger.Warn("discarding undecodable catalog cache entry", slog.String("key", cacheKey))
	case !errors.Is(err, redis.Nil):
		// fail open: the database stays the source of truth
		r.logger.Warn("catalog cache lookup failed", slog.String("key", cacheKey), slog.Any("error", err))
	}

	cfg, err := r.next.Get(ctx, code, serviceType)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = r.cache.Set(ctx, cacheKey, notFoundMark, r.ttl).Err()
		}
		return ServiceProviderConfig{}, err
	}

	if data, err := json.Marshal(cfg); err == nil {
		_ = r.cache.Set(ctx, cacheKey, data, r.ttl).Err()
	}
	return cfg, nil
}

// Invalidate drops the cached entry; the admin collaborator calls it after edits.
func (r *CachedRepository) Invalidate(ctx context.Context, code string, serviceType ServiceType) error {
	return r.cache.Del(ctx, cachePrefix+key(code, serviceType)).Err()
}
