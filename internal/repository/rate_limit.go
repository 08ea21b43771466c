package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"gig_marketplace/pkg/logger"
)

// RateLimitRepository is a fixed-window request counter shared by every API instance.
type RateLimitRepository interface {
	CheckLimit(ctx context.Context, key string, limit int) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

func (r *rateLimitRepository) CheckLimit(ctx context.Context, key string, limit int) (bool, error) {
	count, err := r.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		r.log.Error("Failed to check rate limit", "error", err, "key", key)
		return false, err
	}
	return count < limit, nil
}

// Increment bumps the counter and starts its window on the first hit.
func (r *rateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Error("Failed to increment rate limit", "error", err, "key", key)
		return 0, err
	}
	return incr.Val(), nil
}
