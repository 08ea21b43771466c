package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gig_marketplace/internal/domain"
	"gig_marketplace/pkg/logger"
)

const identityKeyPrefix = "identity:"

// cachedIdentityRepository serves profile lookups from redis and falls through to next
// for misses. Redis failures degrade to uncached lookups.
type cachedIdentityRepository struct {
	next  IdentityRepository
	redis *redis.Client
	ttl   time.Duration
	log   logger.Logger
}

func NewCachedIdentityRepository(next IdentityRepository, redis *redis.Client, ttl time.Duration, log logger.Logger) IdentityRepository {
	return &cachedIdentityRepository{next: next, redis: redis, ttl: ttl, log: log}
}

func identityKey(id uuid.UUID) string {
	return identityKeyPrefix + id.String()
}

func (r *cachedIdentityRepository) LookupIdentities(ctx context.Context, ids []uuid.UUID) ([]domain.Identity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = identityKey(id)
	}

	out := make([]domain.Identity, 0, len(ids))
	missing := ids

	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		r.log.Warn("Identity cache unavailable", "error", err)
	} else {
		missing = nil
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var ident domain.Identity
			if err := json.Unmarshal([]byte(raw), &ident); err != nil {
				missing = append(missing, ids[i])
				continue
			}
			out = append(out, ident)
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	found, err := r.next.LookupIdentities(ctx, missing)
	if err != nil {
		return out, err
	}
	out = append(out, found...)
	r.store(ctx, found)
	return out, nil
}

func (r *cachedIdentityRepository) store(ctx context.Context, idents []domain.Identity) {
	if len(idents) == 0 {
		return
	}
	pipe := r.redis.Pipeline()
	for _, ident := range idents {
		data, err := json.Marshal(ident)
		if err != nil {
			continue
		}
		pipe.Set(ctx, identityKey(ident.ID), data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("Failed to cache identities", "error", err, "count", len(idents))
	}
}
