package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"gig_marketplace/pkg/logger"
)

type Repositories struct {
	Message   MessageRepository
	Identity  IdentityRepository
	Job       JobRepository
	RateLimit RateLimitRepository
	Feed      *PostgresFeed
	Blobs     *BlobStore
}

func NewRepositories(db *pgxpool.Pool, redis *redis.Client, blobs *BlobStore, identityTTL time.Duration, realtimeChannel string, log logger.Logger) *Repositories {
	identities := NewIdentityRepository(db, log)
	if redis != nil {
		identities = NewCachedIdentityRepository(identities, redis, identityTTL, log)
		log.Info("Identity cache enabled", "ttl", identityTTL)
	}

	return &Repositories{
		Message:   NewMessageRepository(db, log),
		Identity:  identities,
		Job:       NewJobRepository(db, log),
		RateLimit: NewRateLimitRepository(redis, log),
		Feed:      NewPostgresFeed(db, realtimeChannel, log),
		Blobs:     blobs,
	}
}
