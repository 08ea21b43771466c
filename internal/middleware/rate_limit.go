package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gig_marketplace/pkg/logger"
)

type RateLimitStore interface {
	CheckLimit(ctx context.Context, key string, limit int) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitMiddleware caps API requests per caller across instances. It protects the
// server; the per-chat composer limit lives in the chat session.
type RateLimitMiddleware struct {
	store  RateLimitStore
	limit  int
	window time.Duration
	log    logger.Logger
}

func NewRateLimitMiddleware(store RateLimitStore, limit int, window time.Duration, log logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		store:  store,
		limit:  limit,
		window: window,
		log:    log,
	}
}

func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:ip:" + c.ClientIP()
		if id, ok := UserID(c); ok {
			key = "ratelimit:user:" + id.String()
		}

		allowed, err := m.store.CheckLimit(c.Request.Context(), key, m.limit)
		if err != nil {
			// redis is down; serve rather than lock everyone out
			m.log.Warn("Rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		count, err := m.store.Increment(c.Request.Context(), key, m.window)
		if err != nil {
			m.log.Error("Rate limit increment failed", "error", err)
		}

		remaining := m.limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}
