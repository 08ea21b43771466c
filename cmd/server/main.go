package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gig_marketplace/internal/config"
	"gig_marketplace/internal/handler"
	"gig_marketplace/internal/metrics"
	"gig_marketplace/internal/middleware"
	"gig_marketplace/internal/repository"
	"gig_marketplace/internal/service"
	"gig_marketplace/pkg/jwt"
	"gig_marketplace/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const feedRetryDelay = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)
	defer appLogger.Sync()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		appLogger.Fatal("Invalid database DSN", "error", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConnections)

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		appLogger.Fatal("Failed to ping database", "error", err)
	}
	appLogger.Info("Database connection established")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", "error", err)
	}
	appLogger.Info("Redis connection established")

	blobs, err := repository.OpenBlobStore(cfg.Storage.Dir, nil, cfg.Server.PublicBaseURL, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open attachment store", "error", err, "dir", cfg.Storage.Dir)
	}
	defer blobs.Close()

	repos := repository.NewRepositories(dbPool, rdb, blobs, cfg.Redis.IdentityTTL, cfg.Messaging.RealtimeChannel, appLogger)

	feedCtx, stopFeed := context.WithCancel(context.Background())
	defer stopFeed()
	go runFeed(feedCtx, repos.Feed, appLogger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	previews := service.NewMemoryPreviews()
	sessions := service.NewSessionManager(service.SessionDeps{
		Messages:   repos.Message,
		Files:      repos.Blobs,
		Identities: repos.Identity,
		Jobs:       repos.Job,
		Feed:       repos.Feed,
		Previews:   previews,
	}, service.ChatOptionsFromConfig(cfg.Messaging, cfg.Storage.AttachmentBucket), cfg.Messaging.UnreadPollInterval, cfg.Messaging.SessionIdleTimeout, appLogger)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx)

	tokens := jwt.NewManager(cfg.JWT.AccessSecret, cfg.JWT.Issuer)
	authMiddleware := middleware.NewAuthMiddleware(tokens, appLogger)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(repos.RateLimit, cfg.Server.RequestLimit, cfg.Server.RequestWindow, appLogger)

	handlers := handler.NewHandlers(sessions, repos, previews, cfg, appLogger)
	router := handler.NewRouter(handlers, authMiddleware, handler.RouterOptions{
		Production: cfg.Environment == "production",
		Limiter:    rateLimitMiddleware,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopSweep()
	sessions.Shutdown()
	stopFeed()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

// runFeed keeps the LISTEN connection up. While it is down, new sessions open degraded
// and recover through their refresh endpoints.
func runFeed(ctx context.Context, feed *repository.PostgresFeed, log logger.Logger) {
	for {
		err := feed.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn("Realtime feed stopped, retrying", "error", err, "delay", feedRetryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(feedRetryDelay):
		}
	}
}
