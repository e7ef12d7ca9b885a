package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jlmorenorodriguez/imagetask-api/internal/api"
	"github.com/jlmorenorodriguez/imagetask-api/internal/config"
	"github.com/jlmorenorodriguez/imagetask-api/internal/queue"
	"github.com/jlmorenorodriguez/imagetask-api/internal/ratelimit"
	"github.com/jlmorenorodriguez/imagetask-api/internal/store"
	"github.com/jlmorenorodriguez/imagetask-api/internal/tasks"
	"github.com/jlmorenorodriguez/imagetask-api/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagetask-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	taskStore, closeStore := buildTaskStore(ctx, cfg, logger)
	defer closeStore()

	var rateLimiter api.RateLimiter
	if cfg.RateLimit.Capacity > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("redis client close error: %v", err)
			}
		}()

		limiter, err := ratelimit.NewRedisTokenBucket(
			redisClient,
			cfg.RateLimit.Capacity,
			time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
			"imagetask:ratelimit",
		)
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
		rateLimiter = limiter
		logger.Printf("rate limiting enabled capacity=%d window_seconds=%d", cfg.RateLimit.Capacity, cfg.RateLimit.WindowSeconds)
	}

	taskService := tasks.NewService(logger, taskStore, queueClient)
	app := api.NewServer(logger, taskService, rateLimiter)

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func buildTaskStore(ctx context.Context, cfg config.Config, logger *log.Logger) (store.TaskStore, func()) {
	if cfg.Database.DSN == "" {
		logger.Printf("no POSTGRES_DSN configured, using in-memory task store")
		return store.NewMemoryTaskStore(), func() {}
	}

	pg, err := store.NewPostgresTaskStore(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("postgres task store setup failed: %v", err)
	}
	logger.Printf("using postgres task store")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}
