package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jlmorenorodriguez/imagetask-api/internal/config"
	"github.com/jlmorenorodriguez/imagetask-api/internal/contentstore"
	"github.com/jlmorenorodriguez/imagetask-api/internal/pipeline"
	"github.com/jlmorenorodriguez/imagetask-api/internal/store"
	"github.com/jlmorenorodriguez/imagetask-api/internal/telemetry"
	"github.com/jlmorenorodriguez/imagetask-api/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagetask-worker",
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

	if err := pipeline.Startup(); err != nil {
		logger.Fatalf("pipeline startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	taskStore, closeStore := buildTaskStore(ctx, cfg, logger)
	defer closeStore()

	contentStore := buildContentStore(ctx, cfg, logger)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, cfg.Pipeline, taskStore, contentStore)
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.MetricsHandler())
		if err := http.ListenAndServe(cfg.Worker.MetricsAddr, mux); err != nil {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	logger.Printf(
		"starting worker concurrency=%d queue=%s redis=%s widths=%v",
		cfg.Worker.Concurrency,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Pipeline.TargetWidths,
	)

	if err := srv.Run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
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

func buildContentStore(ctx context.Context, cfg config.Config, logger *log.Logger) contentstore.Store {
	if strings.EqualFold(cfg.Pipeline.StorageBackend, "s3") {
		s3, err := contentstore.NewMinioStore(contentstore.MinioConfig{
			Endpoint:     cfg.Storage.Endpoint,
			AccessKey:    cfg.Storage.AccessKey,
			SecretKey:    cfg.Storage.SecretKey,
			Bucket:       cfg.Storage.Bucket,
			UseSSL:       cfg.Storage.UseSSL,
			OutputPrefix: cfg.Pipeline.OutputPrefix,
		})
		if err != nil {
			logger.Fatalf("object storage setup failed: %v", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.Fatalf("ensure bucket failed: %v", err)
		}
		logger.Printf("using s3 content store bucket=%s", s3.Bucket())
		return s3
	}

	fs, err := contentstore.NewFSStore(cfg.Pipeline.OutputDir)
	if err != nil {
		logger.Fatalf("filesystem content store setup failed: %v", err)
	}
	logger.Printf("using filesystem content store dir=%s", cfg.Pipeline.OutputDir)
	return fs
}
