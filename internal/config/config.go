package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Pipeline  PipelineConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Trace     TraceConfig
}

type APIConfig struct {
	Addr string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency int
	MetricsAddr string
}

// PipelineConfig bounds the image pipeline: where variants land, which
// widths are produced, which formats are accepted and how much may be
// downloaded from a remote source.
type PipelineConfig struct {
	OutputDir        string
	OutputPrefix     string
	StorageBackend   string
	TargetWidths     []int
	SupportedFormats []string
	MaxDownloadBytes int64
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type RateLimitConfig struct {
	Capacity      int
	WindowSeconds int
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr: env("IMAGETASK_API_ADDR", ":8080"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9090"),
		},
		Pipeline: PipelineConfig{
			OutputDir:        env("IMAGETASK_OUTPUT_DIR", "./output"),
			OutputPrefix:     env("IMAGETASK_OUTPUT_PREFIX", "outputs"),
			StorageBackend:   env("IMAGETASK_STORAGE_BACKEND", "fs"),
			TargetWidths:     envInts("IMAGETASK_TARGET_WIDTHS", []int{1024, 800}),
			SupportedFormats: envStrings("IMAGETASK_SUPPORTED_FORMATS", []string{"jpeg", "jpg", "png", "webp"}),
			MaxDownloadBytes: envInt64("IMAGETASK_MAX_DOWNLOAD_BYTES", 10<<20),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "imagetask-outputs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 0),
			WindowSeconds: envInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("TRACE_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("TRACE_OTLP_INSECURE", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInts(key string, fallback []int) []int {
	value := env(key, "")
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		parsed, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || parsed <= 0 {
			return fallback
		}
		out = append(out, parsed)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envStrings(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
