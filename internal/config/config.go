package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/pixelthumb/internal/pipeline"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	API       APIConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr            string
	MaxInputBytes   int64
	RateLimitHeader string
}

type PipelineConfig struct {
	MaxDimension   int
	MaxPixels      int64
	Workers        int
	DefaultQuality int
}

func (p PipelineConfig) Limits() pipeline.Limits {
	return pipeline.Limits{MaxDimension: p.MaxDimension, MaxPixels: p.MaxPixels}
}

func (p PipelineConfig) Processor() pipeline.Config {
	return pipeline.Config{
		Limits:         p.Limits(),
		Workers:        p.Workers,
		DefaultQuality: p.DefaultQuality,
	}
}

type RateLimitConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Capacity      int
	Window        time.Duration
}

// Enabled reports whether a Redis address was configured.
func (r RateLimitConfig) Enabled() bool {
	return r.RedisAddr != ""
}

func (r RateLimitConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     r.RedisAddr,
		Password: r.RedisPassword,
		DB:       r.RedisDB,
	}
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:            env("THUMBD_ADDR", ":8080"),
			MaxInputBytes:   int64(envInt("THUMB_MAX_INPUT_BYTES", 32<<20)),
			RateLimitHeader: env("RATE_LIMIT_SUBJECT_HEADER", "X-User-ID"),
		},
		Pipeline: PipelineConfig{
			MaxDimension:   envInt("THUMB_MAX_DIMENSION", pipeline.DefaultMaxDimension),
			MaxPixels:      int64(envInt("THUMB_MAX_PIXELS", int(pipeline.DefaultMaxPixels))),
			Workers:        envInt("THUMB_RESAMPLE_WORKERS", max(1, runtime.NumCPU()/2)),
			DefaultQuality: envInt("THUMB_DEFAULT_QUALITY", pipeline.DefaultQuality),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     env("REDIS_ADDR", ""),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 600),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "pixelthumb"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
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

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
