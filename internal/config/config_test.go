package config

import (
	"testing"
	"time"

	"github.com/dunamismax/pixelthumb/internal/pipeline"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"THUMBD_ADDR", "THUMB_MAX_DIMENSION", "THUMB_MAX_PIXELS", "THUMB_MAX_INPUT_BYTES",
		"THUMB_RESAMPLE_WORKERS", "THUMB_DEFAULT_QUALITY", "REDIS_ADDR", "RATE_LIMIT_WINDOW",
		"OTEL_TRACES_EXPORTER", "OTEL_SERVICE_NAME",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.API.Addr)
	}
	if cfg.Pipeline.Limits() != pipeline.DefaultLimits() {
		t.Fatalf("expected default limits, got %+v", cfg.Pipeline.Limits())
	}
	if cfg.Pipeline.Workers < 1 {
		t.Fatalf("expected at least one worker, got %d", cfg.Pipeline.Workers)
	}
	if cfg.RateLimit.Enabled() {
		t.Fatal("expected rate limiting to be disabled without REDIS_ADDR")
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("expected 1m window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Tracing.Exporter != "none" || cfg.Tracing.ServiceName != "pixelthumb" {
		t.Fatalf("unexpected tracing config %+v", cfg.Tracing)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("THUMBD_ADDR", "127.0.0.1:9999")
	t.Setenv("THUMB_MAX_DIMENSION", "4096")
	t.Setenv("THUMB_MAX_PIXELS", "1000000")
	t.Setenv("THUMB_RESAMPLE_WORKERS", "3")
	t.Setenv("THUMB_DEFAULT_QUALITY", "65")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg := Load()
	if cfg.API.Addr != "127.0.0.1:9999" {
		t.Fatalf("unexpected addr %s", cfg.API.Addr)
	}
	proc := cfg.Pipeline.Processor()
	if proc.Limits.MaxDimension != 4096 || proc.Limits.MaxPixels != 1_000_000 || proc.Workers != 3 || proc.DefaultQuality != 65 {
		t.Fatalf("unexpected processor config %+v", proc)
	}
	if !cfg.RateLimit.Enabled() || cfg.RateLimit.RedisOptions().DB != 2 || cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if !cfg.Tracing.OTLPInsecure {
		t.Fatal("expected insecure otlp")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("THUMB_MAX_DIMENSION", "lots")
	t.Setenv("RATE_LIMIT_WINDOW", "-5s")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "maybe")

	cfg := Load()
	if cfg.Pipeline.MaxDimension != pipeline.DefaultMaxDimension {
		t.Fatalf("expected default max dimension, got %d", cfg.Pipeline.MaxDimension)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("expected default window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Tracing.OTLPInsecure {
		t.Fatal("expected insecure to fall back to false")
	}
}
