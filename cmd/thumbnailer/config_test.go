package main

import (
	"log/slog"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "LOG_LEVEL", "STORAGE_DIR", "THUMB_WIDTH", "THUMB_HEIGHT",
		"JPEG_QUALITY", "WORKERS", "QUEUE_SIZE", "FETCH_TIMEOUT", "FETCH_MAX_BYTES",
		"LEDGER_BACKEND", "ARTIFACT_BACKEND", "REDIS_URL", "JOB_TTL", "NATS_URL",
		"SUBJECT_THUMBNAIL_DONE", "MINIO_USE_SSL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.HTTPAddr != ":8000" {
		t.Fatalf("unexpected HTTP addr: %s", cfg.HTTPAddr)
	}
	if cfg.StorageDir != "/tmp/thumbnail_app_data" {
		t.Fatalf("unexpected storage dir: %s", cfg.StorageDir)
	}
	if cfg.ThumbWidth != 100 || cfg.ThumbHeight != 100 {
		t.Fatalf("unexpected thumb dimensions: %dx%d", cfg.ThumbWidth, cfg.ThumbHeight)
	}
	if cfg.Store.LedgerBackend != "memory" || cfg.Store.ArtifactBackend != "memory" {
		t.Fatalf("unexpected backends: %s %s", cfg.Store.LedgerBackend, cfg.Store.ArtifactBackend)
	}
	if cfg.Store.JobTTL != 0 {
		t.Fatalf("unexpected job TTL: %s", cfg.Store.JobTTL)
	}
	if cfg.FetchTimeout != 30*time.Second {
		t.Fatalf("unexpected fetch timeout: %s", cfg.FetchTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	if cfg.NATSURL != "" || cfg.SubjectDone != "images.thumbnail.done" {
		t.Fatalf("unexpected NATS settings: %q %q", cfg.NATSURL, cfg.SubjectDone)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("THUMB_WIDTH", "256")
	t.Setenv("WORKERS", "8")
	t.Setenv("LEDGER_BACKEND", "Redis")
	t.Setenv("JOB_TTL", "24h")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ThumbWidth != 256 || cfg.Workers != 8 {
		t.Fatalf("overrides not applied: width=%d workers=%d", cfg.ThumbWidth, cfg.Workers)
	}
	if cfg.Store.LedgerBackend != "redis" {
		t.Fatalf("backend not normalised: %s", cfg.Store.LedgerBackend)
	}
	if cfg.Store.JobTTL != 24*time.Hour {
		t.Fatalf("unexpected job TTL: %s", cfg.Store.JobTTL)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
	if !cfg.Store.Minio.UseSSL {
		t.Fatal("MINIO_USE_SSL not applied")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"THUMB_WIDTH":   "not-a-number",
		"THUMB_HEIGHT":  "-1",
		"JPEG_QUALITY":  "101",
		"QUEUE_SIZE":    "0",
		"FETCH_TIMEOUT": "soon",
		"JOB_TTL":       "-1h",
		"LOG_LEVEL":     "loud",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}
