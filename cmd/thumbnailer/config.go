package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tendant/url-thumbnailer/internal/fetch"
	"github.com/tendant/url-thumbnailer/internal/img"
	"github.com/tendant/url-thumbnailer/internal/store"
)

type config struct {
	HTTPAddr string
	LogLevel slog.Level

	StorageDir  string
	ThumbWidth  int
	ThumbHeight int
	JPEGQuality int

	Workers   int
	QueueSize int

	FetchTimeout  time.Duration
	FetchMaxBytes int64

	Store store.Config

	NATSURL     string
	SubjectDone string
}

func LoadConfig() (config, error) {
	cfg := config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8000"),
		StorageDir:  getenv("STORAGE_DIR", "/tmp/thumbnail_app_data"),
		NATSURL:     getenv("NATS_URL", ""),
		SubjectDone: getenv("SUBJECT_THUMBNAIL_DONE", "images.thumbnail.done"),
		Store: store.Config{
			LedgerBackend:   strings.ToLower(getenv("LEDGER_BACKEND", store.BackendMemory)),
			ArtifactBackend: strings.ToLower(getenv("ARTIFACT_BACKEND", store.BackendMemory)),
			RedisURL:        getenv("REDIS_URL", "redis://localhost:6379/0"),
			RedisPrefix:     getenv("REDIS_PREFIX", "thumb"),
			Minio: store.MinioConfig{
				Endpoint:  getenv("MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getenv("MINIO_ACCESS_KEY", ""),
				SecretKey: getenv("MINIO_SECRET_KEY", ""),
				Bucket:    getenv("MINIO_BUCKET", "thumbnails"),
				UseSSL:    getenvBool("MINIO_USE_SSL", false),
				Prefix:    getenv("MINIO_PREFIX", "thumbnails"),
			},
		},
	}

	level, err := parseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return config{}, err
	}
	cfg.LogLevel = level

	ints := []struct {
		name string
		def  int
		dst  *int
	}{
		{"THUMB_WIDTH", img.DefaultWidth, &cfg.ThumbWidth},
		{"THUMB_HEIGHT", img.DefaultHeight, &cfg.ThumbHeight},
		{"JPEG_QUALITY", img.DefaultQuality, &cfg.JPEGQuality},
		{"WORKERS", 4, &cfg.Workers},
		{"QUEUE_SIZE", 64, &cfg.QueueSize},
	}
	for _, v := range ints {
		n, err := parsePositiveInt(getenv(v.name, strconv.Itoa(v.def)), v.name)
		if err != nil {
			return config{}, err
		}
		*v.dst = n
	}
	if cfg.JPEGQuality > 100 {
		return config{}, fmt.Errorf("JPEG_QUALITY must be at most 100 (got %d)", cfg.JPEGQuality)
	}

	maxBytes, err := parsePositiveInt(getenv("FETCH_MAX_BYTES", strconv.FormatInt(fetch.DefaultMaxBytes, 10)), "FETCH_MAX_BYTES")
	if err != nil {
		return config{}, err
	}
	cfg.FetchMaxBytes = int64(maxBytes)

	if cfg.FetchTimeout, err = parseDuration(getenv("FETCH_TIMEOUT", fetch.DefaultTimeout.String()), "FETCH_TIMEOUT"); err != nil {
		return config{}, err
	}
	// zero keeps job state forever
	if cfg.Store.JobTTL, err = parseDuration(getenv("JOB_TTL", "0"), "JOB_TTL"); err != nil {
		return config{}, err
	}

	return cfg, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseDuration(value string, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %s)", name, d)
	}
	return d, nil
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return level, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}
