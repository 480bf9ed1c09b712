package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMinio  = "minio"
)

// Config selects and configures the store backends.
type Config struct {
	LedgerBackend   string
	ArtifactBackend string
	RedisURL        string
	RedisPrefix     string
	JobTTL          time.Duration
	Minio           MinioConfig
}

// Stores is the pair of stores the pipeline runs on.
type Stores struct {
	Artifacts ArtifactStore
	Ledger    Ledger

	closers []func() error
}

// Close releases backend connections.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Open builds the stores named in cfg. A Redis connection is shared when both
// stores use it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stores{}

	var rs *RedisStore
	redisStore := func() (*RedisStore, error) {
		if rs != nil {
			return rs, nil
		}
		var err error
		rs, err = NewRedisStoreWithURL(ctx, cfg.RedisURL, WithKeyPrefix(cfg.RedisPrefix), WithJobTTL(cfg.JobTTL), WithRedisLogger(logger))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rs.Close)
		return rs, nil
	}

	switch cfg.LedgerBackend {
	case BackendMemory, "":
		s.Ledger = NewMemoryLedger()
	case BackendRedis:
		r, err := redisStore()
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		s.Ledger = r.Ledger()
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q (supported: memory, redis)", cfg.LedgerBackend)
	}

	switch cfg.ArtifactBackend {
	case BackendMemory, "":
		s.Artifacts = NewMemoryArtifacts()
	case BackendRedis:
		r, err := redisStore()
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		s.Artifacts = r
	case BackendMinio:
		m, err := NewMinioArtifacts(ctx, cfg.Minio, logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open artifact store: %w", err)
		}
		s.Artifacts = m
	default:
		_ = s.Close()
		return nil, fmt.Errorf("unsupported artifact backend %q (supported: memory, redis, minio)", cfg.ArtifactBackend)
	}

	logger.Info("stores ready", "ledger", orDefault(cfg.LedgerBackend), "artifacts", orDefault(cfg.ArtifactBackend))
	return s, nil
}

func orDefault(backend string) string {
	if backend == "" {
		return BackendMemory
	}
	return backend
}
