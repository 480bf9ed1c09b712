// cmd/thumbnailer/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/url-thumbnailer/internal/api"
	"github.com/tendant/url-thumbnailer/internal/bus"
	"github.com/tendant/url-thumbnailer/internal/fetch"
	"github.com/tendant/url-thumbnailer/internal/img"
	"github.com/tendant/url-thumbnailer/internal/process"
	"github.com/tendant/url-thumbnailer/internal/producer"
	"github.com/tendant/url-thumbnailer/internal/store"
	"github.com/tendant/url-thumbnailer/internal/thumbnail"
)

const drainTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		fatal(slog.Default(), "load config", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("thumbnailer starting",
		"http_addr", cfg.HTTPAddr,
		"storage_dir", cfg.StorageDir,
		"thumb_width", cfg.ThumbWidth,
		"thumb_height", cfg.ThumbHeight,
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"ledger", cfg.Store.LedgerBackend,
		"artifacts", cfg.Store.ArtifactBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		fatal(logger, "ensure storage directory", err, "storage_dir", cfg.StorageDir)
	}

	stores, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		fatal(logger, "open stores", err)
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("close stores", "err", err)
		}
	}()

	opts := []thumbnail.Option{thumbnail.WithLogger(logger)}
	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL, bus.WithLogger(logger))
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL, "subject", cfg.SubjectDone)
		opts = append(opts, thumbnail.WithNotifier(bus.NewNotifier(nc, cfg.SubjectDone, logger)))
	}

	fetcher := fetch.New(fetch.WithTimeout(cfg.FetchTimeout), fetch.WithMaxBytes(cfg.FetchMaxBytes))
	prod := producer.New(fetcher, img.NewImagingCodec(cfg.JPEGQuality), stores.Artifacts, stores.Ledger,
		producer.Config{Width: cfg.ThumbWidth, Height: cfg.ThumbHeight}, logger)

	// jobs keep running through shutdown until the drain timeout
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	pool := process.NewPool(cfg.Workers, cfg.QueueSize, logger)
	pool.Start(workCtx)

	svc := thumbnail.New(prod, pool, stores.Ledger, stores.Artifacts, thumbnail.Config{DestRoot: cfg.StorageDir}, opts...)
	server := api.NewServer(cfg.HTTPAddr, svc, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	g.Go(func() error {
		<-gCtx.Done()
		drained := make(chan struct{})
		go func() {
			pool.Stop()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			logger.Warn("drain timeout reached, cancelling running jobs", "queued", pool.Len())
			cancelWork()
			<-drained
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("thumbnailer stopped")
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
