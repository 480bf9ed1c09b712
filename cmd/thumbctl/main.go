// cmd/thumbctl submits image URLs to a running thumbnailer and waits for the
// results.
//
// Usage:
//
//	./thumbctl -server http://localhost:8000 https://example.com/a.jpg
//	./thumbctl -file urls.txt -out ./thumbs
//	./thumbctl -watch  # print completion events from NATS
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/url-thumbnailer/internal/bus"
	"github.com/tendant/url-thumbnailer/pkg/schema"
)

type config struct {
	Server      string
	File        string
	OutDir      string
	Interval    time.Duration
	Timeout     time.Duration
	Watch       bool
	NATSURL     string
	SubjectDone string
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if cfg.Watch {
		if err := watch(ctx, cfg, logger); err != nil {
			fatal(logger, "watch", err, "nats_url", cfg.NATSURL)
		}
		return
	}

	urls, err := collectURLs(cfg.File, flag.Args())
	if err != nil {
		fatal(logger, "read urls", err, "file", cfg.File)
	}
	if len(urls) == 0 {
		fmt.Fprintln(os.Stderr, "no URLs given")
		flag.Usage()
		os.Exit(2)
	}
	if cfg.OutDir != "" {
		if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
			fatal(logger, "ensure output directory", err, "out", cfg.OutDir)
		}
	}

	c := newClient(cfg.Server, nil)
	failed := 0
	for _, u := range urls {
		if err := run(ctx, c, cfg, u, logger); err != nil {
			failed++
			logger.Error("thumbnail failed", "source", u, "err", err)
		}
	}

	logger.Info("done", "total", len(urls), "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client, cfg config, sourceURL string, logger *slog.Logger) error {
	id, err := c.submit(ctx, sourceURL)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	logger.Info("submitted", "source", sourceURL, "task_id", id)

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	res, err := c.wait(waitCtx, id, cfg.Interval)
	if err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}

	data, err := thumbnailBytes(res)
	if err != nil {
		return fmt.Errorf("decode thumbnail: %w", err)
	}
	logger.Info("completed", "task_id", id, "fingerprint", res.Fingerprint, "width", res.Width, "height", res.Height, "bytes", len(data))

	if cfg.OutDir == "" {
		return nil
	}
	path := filepath.Join(cfg.OutDir, id+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}
	logger.Info("wrote thumbnail", "path", path)
	return nil
}

func watch(ctx context.Context, cfg config, logger *slog.Logger) error {
	nc, err := bus.Connect(cfg.NATSURL, bus.WithName("thumbctl"), bus.WithLogger(logger))
	if err != nil {
		return err
	}
	defer nc.Close()

	sub, err := nc.SubscribeJSON(cfg.SubjectDone, func(_ context.Context, data []byte) {
		var done schema.TaskDone
		if err := json.Unmarshal(data, &done); err != nil {
			logger.Warn("invalid event", "err", err)
			return
		}
		logger.Info("task done",
			"task_id", done.TaskID,
			"completed", done.Completed,
			"dedup_path", done.DedupPath,
			"processing_time_ms", done.ProcessingTimeMs,
			"error", done.Error,
		)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	logger.Info("watching", "subject", cfg.SubjectDone)
	<-ctx.Done()
	return nil
}

// collectURLs merges positional arguments with one URL per line from file.
// Blank lines and lines starting with # are skipped.
func collectURLs(file string, args []string) ([]string, error) {
	urls := append([]string(nil), args...)
	if file == "" {
		return urls, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, sc.Err()
}

func loadConfig() config {
	cfg := config{
		Server:      getenv("THUMBNAILER_URL", "http://localhost:8000"),
		NATSURL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),
		SubjectDone: getenv("SUBJECT_THUMBNAIL_DONE", "images.thumbnail.done"),
	}

	flag.StringVar(&cfg.Server, "server", cfg.Server, "Thumbnailer base URL")
	flag.StringVar(&cfg.File, "file", "", "File with one source URL per line")
	flag.StringVar(&cfg.OutDir, "out", "", "Directory to write thumbnails to (empty = don't write)")
	flag.DurationVar(&cfg.Interval, "interval", time.Second, "Polling interval")
	flag.DurationVar(&cfg.Timeout, "timeout", 2*time.Minute, "Maximum wait per task")
	flag.BoolVar(&cfg.Watch, "watch", false, "Print completion events from NATS instead of submitting")
	flag.Parse()

	return cfg
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
