// Package producer turns a source image URL into a stored thumbnail and a
// completed task record, computing each distinct content at most once.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/url-thumbnailer/internal/fetch"
	"github.com/tendant/url-thumbnailer/internal/fingerprint"
	"github.com/tendant/url-thumbnailer/internal/img"
	"github.com/tendant/url-thumbnailer/internal/metrics"
	"github.com/tendant/url-thumbnailer/internal/store"
	"github.com/tendant/url-thumbnailer/pkg/schema"
)

// ErrArtifactCompute wraps decode and encode failures.
var ErrArtifactCompute = errors.New("artifact compute failed")

// Fetcher downloads a URL into dir.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (*fetch.Source, error)
}

type stageKey struct{}

// WithStageFunc returns a context under which Produce calls fn as the job
// enters the fetch and processing stages. Processing is only reported when a
// thumbnail is actually computed.
func WithStageFunc(ctx context.Context, fn func(schema.ProcessingStage)) context.Context {
	return context.WithValue(ctx, stageKey{}, fn)
}

func reportStage(ctx context.Context, stage schema.ProcessingStage) {
	if fn, ok := ctx.Value(stageKey{}).(func(schema.ProcessingStage)); ok && fn != nil {
		fn(stage)
	}
}

// Result describes a finished production.
type Result struct {
	Record   *store.TaskRecord
	Artifact *store.Artifact // nil on the fast path
	Path     string          // one of the metrics.Path* values
}

type Config struct {
	Width  int
	Height int
}

type Producer struct {
	fetcher   Fetcher
	codec     img.Codec
	artifacts store.ArtifactStore
	ledger    store.TaskLedger
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

func New(fetcher Fetcher, codec img.Codec, artifacts store.ArtifactStore, ledger store.TaskLedger, cfg Config, logger *slog.Logger) *Producer {
	if cfg.Width <= 0 {
		cfg.Width = img.DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = img.DefaultHeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		fetcher:   fetcher,
		codec:     codec,
		artifacts: artifacts,
		ledger:    ledger,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Produce runs the pipeline for taskID. On error nothing is written to the
// ledger, so the caller may resubmit.
func (p *Producer) Produce(ctx context.Context, taskID, sourceURL, destRoot string) (*Result, error) {
	logger := p.logger.With("task_id", taskID, "source", sourceURL)

	reportStage(ctx, schema.StageFetch)
	src, err := p.fetcher.Fetch(ctx, sourceURL, destRoot)
	if err != nil {
		logger.Warn("fetch source failed", "err", err)
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	defer func() {
		if err := src.Cleanup(); err != nil {
			logger.Warn("cleanup failed", "path", src.Path, "err", err)
		}
	}()
	metrics.RecordFetch(src.Size)

	fp, err := fingerprint.FromFile(src.Path)
	if err != nil {
		return nil, &fetch.Error{URL: sourceURL, Err: err}
	}
	logger = logger.With("fingerprint", fp.String())
	logger.Info("downloaded source", "bytes", src.Size)

	// any finished task for the same content answers this one too
	prior, err := p.ledger.FindCompleted(ctx, fp)
	switch {
	case err == nil:
		rec, err := p.complete(ctx, taskID, sourceURL, fp)
		if err != nil {
			return nil, err
		}
		logger.Info("reused completed task", "prior_task_id", prior.TaskID)
		return &Result{Record: rec, Path: metrics.PathFastPath}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find completed task: %w", err)
	}

	// the artifact may exist without a completed record, e.g. a concurrent
	// producer or one that stopped before writing its record
	path := metrics.PathStoreHit
	artifact, err := p.artifacts.Get(ctx, fp)
	if errors.Is(err, store.ErrNotFound) {
		path = metrics.PathComputed
		reportStage(ctx, schema.StageProcessing)
		artifact, err = p.compute(ctx, src.Path, fp, logger)
	}
	if err != nil {
		return nil, err
	}

	rec, err := p.complete(ctx, taskID, sourceURL, fp)
	if err != nil {
		return nil, err
	}
	logger.Info("task completed", "path", path, "width", artifact.Width, "height", artifact.Height)
	return &Result{Record: rec, Artifact: artifact, Path: path}, nil
}

func (p *Producer) compute(ctx context.Context, srcPath string, fp fingerprint.Fingerprint, logger *slog.Logger) (*store.Artifact, error) {
	thumb, err := img.GenerateThumbnail(p.codec, srcPath, p.cfg.Width, p.cfg.Height)
	if err != nil {
		logger.Warn("thumbnail generation failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrArtifactCompute, err)
	}

	artifact := &store.Artifact{
		Fingerprint:  fp,
		Data:         thumb.Data,
		Format:       thumb.Format,
		Width:        thumb.Width,
		Height:       thumb.Height,
		SourceWidth:  thumb.SourceWidth,
		SourceHeight: thumb.SourceHeight,
		ModifiedAt:   p.now(),
	}
	created, err := p.artifacts.PutIfAbsent(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	if !created {
		logger.Info("artifact stored concurrently, keeping existing entry")
	}
	return artifact, nil
}

func (p *Producer) complete(ctx context.Context, taskID, sourceURL string, fp fingerprint.Fingerprint) (*store.TaskRecord, error) {
	rec := &store.TaskRecord{
		TaskID:      taskID,
		Fingerprint: fp,
		Completed:   true,
		SourceURL:   sourceURL,
		ModifiedAt:  p.now(),
	}
	if err := p.ledger.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert task record: %w", err)
	}
	return rec, nil
}
