// Package thumbnail accepts thumbnail submissions, runs them on the worker
// pool and answers status and result queries.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/url-thumbnailer/internal/fetch"
	"github.com/tendant/url-thumbnailer/internal/metrics"
	"github.com/tendant/url-thumbnailer/internal/process"
	"github.com/tendant/url-thumbnailer/internal/producer"
	"github.com/tendant/url-thumbnailer/internal/store"
	"github.com/tendant/url-thumbnailer/pkg/schema"
)

const JobKind = "thumbnail"

// DefaultExtensions are the source extensions accepted by Submit.
var DefaultExtensions = []string{"jpg", "jpeg", "png", "tiff"}

// Producer runs one job to completion.
type Producer interface {
	Produce(ctx context.Context, taskID, sourceURL, destRoot string) (*producer.Result, error)
}

// Queue accepts work without blocking.
type Queue interface {
	TrySubmit(task process.Task) error
	Len() int
}

// Notifier receives job events. Implementations must not block for long.
type Notifier interface {
	TaskDone(done schema.TaskDone)
	Lifecycle(event schema.TaskLifecycleEvent)
}

type nopNotifier struct{}

func (nopNotifier) TaskDone(schema.TaskDone)            {}
func (nopNotifier) Lifecycle(schema.TaskLifecycleEvent) {}

// Status answers GetStatus.
type Status struct {
	Found     bool
	Completed bool
	State     process.JobStatus
	Error     string
}

type Config struct {
	// DestRoot is the scratch directory for downloads.
	DestRoot string
	// Extensions overrides DefaultExtensions.
	Extensions []string
}

type Service struct {
	producer  Producer
	queue     Queue
	ledger    store.Ledger
	artifacts store.ArtifactStore
	notifier  Notifier
	destRoot  string
	allowed   map[string]struct{}
	logger    *slog.Logger
	newID     func() string
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(p Producer, q Queue, ledger store.Ledger, artifacts store.ArtifactStore, cfg Config, opts ...Option) *Service {
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}

	s := &Service{
		producer:  p,
		queue:     q,
		ledger:    ledger,
		artifacts: artifacts,
		notifier:  nopNotifier{},
		destRoot:  cfg.DestRoot,
		allowed:   allowed,
		logger:    slog.Default(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates sourceURL, queues a job for it and returns the new task
// id without waiting for the job to run. A rejected submission leaves no job
// state behind.
func (s *Service) Submit(ctx context.Context, sourceURL string) (string, error) {
	if err := s.validate(sourceURL); err != nil {
		metrics.RecordSubmission("invalid")
		metrics.RecordError("submit", string(schema.FailureTypeValidation))
		return "", err
	}

	id := s.newID()
	job := process.NewJob(JobKind, id, sourceURL)

	// the worker holds the job until it is recorded
	admitted := make(chan struct{})
	var cancelled bool
	task := func(ctx context.Context) {
		select {
		case <-admitted:
		case <-ctx.Done():
			return
		}
		if !cancelled {
			s.run(ctx, job)
		}
	}
	if err := s.queue.TrySubmit(task); err != nil {
		metrics.RecordSubmission("rejected")
		if errors.Is(err, process.ErrQueueFull) || errors.Is(err, process.ErrPoolClosed) {
			return "", fmt.Errorf("%w: %v", ErrCapacity, err)
		}
		return "", err
	}

	if err := s.ledger.PutJob(ctx, job); err != nil {
		cancelled = true
		close(admitted)
		metrics.RecordSubmission("error")
		return "", fmt.Errorf("record job: %w", err)
	}
	metrics.RecordSubmission("accepted")
	metrics.SetQueueDepth(s.queue.Len())

	s.logger.Info("thumbnail task submitted", "task_id", id, "source", sourceURL)
	s.lifecycle(job, schema.StageSubmitted, nil, "")
	close(admitted)
	return id, nil
}

func (s *Service) validate(sourceURL string) error {
	if strings.TrimSpace(sourceURL) == "" {
		return &ValidationError{Field: "source_image_url", Reason: "required"}
	}
	u, err := url.Parse(sourceURL)
	if err != nil {
		return &ValidationError{Field: "source_image_url", Reason: err.Error()}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "source_image_url", Reason: "must be an absolute http or https URL"}
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
	if _, ok := s.allowed[ext]; !ok {
		return &ValidationError{Field: "source_image_url", Reason: fmt.Sprintf("unsupported image extension %q", ext)}
	}
	return nil
}

func (s *Service) run(ctx context.Context, job *process.Job) {
	metrics.SetQueueDepth(s.queue.Len())
	logger := s.logger.With("task_id", job.ID)
	start := time.Now()

	process.MarkRunning(job)
	s.putJob(ctx, job, logger)

	stageCtx := producer.WithStageFunc(ctx, func(stage schema.ProcessingStage) {
		s.lifecycle(job, stage, nil, "")
	})
	res, err := s.producer.Produce(stageCtx, job.ID, job.SourceURL, s.destRoot)
	elapsed := time.Since(start)

	done := schema.TaskDone{
		TaskID:           job.ID,
		SourceURL:        job.SourceURL,
		ProcessingTimeMs: elapsed.Milliseconds(),
		HappenedAt:       time.Now().Unix(),
	}

	if err != nil {
		failureType := classifyError(err)
		process.MarkFailed(job, err, string(failureType))
		s.putJob(ctx, job, logger)
		metrics.RecordJob("failed", "", 0)
		metrics.RecordError(stageOf(err), string(failureType))
		logger.Error("thumbnail job failed", "failure_type", failureType, "err", err)

		s.lifecycle(job, schema.StageFailed, err, failureType)
		done.Error = err.Error()
		done.FailureType = failureType
		s.notifier.TaskDone(done)
		return
	}

	process.MarkSucceeded(job, res.Record.Fingerprint.String())
	s.putJob(ctx, job, logger)
	metrics.RecordJob("succeeded", res.Path, elapsed.Seconds())
	logger.Info("thumbnail job finished", "path", res.Path, "processing_time_ms", elapsed.Milliseconds())

	s.lifecycle(job, schema.StageCompleted, nil, "")
	done.Completed = true
	done.Fingerprint = res.Record.Fingerprint.String()
	done.DedupPath = res.Path
	if res.Artifact != nil {
		done.Width, done.Height = res.Artifact.Width, res.Artifact.Height
	}
	s.notifier.TaskDone(done)
}

func (s *Service) lifecycle(job *process.Job, stage schema.ProcessingStage, err error, failureType schema.FailureType) {
	ev := schema.TaskLifecycleEvent{
		TaskID:      job.ID,
		SourceURL:   job.SourceURL,
		Stage:       stage,
		FailureType: failureType,
		HappenedAt:  time.Now().Unix(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.notifier.Lifecycle(ev)
}

func (s *Service) putJob(ctx context.Context, job *process.Job, logger *slog.Logger) {
	if err := s.ledger.PutJob(ctx, job); err != nil {
		logger.Warn("record job state failed", "status", job.Status, "err", err)
	}
}

// GetStatus reports whether taskID is known and whether its thumbnail is
// ready. Unknown ids are not an error.
func (s *Service) GetStatus(ctx context.Context, taskID string) (Status, error) {
	rec, err := s.ledger.Get(ctx, taskID)
	if err == nil {
		st := Status{Found: true, Completed: rec.Completed, State: process.JobStatusRunning}
		if rec.Completed {
			st.State = process.JobStatusSucceeded
		}
		return st, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Status{}, fmt.Errorf("get task record: %w", err)
	}

	job, err := s.ledger.GetJob(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("get job: %w", err)
	}
	return Status{Found: true, State: job.Status, Error: job.Error}, nil
}

// GetResult returns the thumbnail for a completed task.
func (s *Service) GetResult(ctx context.Context, taskID string) (*store.Artifact, error) {
	rec, err := s.ledger.Get(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, s.pendingError(ctx, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task record: %w", err)
	}
	if !rec.Completed {
		return nil, ErrNotCompleted
	}

	artifact, err := s.artifacts.Get(ctx, rec.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("get artifact %s for task %s: %w", rec.Fingerprint, taskID, err)
	}
	return artifact, nil
}

func (s *Service) pendingError(ctx context.Context, taskID string) error {
	job, err := s.ledger.GetJob(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status == process.JobStatusFailed {
		return &JobFailedError{TaskID: taskID, Reason: job.Error, FailureType: job.FailureType}
	}
	return ErrNotCompleted
}

func classifyError(err error) schema.FailureType {
	if err == nil {
		return ""
	}

	var fe *fetch.Error
	if errors.As(err, &fe) {
		if fe.StatusCode >= 400 && fe.StatusCode < 500 && fe.StatusCode != http.StatusTooManyRequests && fe.StatusCode != http.StatusRequestTimeout {
			return schema.FailureTypePermanent
		}
		return schema.FailureTypeRetryable
	}
	if errors.Is(err, producer.ErrArtifactCompute) || errors.Is(err, store.ErrTaskExists) {
		return schema.FailureTypePermanent
	}

	return schema.FailureTypeRetryable
}

func stageOf(err error) string {
	switch {
	case errors.Is(err, fetch.ErrFetch):
		return "fetch"
	case errors.Is(err, producer.ErrArtifactCompute):
		return "compute"
	default:
		return "store"
	}
}
