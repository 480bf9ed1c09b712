// Package store holds the two shared key-value stores of the thumbnail
// pipeline: artifacts keyed by content fingerprint and task records keyed by
// task id.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tendant/url-thumbnailer/internal/fingerprint"
	"github.com/tendant/url-thumbnailer/internal/process"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrTaskExists = errors.New("task record already exists")
)

// Artifact is a computed thumbnail. Its content is determined by the
// fingerprint alone, so two writers for the same key always agree.
type Artifact struct {
	Fingerprint  fingerprint.Fingerprint `json:"fingerprint"`
	Data         []byte                  `json:"data"`
	Format       string                  `json:"format"`
	Width        int                     `json:"width"`
	Height       int                     `json:"height"`
	SourceWidth  int                     `json:"source_width,omitempty"`
	SourceHeight int                     `json:"source_height,omitempty"`
	ModifiedAt   time.Time               `json:"modified_at"`
}

// TaskRecord links a client visible task id to the artifact that answers it.
// It is written once, by the producer, after the artifact exists.
type TaskRecord struct {
	TaskID      string                  `json:"task_id"`
	Fingerprint fingerprint.Fingerprint `json:"source_file_sha256"`
	Completed   bool                    `json:"completed"`
	SourceURL   string                  `json:"source_url,omitempty"`
	ModifiedAt  time.Time               `json:"last_modify_time"`
}

// ArtifactStore is the fingerprint-addressed thumbnail store.
type ArtifactStore interface {
	// Get returns ErrNotFound when no artifact exists for fp.
	Get(ctx context.Context, fp fingerprint.Fingerprint) (*Artifact, error)
	// PutIfAbsent stores a and reports whether this call created the entry.
	// An existing entry is left untouched.
	PutIfAbsent(ctx context.Context, a *Artifact) (bool, error)
}

// TaskLedger is the append-only task record store.
type TaskLedger interface {
	// Get returns ErrNotFound for an unknown task id.
	Get(ctx context.Context, taskID string) (*TaskRecord, error)
	// FindCompleted returns some completed record for fp, or ErrNotFound.
	FindCompleted(ctx context.Context, fp fingerprint.Fingerprint) (*TaskRecord, error)
	// Insert fails with ErrTaskExists if the task id was used before.
	Insert(ctx context.Context, rec *TaskRecord) error
}

// JobTracker records the submission side of a task, including failures that
// never produce a TaskRecord.
type JobTracker interface {
	PutJob(ctx context.Context, job *process.Job) error
	// GetJob returns ErrNotFound for an unknown id.
	GetJob(ctx context.Context, id string) (*process.Job, error)
}

// Ledger bundles the task record store with the job tracker; both backends
// implement the pair over the same keyspace.
type Ledger interface {
	TaskLedger
	JobTracker
}

func validRecord(rec *TaskRecord) error {
	if rec == nil || rec.TaskID == "" {
		return errors.New("task record requires a task id")
	}
	if !rec.Fingerprint.Valid() {
		return fingerprint.ErrInvalid
	}
	return nil
}

func validArtifact(a *Artifact) error {
	if a == nil || len(a.Data) == 0 {
		return errors.New("artifact requires data")
	}
	if !a.Fingerprint.Valid() {
		return fingerprint.ErrInvalid
	}
	return nil
}
