package store

import (
	"context"
	"sync"

	"github.com/tendant/url-thumbnailer/internal/fingerprint"
	"github.com/tendant/url-thumbnailer/internal/process"
)

// MemoryArtifacts is an in-process ArtifactStore.
type MemoryArtifacts struct {
	mu        sync.RWMutex
	artifacts map[fingerprint.Fingerprint]*Artifact
}

func NewMemoryArtifacts() *MemoryArtifacts {
	return &MemoryArtifacts{artifacts: make(map[fingerprint.Fingerprint]*Artifact)}
}

func (m *MemoryArtifacts) Get(ctx context.Context, fp fingerprint.Fingerprint) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.artifacts[fp]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneArtifact(a), nil
}

func (m *MemoryArtifacts) PutIfAbsent(ctx context.Context, a *Artifact) (bool, error) {
	if err := validArtifact(a); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.artifacts[a.Fingerprint]; ok {
		return false, nil
	}
	m.artifacts[a.Fingerprint] = cloneArtifact(a)
	return true, nil
}

// Len is the number of stored artifacts.
func (m *MemoryArtifacts) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.artifacts)
}

func cloneArtifact(a *Artifact) *Artifact {
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// MemoryLedger is an in-process Ledger.
type MemoryLedger struct {
	mu        sync.RWMutex
	records   map[string]*TaskRecord
	completed map[fingerprint.Fingerprint]string
	jobs      map[string]*process.Job
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records:   make(map[string]*TaskRecord),
		completed: make(map[fingerprint.Fingerprint]string),
		jobs:      make(map[string]*process.Job),
	}
}

func (m *MemoryLedger) Get(ctx context.Context, taskID string) (*TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (m *MemoryLedger) FindCompleted(ctx context.Context, fp fingerprint.Fingerprint) (*TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.completed[fp]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m.records[id]
	return &c, nil
}

func (m *MemoryLedger) Insert(ctx context.Context, rec *TaskRecord) error {
	if err := validRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.TaskID]; ok {
		return ErrTaskExists
	}
	c := *rec
	m.records[rec.TaskID] = &c
	if rec.Completed {
		if _, ok := m.completed[rec.Fingerprint]; !ok {
			m.completed[rec.Fingerprint] = rec.TaskID
		}
	}
	return nil
}

// Len is the number of task records.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryLedger) PutJob(ctx context.Context, job *process.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *job
	m.jobs[job.ID] = &c
	return nil
}

func (m *MemoryLedger) GetJob(ctx context.Context, id string) (*process.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *job
	return &c, nil
}
