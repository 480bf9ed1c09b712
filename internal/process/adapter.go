// internal/process/adapter.go
package process

import "time"

// JobStatus represents the lifecycle state of a submitted thumbnail job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job captures what the service tracks about a submission between Submit and
// the producer writing (or failing to write) its task record.
type Job struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	SourceURL   string    `json:"source_url"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	FailureType string    `json:"failure_type,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func NewJob(kind, id, sourceURL string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          id,
		Kind:        kind,
		SourceURL:   sourceURL,
		Status:      JobStatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

func MarkRunning(j *Job) { j.Status = JobStatusRunning; touch(j) }

func MarkSucceeded(j *Job, fingerprint string) {
	j.Status = JobStatusSucceeded
	j.Fingerprint = fingerprint
	j.Error = ""
	j.FailureType = ""
	touch(j)
}

func MarkFailed(j *Job, err error, failureType string) {
	j.Status = JobStatusFailed
	j.FailureType = failureType
	if err != nil {
		j.Error = err.Error()
	}
	touch(j)
}

func touch(j *Job) { j.UpdatedAt = time.Now().UTC() }
