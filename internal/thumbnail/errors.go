package thumbnail

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity means the job queue is full; the caller should retry later.
	ErrCapacity = errors.New("thumbnail queue is full")
	// ErrNotFound means the task id was never issued (or has expired).
	ErrNotFound = errors.New("task not found")
	// ErrNotCompleted means the task exists but has no thumbnail yet.
	ErrNotCompleted = errors.New("task not completed")
)

// ValidationError rejects a submission before it is queued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// JobFailedError is returned for a task whose job failed. It matches
// ErrNotCompleted, since a failed task never gets a thumbnail.
type JobFailedError struct {
	TaskID      string
	Reason      string
	FailureType string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

func (e *JobFailedError) Is(target error) bool { return target == ErrNotCompleted }
