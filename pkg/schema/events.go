// pkg/schema/events.go
package schema

type ProcessingStage string

const (
	StageSubmitted  ProcessingStage = "submitted"
	StageFetch      ProcessingStage = "fetch"
	StageProcessing ProcessingStage = "processing"
	StageCompleted  ProcessingStage = "completed"
	StageFailed     ProcessingStage = "failed"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

// TaskLifecycleEvent is published on <done subject>.lifecycle as a job moves
// through its stages.
type TaskLifecycleEvent struct {
	TaskID      string          `json:"task_id"`
	SourceURL   string          `json:"source_url"`
	Stage       ProcessingStage `json:"stage"`
	Error       string          `json:"error,omitempty"`
	FailureType FailureType     `json:"failure_type,omitempty"`
	HappenedAt  int64           `json:"happened_at"`
}

// TaskDone is published once per job when it succeeds or fails.
type TaskDone struct {
	TaskID           string      `json:"task_id"`
	SourceURL        string      `json:"source_url"`
	Fingerprint      string      `json:"source_file_sha256,omitempty"`
	Completed        bool        `json:"completed"`
	DedupPath        string      `json:"dedup_path,omitempty"`
	Width            int         `json:"width,omitempty"`
	Height           int         `json:"height,omitempty"`
	ProcessingTimeMs int64       `json:"processing_time_ms"`
	Error            string      `json:"error,omitempty"`
	FailureType      FailureType `json:"failure_type,omitempty"`
	HappenedAt       int64       `json:"happened_at"`
}
