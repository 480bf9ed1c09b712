package schema

// SubmitRequest is the body of POST /thumbnail.
type SubmitRequest struct {
	SourceImageURL string `json:"source_image_url"`
}

type SubmitResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// StatusResponse answers GET /thumbnail/{id}/status.
type StatusResponse struct {
	TaskID    string `json:"task_id"`
	Found     bool   `json:"found"`
	Completed bool   `json:"completed"`
	State     string `json:"state,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ResultResponse answers GET /thumbnail?task_id=.
type ResultResponse struct {
	Message             string `json:"message"`
	TaskID              string `json:"task_id"`
	TaskStatus          string `json:"task_status"`
	Fingerprint         string `json:"source_file_sha256,omitempty"`
	Format              string `json:"format,omitempty"`
	Width               int    `json:"width,omitempty"`
	Height              int    `json:"height,omitempty"`
	Base64ThumbnailData string `json:"base64_thumbnail_data,omitempty"`
	LastModified        string `json:"last_modify_time,omitempty"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
	Error   string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
