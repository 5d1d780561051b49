package models

// These structs define the JSON payloads exchanged with the task-api
// and document-ingest functions.

// SubmitTaskResponse is returned when a document is accepted.
type SubmitTaskResponse struct {
	TaskID string `json:"taskId"`
	Status Status `json:"status"`
}

// AnalyzePageResponse is the output of a single-page analysis request.
type AnalyzePageResponse struct {
	TaskID string     `json:"taskId"`
	Page   PageResult `json:"page"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// IngestResponse summarizes a document processed from a storage event.
type IngestResponse struct {
	TaskID     string `json:"taskId"`
	Status     Status `json:"status"`
	TotalPages int    `json:"totalPages"`
	Error      string `json:"error,omitempty"`
}

// WorkflowPayload is the argument passed to the downstream workflow
// when a task reaches a terminal state.
type WorkflowPayload struct {
	TaskID      string `json:"taskId"`
	Status      Status `json:"status"`
	TotalPages  int    `json:"totalPages"`
	FailedPages []int  `json:"failedPages,omitempty"`
	Error       string `json:"error,omitempty"`
}
