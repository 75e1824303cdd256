package ocr

import (
	"context"
	"time"
)

// TaskState is the lifecycle state a recognition task reports.
type TaskState string

// Task states, in rough lifecycle order. A task the store no longer knows
// about has no state at all: it is simply absent from a Check response.
const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskDone       TaskState = "done"
	TaskFailed     TaskState = "failed"
)

// SubmitRequest carries one line image to the recognition service.
type SubmitRequest struct {
	// Wording is an optional hint about the expected content, used by
	// services that support constrained recognition.
	Wording string `json:"wording,omitempty"`

	// ImageData is the base64-encoded PNG of the cropped line.
	ImageData string `json:"imageData"`

	// ImageName is a unique diagnostic name for the submission.
	ImageName string `json:"imageName"`
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TaskOutput is the payload of a completed task.
type TaskOutput struct {
	// Text is the recognized line text.
	Text string `json:"text"`

	// Duration is the processing time in seconds, as reported by the service.
	Duration float64 `json:"duration"`
}

// TaskInfo is one task's status snapshot in a Check response.
type TaskInfo struct {
	TaskID       string      `json:"taskId"`
	Status       TaskState   `json:"status"`
	Output       *TaskOutput `json:"outputData,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// CheckResponse reports the status of the queried tasks. Tasks unknown to
// the store are omitted rather than reported with an error status.
type CheckResponse struct {
	Success bool       `json:"success"`
	Tasks   []TaskInfo `json:"tasks"`
	Error   string     `json:"error,omitempty"`
}

// Service is the recognition backend the orchestrator drives. Implementations
// must be safe for concurrent use: submissions within a batch run in
// parallel goroutines.
//
// Two implementations ship with this package: Client speaks to a remote HTTP
// service and Local runs Tesseract in-process behind the same submit/check
// contract.
type Service interface {
	// Submit enqueues one line image and returns its task ID. A non-nil
	// error means the request itself failed (transport, encoding); a
	// response with Success=false means the service rejected the job.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)

	// Check reports the current status of the given task IDs. IDs the
	// service does not know are omitted from the response.
	Check(ctx context.Context, taskIDs []string) (*CheckResponse, error)
}
