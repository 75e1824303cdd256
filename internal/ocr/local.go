//go:build cgo

package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/otiai10/gosseract/v2"
)

// Local is an in-process recognition backend powered by Tesseract. It
// implements the same asynchronous Service contract as the remote client:
// Submit enqueues a task and recognition runs on a background goroutine,
// so results must be collected through Check.
//
// Tesseract and the language data for the configured language must be
// installed on the system:
//   - Ubuntu/Debian: apt-get install tesseract-ocr tesseract-ocr-eng
//   - macOS: brew install tesseract
//
// Local is safe for concurrent use.
type Local struct {
	language string

	mu    sync.Mutex
	tasks map[string]*TaskInfo
}

// NewLocal creates a local backend using the given Tesseract language code.
// An empty language defaults to English ("eng").
func NewLocal(language string) *Local {
	if language == "" {
		language = "eng"
	}
	return &Local{
		language: language,
		tasks:    make(map[string]*TaskInfo),
	}
}

// Submit decodes the request image and starts recognizing it in the
// background. Invalid image data is reported through the response rather
// than an error, matching how the remote service rejects bad submissions.
func (l *Local) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	raw, err := decodeImageData(req.ImageData)
	if err != nil {
		return &SubmitResponse{Success: false, Error: fmt.Sprintf("invalid image data: %v", err)}, nil
	}

	id := uuid.NewString()
	now := time.Now()

	l.mu.Lock()
	l.tasks[id] = &TaskInfo{
		TaskID:    id,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.mu.Unlock()

	go l.recognize(id, raw)

	return &SubmitResponse{Success: true, TaskID: id}, nil
}

// Check returns the current state of the requested tasks. Unknown IDs are
// omitted from the response.
func (l *Local) Check(ctx context.Context, taskIDs []string) (*CheckResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tasks := make([]TaskInfo, 0, len(taskIDs))
	for _, id := range taskIDs {
		if t, ok := l.tasks[id]; ok {
			tasks = append(tasks, *t)
		}
	}
	return &CheckResponse{Success: true, Tasks: tasks}, nil
}

func (l *Local) recognize(id string, raw []byte) {
	l.setStatus(id, TaskProcessing, nil, "")

	start := time.Now()
	text, err := runTesseract(raw, l.language)
	if err != nil {
		l.setStatus(id, TaskFailed, nil, err.Error())
		return
	}

	l.setStatus(id, TaskDone, &TaskOutput{
		Text:     text,
		Duration: time.Since(start).Seconds(),
	}, "")
}

func (l *Local) setStatus(id string, status TaskState, output *TaskOutput, errMsg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tasks[id]
	if !ok {
		return
	}
	t.Status = status
	t.Output = output
	t.ErrorMessage = errMsg
	t.UpdatedAt = time.Now()
}

func runTesseract(raw []byte, language string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(language); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(raw); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// decodeImageData decodes base64 image bytes, tolerating an optional data
// URI prefix ("data:image/png;base64,...").
func decodeImageData(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return raw, nil
}
