//go:build !cgo

package ocr

import (
	"context"
	"errors"
)

var errCgoRequired = errors.New("local recognition requires a cgo-enabled build with Tesseract installed")

// Local is the in-process Tesseract backend. This build was compiled
// without cgo, so it is unavailable; configure a remote recognition
// service instead.
type Local struct{}

// NewLocal returns a placeholder backend whose methods report that local
// recognition is unavailable in this build.
func NewLocal(language string) *Local {
	return &Local{}
}

// Submit always fails in non-cgo builds.
func (l *Local) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	return nil, errCgoRequired
}

// Check always fails in non-cgo builds.
func (l *Local) Check(ctx context.Context, taskIDs []string) (*CheckResponse, error) {
	return nil, errCgoRequired
}
