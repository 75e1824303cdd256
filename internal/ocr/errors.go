package ocr

import "errors"

// Terminal per-line failures produced by the orchestrator. Results wrap
// these sentinels, so callers can classify failures with errors.Is.
var (
	// ErrSubmissionFailed marks a line whose submission never succeeded
	// despite the configured retry attempts.
	ErrSubmissionFailed = errors.New("recognition submission failed")

	// ErrRemoteTaskFailed marks a line whose task the service reported as
	// failed after the resubmission budget was spent.
	ErrRemoteTaskFailed = errors.New("recognition task failed")

	// ErrRemoteTaskLost marks a line whose task vanished from the service
	// store after the resubmission budget was spent.
	ErrRemoteTaskLost = errors.New("recognition task lost")

	// ErrBatchTimeout marks lines still unresolved when their batch hit the
	// overall deadline.
	ErrBatchTimeout = errors.New("recognition batch timed out")
)
