// Package ocr submits text line images to a recognition service and
// collects the results.
//
// Recognition is asynchronous on the wire: a submission returns a task ID,
// and the task is polled until it reports done or failed. The package hides
// that protocol behind two layers:
//
//   - Service is the transport contract (Submit and Check). Client speaks
//     it over HTTP against a remote recognition API; Local implements it
//     in-process with Tesseract for installations without a remote service.
//   - Orchestrator turns a slice of LineJob values into one LineResult per
//     line, handling batching, retries, lost and stuck tasks, and timeouts.
//
// # Task Lifecycle
//
// A submitted task moves through pending and processing to done or failed.
// The orchestrator polls tasks in batches and reacts to each state:
//
//   - done resolves the line with the recognized text
//   - failed triggers a replacement submission until the per-line budget
//     is spent
//   - a task absent from the store past a grace period is treated as lost
//     and replaced the same way
//   - a task with no status update for too long keeps running, but a fresh
//     duplicate races it and the first completion wins
//
// Every line resolves exactly once. Terminal failures carry one of the
// package's sentinel errors (ErrSubmissionFailed, ErrRemoteTaskFailed,
// ErrRemoteTaskLost, ErrBatchTimeout) so callers can classify them with
// errors.Is.
//
// # Building Jobs
//
// JobsFromLines crops detected line groups out of an image, encodes each
// crop as base64 PNG and pairs it with an optional wording hint. The
// resulting jobs feed straight into Orchestrator.Run.
//
// # Local Recognition
//
// The Local backend requires a cgo build and a system Tesseract
// installation. Without cgo its methods return an error directing the
// caller to configure a remote service.
package ocr
