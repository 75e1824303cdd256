package ocr

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds the orchestration knobs. Zero values fall back to the
// defaults, so callers can override selectively.
type Config struct {
	// BatchSize is the number of lines processed per batch.
	BatchSize int

	// PollInterval is the delay between status checks.
	PollInterval time.Duration

	// GracePeriod is how long a freshly submitted task may be absent from
	// Check responses before it counts as lost. Submission acknowledgement
	// can outrun the service's store becoming consistent.
	GracePeriod time.Duration

	// StuckAfter is the age of a task's last status update past which a
	// racing duplicate is submitted.
	StuckAfter time.Duration

	// BatchTimeout bounds how long one batch may poll for results after
	// its submissions are in.
	BatchTimeout time.Duration

	// MaxResubmits caps replacement submissions per line, counting both
	// failure resubmissions and racing duplicates.
	MaxResubmits int

	// SubmitAttempts is the total number of tries for one submission.
	SubmitAttempts int

	// SubmitBackoff is the base delay between submission attempts; the
	// n-th retry waits n times this.
	SubmitBackoff time.Duration
}

// DefaultConfig returns the standard orchestration parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		PollInterval:   3 * time.Second,
		GracePeriod:    10 * time.Second,
		StuckAfter:     40 * time.Second,
		BatchTimeout:   10 * time.Minute,
		MaxResubmits:   3,
		SubmitAttempts: 3,
		SubmitBackoff:  time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = d.StuckAfter
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.MaxResubmits <= 0 {
		c.MaxResubmits = d.MaxResubmits
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = d.SubmitAttempts
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = d.SubmitBackoff
	}
	return c
}

// LineResult is the final outcome for one line: either its recognized text
// or a terminal error wrapping one of this package's sentinels.
type LineResult struct {
	LineIndex int    `json:"line_index"`
	Text      string `json:"text,omitempty"`
	Err       error  `json:"-"`
}

// task tracks one in-flight remote recognition job.
type task struct {
	line      int
	remoteID  string
	submitted time.Time
	raced     bool // a racing duplicate has already been spawned for it
}

// batchState is the bookkeeping for one batch. All mutation happens on the
// batch loop goroutine; submission goroutines report through channels.
type batchState struct {
	jobs    map[int]LineJob
	tasks   map[string]*task
	resub   map[int]int
	results map[int]LineResult
}

func (st *batchState) lineResolved(line int) bool {
	_, ok := st.results[line]
	return ok
}

func (st *batchState) lineTracked(line int) bool {
	for _, t := range st.tasks {
		if t.line == line {
			return true
		}
	}
	return false
}

// Orchestrator drives line recognition jobs through a Service, hiding the
// flakiness of a remote queue behind a simple synchronous call.
//
// Jobs are processed in batches. Within a batch every line is submitted
// concurrently, then a poll loop watches the tasks and reacts:
//
//   - tasks reported done resolve their line (first writer wins; any
//     sibling tasks for the line are dropped)
//   - tasks reported failed are resubmitted until the per-line budget is
//     spent, then the line resolves to a terminal error
//   - tasks missing from the store past a grace period are treated like
//     failures
//   - tasks stuck without a status update are left running but raced
//     against a fresh duplicate, whichever finishes first wins
//
// Every line resolves exactly once: with text, or with an error wrapping
// ErrSubmissionFailed, ErrRemoteTaskFailed, ErrRemoteTaskLost or
// ErrBatchTimeout. One line's fate never affects another's.
type Orchestrator struct {
	svc Service
	cfg Config
}

// NewOrchestrator creates an orchestrator for the given service.
func NewOrchestrator(svc Service, cfg Config) *Orchestrator {
	return &Orchestrator{svc: svc, cfg: cfg.withDefaults()}
}

// Run processes all jobs and returns exactly one result per line, sorted by
// line index. It blocks until every line is resolved; the batch timeout
// bounds the total wait. Cancelling the context resolves remaining lines
// with timeout errors rather than abandoning them silently.
func (o *Orchestrator) Run(ctx context.Context, jobs []LineJob) []LineResult {
	results := make(map[int]LineResult, len(jobs))

	if o.svc == nil {
		for _, j := range jobs {
			results[j.Index] = LineResult{
				LineIndex: j.Index,
				Err:       fmt.Errorf("line %d: %w: no recognition service configured", j.Index, ErrSubmissionFailed),
			}
		}
		return sortedResults(results)
	}

	for start := 0; start < len(jobs); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		o.runBatch(ctx, jobs[start:end], results)
	}

	return sortedResults(results)
}

func sortedResults(results map[int]LineResult) []LineResult {
	out := make([]LineResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineIndex < out[j].LineIndex })
	return out
}

// runBatch submits one batch and polls it to completion, writing one result
// per line into results.
func (o *Orchestrator) runBatch(ctx context.Context, jobs []LineJob, results map[int]LineResult) {
	st := &batchState{
		jobs:    make(map[int]LineJob, len(jobs)),
		tasks:   make(map[string]*task),
		resub:   make(map[int]int),
		results: results,
	}
	for _, j := range jobs {
		st.jobs[j.Index] = j
	}

	log.Debug().Int("lines", len(jobs)).Msg("submitting recognition batch")

	for _, oc := range o.submitAll(ctx, jobs) {
		o.applySubmitOutcome(st, oc)
	}
	if o.batchDone(st) {
		return
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(o.cfg.BatchTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			o.finishExpired(st, ctx.Err())
			return
		case <-deadline.C:
			o.finishExpired(st, nil)
			return
		case <-ticker.C:
			o.pollOnce(ctx, st)
			if o.batchDone(st) {
				return
			}
		}
	}
}

// submitOutcome is the report of one submission goroutine.
type submitOutcome struct {
	job LineJob
	id  string
	err error
}

// submitAll fires one submission goroutine per job and gathers every
// outcome before returning, so state mutation stays on the caller's
// goroutine.
func (o *Orchestrator) submitAll(ctx context.Context, jobs []LineJob) []submitOutcome {
	ch := make(chan submitOutcome, len(jobs))
	for _, j := range jobs {
		go func(j LineJob) {
			id, err := o.submitWithRetry(ctx, j)
			ch <- submitOutcome{job: j, id: id, err: err}
		}(j)
	}

	out := make([]submitOutcome, 0, len(jobs))
	for range jobs {
		out = append(out, <-ch)
	}
	return out
}

// submitWithRetry tries one submission up to the configured attempt count
// with linearly growing backoff between tries.
func (o *Orchestrator) submitWithRetry(ctx context.Context, job LineJob) (string, error) {
	req := SubmitRequest{
		Wording:   job.Hint,
		ImageData: job.ImageData,
		ImageName: job.ImageName,
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.SubmitAttempts; attempt++ {
		resp, err := o.svc.Submit(ctx, req)
		switch {
		case err != nil:
			lastErr = err
		case resp == nil:
			lastErr = fmt.Errorf("service returned no response")
		case !resp.Success:
			lastErr = fmt.Errorf("service rejected submission: %s", resp.Error)
		case resp.TaskID == "":
			lastErr = fmt.Errorf("service returned an empty task id")
		default:
			return resp.TaskID, nil
		}

		log.Debug().
			Int("line", job.Index).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("recognition submission attempt failed")

		if attempt < o.cfg.SubmitAttempts {
			if !sleepCtx(ctx, time.Duration(attempt)*o.cfg.SubmitBackoff) {
				return "", lastErr
			}
		}
	}
	return "", lastErr
}

// applySubmitOutcome folds one submission outcome into the batch state.
func (o *Orchestrator) applySubmitOutcome(st *batchState, oc submitOutcome) {
	line := oc.job.Index

	if oc.err != nil {
		if st.lineResolved(line) {
			return
		}
		if st.lineTracked(line) {
			// A racing duplicate failed to launch while the original task is
			// still in flight. The line's fate rests on the original.
			log.Warn().Int("line", line).Err(oc.err).
				Msg("racing resubmission failed, original task still tracked")
			return
		}
		st.results[line] = LineResult{
			LineIndex: line,
			Err: fmt.Errorf("line %d: %w after %d attempts: %v",
				line, ErrSubmissionFailed, o.cfg.SubmitAttempts, oc.err),
		}
		return
	}

	if st.lineResolved(line) {
		// The line was resolved by a sibling while this submission was in
		// flight. Nothing left to track.
		return
	}

	st.tasks[oc.id] = &task{
		line:      line,
		remoteID:  oc.id,
		submitted: time.Now(),
	}
	log.Debug().Int("line", line).Str("task", oc.id).Msg("recognition task submitted")
}

// batchDone reports whether every line of the batch has a result.
func (o *Orchestrator) batchDone(st *batchState) bool {
	for line := range st.jobs {
		if !st.lineResolved(line) {
			return false
		}
	}
	return true
}

// pollOnce performs one status check and reacts to every reported state.
func (o *Orchestrator) pollOnce(ctx context.Context, st *batchState) {
	if len(st.tasks) == 0 {
		return
	}

	ids := make([]string, 0, len(st.tasks))
	for id := range st.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	resp, err := o.svc.Check(ctx, ids)
	switch {
	case err != nil:
		// Transient: the next tick retries with the same IDs.
		log.Warn().Err(err).Msg("recognition status check failed")
		return
	case resp == nil || !resp.Success:
		msg := "service reported failure"
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		log.Warn().Str("error", msg).Msg("recognition status check rejected")
		return
	}

	seen := make(map[string]TaskInfo, len(resp.Tasks))
	for _, info := range resp.Tasks {
		seen[info.TaskID] = info
	}

	now := time.Now()
	var resubmit []LineJob

	for _, id := range ids {
		t, ok := st.tasks[id]
		if !ok {
			continue
		}
		if st.lineResolved(t.line) {
			// A sibling resolved the line; this task is no longer needed.
			delete(st.tasks, id)
			continue
		}

		info, reported := seen[id]
		if !reported {
			if now.Sub(t.submitted) < o.cfg.GracePeriod {
				continue // store may not be consistent yet
			}
			log.Warn().Int("line", t.line).Str("task", id).Msg("recognition task missing from store")
			delete(st.tasks, id)
			o.replaceOrFail(st, t.line, &resubmit, ErrRemoteTaskLost, "")
			continue
		}

		switch info.Status {
		case TaskDone:
			text := ""
			if info.Output != nil {
				text = info.Output.Text
			}
			st.results[t.line] = LineResult{LineIndex: t.line, Text: text}
			delete(st.tasks, id)
			log.Info().Int("line", t.line).Str("task", id).Msg("line recognized")

		case TaskFailed:
			log.Warn().Int("line", t.line).Str("task", id).
				Str("error", info.ErrorMessage).Msg("recognition task failed")
			delete(st.tasks, id)
			o.replaceOrFail(st, t.line, &resubmit, ErrRemoteTaskFailed, info.ErrorMessage)

		case TaskPending, TaskProcessing:
			lastUpdate := info.UpdatedAt
			if lastUpdate.IsZero() {
				lastUpdate = info.CreatedAt
			}
			if lastUpdate.IsZero() {
				lastUpdate = t.submitted
			}
			if now.Sub(lastUpdate) > o.cfg.StuckAfter && !t.raced &&
				st.resub[t.line] < o.cfg.MaxResubmits {
				// Keep the stuck task: it may still finish. Race a fresh
				// duplicate against it and let the first completion win.
				t.raced = true
				st.resub[t.line]++
				resubmit = append(resubmit, st.jobs[t.line])
				log.Warn().Int("line", t.line).Str("task", id).
					Dur("since_update", now.Sub(lastUpdate)).
					Msg("recognition task stuck, racing a fresh submission")
			}

		default:
			log.Warn().Int("line", t.line).Str("task", id).
				Str("status", string(info.Status)).Msg("recognition task in unknown state")
		}
	}

	// Drop siblings of lines resolved during this tick.
	for id, t := range st.tasks {
		if st.lineResolved(t.line) {
			delete(st.tasks, id)
		}
	}

	if len(resubmit) > 0 {
		for _, oc := range o.submitAll(ctx, resubmit) {
			o.applySubmitOutcome(st, oc)
		}
	}
}

// replaceOrFail queues a replacement submission for a line whose task
// terminated without a result, or records the terminal error once the
// resubmission budget is spent and no sibling task remains.
func (o *Orchestrator) replaceOrFail(st *batchState, line int, resubmit *[]LineJob, sentinel error, detail string) {
	if st.resub[line] < o.cfg.MaxResubmits {
		st.resub[line]++
		*resubmit = append(*resubmit, st.jobs[line])
		log.Debug().Int("line", line).Int("resubmits", st.resub[line]).Msg("resubmitting line")
		return
	}
	if st.lineTracked(line) {
		// A racing sibling is still in flight; it decides the line.
		return
	}
	err := fmt.Errorf("line %d: %w after %d resubmissions", line, sentinel, st.resub[line])
	if detail != "" {
		err = fmt.Errorf("line %d: %w after %d resubmissions: %s", line, sentinel, st.resub[line], detail)
	}
	st.results[line] = LineResult{LineIndex: line, Err: err}
}

// finishExpired resolves every remaining line with a timeout error. cause
// carries the context error when the wait ended by cancellation.
func (o *Orchestrator) finishExpired(st *batchState, cause error) {
	for line := range st.jobs {
		if st.lineResolved(line) {
			continue
		}
		err := fmt.Errorf("line %d: %w after %s", line, ErrBatchTimeout, o.cfg.BatchTimeout)
		if cause != nil {
			err = fmt.Errorf("line %d: %w: %v", line, ErrBatchTimeout, cause)
		}
		st.results[line] = LineResult{LineIndex: line, Err: err}
		log.Warn().Int("line", line).Msg("line unresolved at batch deadline")
	}
	st.tasks = make(map[string]*task)
}

// sleepCtx sleeps for d unless the context ends first. It reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
