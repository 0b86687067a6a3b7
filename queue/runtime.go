package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AltairaLabs/DubKit/events"
	"github.com/AltairaLabs/DubKit/logger"
	metrics "github.com/AltairaLabs/DubKit/metrics/prometheus"
	"github.com/AltairaLabs/DubKit/types"
)

// Runtime defaults.
const (
	DefaultWorkerConcurrency  = 2
	DefaultMaxAttempts        = 3
	DefaultBackoffBase        = time.Second
	DefaultCompletedRetention = time.Hour
	DefaultFailedRetention    = 24 * time.Hour
	DefaultSweepInterval      = time.Minute

	retryBackoffFactor = 2
)

// Handler executes one dequeued job.
type Handler interface {
	Execute(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job) error

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Job is what a Handler receives: the envelope plus write access to the
// job's runtime state.
type Job struct {
	Envelope *types.JobEnvelope

	// Attempt is 1-based.
	Attempt int

	runtime *Runtime
}

// UpdateProgress writes the job's progress percentage. Writes are clamped
// monotonic: a value at or below the current one is ignored.
func (j *Job) UpdateProgress(percent int, label string) {
	j.runtime.updateProgress(j.Envelope.JobID, percent, label)
}

// SetResult records the job's final artifact URL ahead of completion.
func (j *Job) SetResult(resultURL string) {
	j.runtime.setResult(j.Envelope.JobID, resultURL)
}

// Config configures the Runtime.
type Config struct {
	// WorkerConcurrency is the number of concurrent job executors. Default 2.
	WorkerConcurrency int

	// MaxAttempts bounds executions per job, retrying retryable failures.
	// Default 3.
	MaxAttempts int

	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration

	// CompletedRetention and FailedRetention bound how long terminal jobs
	// stay queryable. Defaults 1h and 24h.
	CompletedRetention time.Duration
	FailedRetention    time.Duration

	// SweepInterval is how often expired terminal jobs are purged.
	SweepInterval time.Duration
}

// jobRecord is the runtime's per-job state, guarded by Runtime.mu.
type jobRecord struct {
	env           *types.JobEnvelope
	state         types.JobState
	progress      int
	progressLabel string
	result        string
	failureReason string
	startedAt     *time.Time
	attempt       int
	terminalAt    time.Time
	cancel        context.CancelFunc
}

// Runtime owns the worker pool and the authoritative job state map. Queued
// envelopes live in the Backend; everything a status read needs lives here.
type Runtime struct {
	backend Backend
	handler Handler
	bus     *events.Bus
	config  Config

	mu   sync.Mutex
	jobs map[string]*jobRecord

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// now and sleep are swapped by tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRuntime creates a Runtime, filling config defaults for zero values.
func NewRuntime(backend Backend, handler Handler, bus *events.Bus, config Config) *Runtime {
	if config.WorkerConcurrency <= 0 {
		config.WorkerConcurrency = DefaultWorkerConcurrency
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.CompletedRetention <= 0 {
		config.CompletedRetention = DefaultCompletedRetention
	}
	if config.FailedRetention <= 0 {
		config.FailedRetention = DefaultFailedRetention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	return &Runtime{
		backend: backend,
		handler: handler,
		bus:     bus,
		config:  config,
		jobs:    make(map[string]*jobRecord),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Start launches the worker pool and the retention janitor. Stop shuts them
// down.
func (r *Runtime) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for i := 0; i < r.config.WorkerConcurrency; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.workerLoop(runCtx)
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.retentionLoop(runCtx)
	}()

	logger.Info("Queue runtime started", "workers", r.config.WorkerConcurrency)
}

// Stop cancels all workers and waits for in-flight jobs to finish their
// current attempt.
func (r *Runtime) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Submit records the job and hands its envelope to the backend.
func (r *Runtime) Submit(ctx context.Context, env *types.JobEnvelope) error {
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = r.now()
	}

	rec := &jobRecord{env: env, state: types.StateQueued}
	r.mu.Lock()
	r.jobs[env.JobID] = rec
	snap := r.snapshotLocked(rec)
	r.mu.Unlock()

	if err := r.backend.Enqueue(ctx, env); err != nil {
		r.mu.Lock()
		delete(r.jobs, env.JobID)
		r.mu.Unlock()
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.publish(events.TypeQueued, snap)
	r.updateDepth(ctx)
	logger.Info("Job enqueued",
		"job_id", env.JobID, "transcreation_id", env.TranscreationID, "priority", env.Priority)
	return nil
}

// Get returns the current snapshot of a job, or types.ErrNotFound for
// unknown and expired jobs.
func (r *Runtime) Get(jobID string) (types.JobSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[jobID]
	if !ok {
		return types.JobSnapshot{}, types.ErrNotFound
	}
	return r.snapshotLocked(rec), nil
}

// Cancel stops a job. A processing job is cancelled at its next checkpoint;
// a queued job fails immediately and is skipped when dequeued. Cancelling a
// terminal job is a no-op.
func (r *Runtime) Cancel(jobID string) error {
	r.mu.Lock()
	rec, ok := r.jobs[jobID]
	if !ok {
		r.mu.Unlock()
		return types.ErrNotFound
	}
	if rec.state.Terminal() {
		r.mu.Unlock()
		return nil
	}
	if rec.state == types.StateProcessing && rec.cancel != nil {
		cancel := rec.cancel
		r.mu.Unlock()
		cancel()
		return nil
	}
	r.mu.Unlock()

	r.finish(jobID, types.StateFailed, types.FailureReason(types.ErrCancelled))
	return nil
}

// workerLoop dequeues and runs jobs until ctx ends.
func (r *Runtime) workerLoop(ctx context.Context) {
	for {
		env, err := r.backend.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Dequeue failed", "error", err)
			}
			return
		}
		r.updateDepth(ctx)
		r.runJob(ctx, env)
	}
}

// runJob drives one envelope through up to MaxAttempts handler executions.
func (r *Runtime) runJob(ctx context.Context, env *types.JobEnvelope) {
	r.mu.Lock()
	rec, ok := r.jobs[env.JobID]
	if !ok {
		// Envelope restored from a durable backend after a restart.
		rec = &jobRecord{env: env, state: types.StateQueued}
		r.jobs[env.JobID] = rec
	}
	if rec.state.Terminal() {
		// Cancelled while queued.
		r.mu.Unlock()
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	rec.cancel = cancel
	rec.state = types.StateProcessing
	started := r.now()
	rec.startedAt = &started
	r.mu.Unlock()
	defer cancel()

	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		r.setAttempt(env.JobID, attempt)
		if attempt > 1 {
			metrics.RecordJobRetry()
			r.noteRetry(env.JobID)
		}

		err := r.execute(jobCtx, &Job{Envelope: env, Attempt: attempt, runtime: r})
		if err == nil {
			r.finish(env.JobID, types.StateCompleted, "")
			return
		}
		lastErr = err

		if jobCtx.Err() != nil || !types.IsRetryable(err) {
			break
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := backoffDelay(r.config.BackoffBase, attempt)
		logger.Warn("Job attempt failed, retrying",
			"job_id", env.JobID, "attempt", attempt, "delay", delay, "error", err)
		if sleepErr := r.sleep(jobCtx, delay); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}

	logger.Error("Job failed", "job_id", env.JobID, "error", lastErr)
	r.finish(env.JobID, types.StateFailed, types.FailureReason(lastErr))
}

// execute runs the handler with panic containment: a panicking job fails,
// it does not take the worker down.
func (r *Runtime) execute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panicked: %v", p)
		}
	}()
	return r.handler.Execute(ctx, job)
}

// finish moves a job to a terminal state and publishes the terminal event
// exactly once.
func (r *Runtime) finish(jobID string, state types.JobState, failureReason string) {
	r.mu.Lock()
	rec, ok := r.jobs[jobID]
	if !ok || rec.state.Terminal() {
		r.mu.Unlock()
		return
	}
	rec.state = state
	rec.terminalAt = r.now()
	rec.cancel = nil
	if state == types.StateCompleted {
		rec.progress = 100
	} else {
		rec.failureReason = failureReason
	}
	snap := r.snapshotLocked(rec)
	r.mu.Unlock()

	if state == types.StateCompleted {
		r.publish(events.TypeCompleted, snap)
	} else {
		r.publish(events.TypeFailed, snap)
	}
}

// updateProgress applies a monotonic progress write and emits a progress
// event.
func (r *Runtime) updateProgress(jobID string, percent int, label string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	rec, ok := r.jobs[jobID]
	if !ok || rec.state.Terminal() || percent <= rec.progress {
		r.mu.Unlock()
		return
	}
	rec.progress = percent
	rec.progressLabel = label
	snap := r.snapshotLocked(rec)
	r.mu.Unlock()

	r.publish(events.TypeProgress, snap)
}

// noteRetry republishes the job's snapshot at the start of a retry attempt
// so status subscribers observe the new attempt number instead of a silent
// freeze across the backoff window.
func (r *Runtime) noteRetry(jobID string) {
	r.mu.Lock()
	rec, ok := r.jobs[jobID]
	if !ok || rec.state.Terminal() {
		r.mu.Unlock()
		return
	}
	snap := r.snapshotLocked(rec)
	r.mu.Unlock()

	r.publish(events.TypeProgress, snap)
}

func (r *Runtime) setResult(jobID, resultURL string) {
	r.mu.Lock()
	if rec, ok := r.jobs[jobID]; ok {
		rec.result = resultURL
	}
	r.mu.Unlock()
}

func (r *Runtime) setAttempt(jobID string, attempt int) {
	r.mu.Lock()
	if rec, ok := r.jobs[jobID]; ok {
		rec.attempt = attempt
	}
	r.mu.Unlock()
}

// retentionLoop purges expired terminal jobs on a ticker.
func (r *Runtime) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

// sweepExpired removes terminal records older than their retention window.
func (r *Runtime) sweepExpired() {
	now := r.now()
	r.mu.Lock()
	for id, rec := range r.jobs {
		if !rec.state.Terminal() {
			continue
		}
		retention := r.config.FailedRetention
		if rec.state == types.StateCompleted {
			retention = r.config.CompletedRetention
		}
		if now.Sub(rec.terminalAt) >= retention {
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()
}

func (r *Runtime) snapshotLocked(rec *jobRecord) types.JobSnapshot {
	return types.JobSnapshot{
		JobID:         rec.env.JobID,
		State:         rec.state,
		Progress:      rec.progress,
		Title:         rec.env.Title(),
		Data:          rec.env.Data(),
		Result:        rec.result,
		FailureReason: rec.failureReason,
		EnqueuedAt:    rec.env.EnqueuedAt,
		StartedAt:     rec.startedAt,
		Attempt:       rec.attempt,
	}
}

func (r *Runtime) publish(eventType events.Type, snap types.JobSnapshot) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(&events.Event{
		JobID:     snap.JobID,
		Type:      eventType,
		Snapshot:  snap,
		Timestamp: r.now(),
	})
}

func (r *Runtime) updateDepth(ctx context.Context) {
	if n, err := r.backend.Len(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= retryBackoffFactor
	}
	return delay
}

// sleepCtx sleeps for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
