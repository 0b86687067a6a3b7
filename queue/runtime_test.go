package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/DubKit/events"
	"github.com/AltairaLabs/DubKit/types"
)

// eventRecorder collects bus events per job for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *eventRecorder) record(e *events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) byType(t events.Type) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) progressValues() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.Type == events.TypeProgress {
			out = append(out, e.Snapshot.Progress)
		}
	}
	return out
}

func setupRuntime(t *testing.T, handler Handler, config Config) (*Runtime, *eventRecorder) {
	t.Helper()
	bus := events.NewBus()
	recorder := &eventRecorder{}
	bus.SubscribeAll(recorder.record)

	rt := NewRuntime(NewMemoryBackend(), handler, bus, config)
	rt.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return rt, recorder
}

func waitTerminal(t *testing.T, rt *Runtime, jobID string) types.JobSnapshot {
	t.Helper()
	var snap types.JobSnapshot
	require.Eventually(t, func() bool {
		s, err := rt.Get(jobID)
		if err != nil {
			return false
		}
		snap = s
		return s.State.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func TestRuntime_ExecutesJobToCompletion(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, job *Job) error {
		job.UpdateProgress(10, "fetch")
		job.UpdateProgress(50, "synthesize")
		job.SetResult("file:///final.wav")
		return nil
	})
	rt, recorder := setupRuntime(t, handler, Config{})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	snap := waitTerminal(t, rt, "job-1")

	assert.Equal(t, types.StateCompleted, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "file:///final.wav", snap.Result)
	require.NotNil(t, snap.StartedAt)

	assert.Len(t, recorder.byType(events.TypeQueued), 1)
	assert.Len(t, recorder.byType(events.TypeCompleted), 1)
	assert.Empty(t, recorder.byType(events.TypeFailed))
}

func TestRuntime_ProgressIsMonotonic(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, job *Job) error {
		job.UpdateProgress(40, "synthesize")
		job.UpdateProgress(25, "separate") // stale write, ignored
		job.UpdateProgress(40, "synthesize")
		job.UpdateProgress(80, "combine")
		return nil
	})
	rt, recorder := setupRuntime(t, handler, Config{})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	waitTerminal(t, rt, "job-1")

	values := recorder.progressValues()
	assert.Equal(t, []int{40, 80}, values)
}

func TestRuntime_RetriesTemporaryFailure(t *testing.T) {
	var mu sync.Mutex
	var attempts []int
	handler := HandlerFunc(func(_ context.Context, job *Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempt)
		n := len(attempts)
		mu.Unlock()
		if n < 3 {
			return &types.ExternalToolError{Component: "transcoder", Err: errors.New("flaky")}
		}
		return nil
	})
	rt, recorder := setupRuntime(t, handler, Config{})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	snap := waitTerminal(t, rt, "job-1")

	assert.Equal(t, types.StateCompleted, snap.State)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	// Retries must not leak premature terminal events.
	assert.Len(t, recorder.byType(events.TypeCompleted), 1)
	assert.Empty(t, recorder.byType(events.TypeFailed))
}

func TestRuntime_RetryRepublishesSnapshot(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	handler := HandlerFunc(func(_ context.Context, _ *Job) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return &types.ExternalToolError{Component: "separator", Err: errors.New("flaky")}
		}
		return nil
	})
	rt, recorder := setupRuntime(t, handler, Config{})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	waitTerminal(t, rt, "job-1")

	// Each retry attempt announces itself so status subscribers see the
	// attempt change instead of a silent freeze across the backoff window.
	var attempts []int
	for _, e := range recorder.byType(events.TypeProgress) {
		attempts = append(attempts, e.Snapshot.Attempt)
	}
	assert.Contains(t, attempts, 2)
	assert.Contains(t, attempts, 3)
}

func TestRuntime_ExhaustedRetriesFailOnce(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, _ *Job) error {
		return &types.TimeoutError{Component: "separator", Err: context.DeadlineExceeded}
	})
	rt, recorder := setupRuntime(t, handler, Config{MaxAttempts: 3})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	snap := waitTerminal(t, rt, "job-1")

	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "Timeout: separator", snap.FailureReason)
	assert.Equal(t, 3, snap.Attempt)
	assert.Len(t, recorder.byType(events.TypeFailed), 1)
	assert.Empty(t, recorder.byType(events.TypeCompleted))
}

func TestRuntime_TerminalFailureDoesNotRetry(t *testing.T) {
	var calls int
	var mu sync.Mutex
	handler := HandlerFunc(func(_ context.Context, _ *Job) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return &types.InvalidArtifactError{Path: "/x.wav", Why: "empty file"}
	})
	rt, recorder := setupRuntime(t, handler, Config{})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	snap := waitTerminal(t, rt, "job-1")

	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "InvalidArtifact", snap.FailureReason)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
	assert.Len(t, recorder.byType(events.TypeFailed), 1)
}

func TestRuntime_PriorityOrderUnderSaturation(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	handler := HandlerFunc(func(_ context.Context, job *Job) error {
		if job.Envelope.JobID == "blocker" {
			<-gate
			return nil
		}
		mu.Lock()
		order = append(order, job.Envelope.JobID)
		mu.Unlock()
		return nil
	})
	rt, _ := setupRuntime(t, handler, Config{WorkerConcurrency: 1})
	rt.Start(context.Background())
	defer rt.Stop()

	ctx := context.Background()
	require.NoError(t, rt.Submit(ctx, envelope("blocker", 1)))

	// While the single worker is busy, pile up jobs out of priority order.
	require.Eventually(t, func() bool {
		s, err := rt.Get("blocker")
		return err == nil && s.State == types.StateProcessing
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, rt.Submit(ctx, envelope("free", 4)))
	require.NoError(t, rt.Submit(ctx, envelope("creator", 3)))
	require.NoError(t, rt.Submit(ctx, envelope("studio", 1)))
	close(gate)

	waitTerminal(t, rt, "free")
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"studio", "creator", "free"}, order)
}

func TestRuntime_CancelQueuedJob(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, _ *Job) error {
		t.Error("handler must not run for a cancelled job")
		return nil
	})
	rt, recorder := setupRuntime(t, handler, Config{})

	env := envelope("job-1", 2)
	require.NoError(t, rt.Submit(context.Background(), env))
	require.NoError(t, rt.Cancel("job-1"))

	snap, err := rt.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "Cancelled", snap.FailureReason)
	assert.Len(t, recorder.byType(events.TypeFailed), 1)

	// A worker picking the stale envelope up later skips it.
	rt.runJob(context.Background(), env)
	assert.Len(t, recorder.byType(events.TypeFailed), 1)
}

func TestRuntime_CancelProcessingJob(t *testing.T) {
	started := make(chan struct{})
	handler := HandlerFunc(func(ctx context.Context, _ *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	rt, recorder := setupRuntime(t, handler, Config{})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	<-started
	require.NoError(t, rt.Cancel("job-1"))

	snap := waitTerminal(t, rt, "job-1")
	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "Cancelled", snap.FailureReason)
	assert.Empty(t, recorder.byType(events.TypeCompleted))
}

func TestRuntime_CancelUnknownJob(t *testing.T) {
	rt, _ := setupRuntime(t, HandlerFunc(func(context.Context, *Job) error { return nil }), Config{})
	assert.ErrorIs(t, rt.Cancel("nope"), types.ErrNotFound)
}

func TestRuntime_RetentionSweep(t *testing.T) {
	rt, _ := setupRuntime(t, HandlerFunc(func(context.Context, *Job) error { return nil }), Config{
		CompletedRetention: time.Hour,
		FailedRetention:    24 * time.Hour,
	})

	now := time.Now()
	rt.now = func() time.Time { return now }

	require.NoError(t, rt.Submit(context.Background(), envelope("done", 2)))
	require.NoError(t, rt.Submit(context.Background(), envelope("broken", 2)))
	rt.finish("done", types.StateCompleted, "")
	rt.finish("broken", types.StateFailed, "TTSFailed")

	// Two hours in: completed expired, failed still retained.
	now = now.Add(2 * time.Hour)
	rt.sweepExpired()
	_, err := rt.Get("done")
	assert.ErrorIs(t, err, types.ErrNotFound)
	snap, err := rt.Get("broken")
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, snap.State)

	// Day plus: failed expired too.
	now = now.Add(23 * time.Hour)
	rt.sweepExpired()
	_, err = rt.Get("broken")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRuntime_PanickingHandlerFailsJob(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, _ *Job) error {
		panic("boom")
	})
	rt, recorder := setupRuntime(t, handler, Config{})
	rt.Start(context.Background())
	defer rt.Stop()

	require.NoError(t, rt.Submit(context.Background(), envelope("job-1", 2)))
	snap := waitTerminal(t, rt, "job-1")

	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "InternalError", snap.FailureReason)
	assert.Len(t, recorder.byType(events.TypeFailed), 1)
}
