package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/DubKit/events"
	"github.com/AltairaLabs/DubKit/jobstore"
	"github.com/AltairaLabs/DubKit/queue"
	"github.com/AltairaLabs/DubKit/separation"
	"github.com/AltairaLabs/DubKit/tts"
	"github.com/AltairaLabs/DubKit/types"
	"github.com/AltairaLabs/DubKit/workspace"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o600))
}

type fakeTranscoder struct {
	err error
}

func (f *fakeTranscoder) ToWav(_ context.Context, _, out string) error {
	if f.err != nil {
		return f.err
	}
	if err := os.WriteFile(out, []byte("wav"), 0o600); err != nil {
		return err
	}
	return nil
}

type fakeSeparator struct {
	mu    sync.Mutex
	calls int
	// failures is consumed one error per call before succeeding.
	failures []error
}

func (f *fakeSeparator) Name() string    { return "fake" }
func (f *fakeSeparator) Available() bool { return true }

func (f *fakeSeparator) Separate(_ context.Context, _, outDir string) (*separation.Result, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.failures) > 0 {
		err = f.failures[0]
		f.failures = f.failures[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	result := &separation.Result{
		VocalsPath:        filepath.Join(outDir, "vocals.wav"),
		AccompanimentPath: filepath.Join(outDir, "accompaniment.wav"),
	}
	for _, p := range []string{result.VocalsPath, result.AccompanimentPath} {
		if err := os.WriteFile(p, []byte("stem"), 0o600); err != nil {
			return nil, err
		}
	}
	return result, nil
}

type fakeReferences struct {
	refs map[string]string
	err  error
}

func (f *fakeReferences) Build(_ context.Context, _ *workspace.Workspace, _ string,
	_ []types.TranscriptSegment) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.refs == nil {
		return map[string]string{}, nil
	}
	return f.refs, nil
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	err      error
	panic    bool
	block    chan struct{}
	requests []types.TTSRequest
}

func (f *fakeSynthesizer) Batch(ctx context.Context, requests []types.TTSRequest, _ string,
	outPathFor func(i int) string, onChunk func(done, total int)) ([]string, error) {
	if f.panic {
		panic("synthesizer exploded")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.requests = append([]types.TTSRequest(nil), requests...)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	paths := make([]string, len(requests))
	for i := range requests {
		paths[i] = outPathFor(i)
		if err := os.WriteFile(paths[i], []byte("speech"), 0o600); err != nil {
			return nil, err
		}
	}
	if onChunk != nil {
		onChunk(1, 1)
	}
	return paths, nil
}

type fakeCombiner struct {
	err error
}

func (f *fakeCombiner) Combine(_ context.Context, ws *workspace.Workspace, _ string,
	speechPaths []string, _ []types.TranscriptSegment) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	out := ws.Path("final", ".wav")
	if err := os.WriteFile(out, []byte("mixed"), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

type fakeBlobs struct {
	err      error
	uploaded []string
}

func (f *fakeBlobs) Name() string { return "fake" }

func (f *fakeBlobs) Upload(_ context.Context, localPath, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if err := workspace.Verify(localPath); err != nil {
		return "", err
	}
	f.uploaded = append(f.uploaded, key)
	return "https://blobs.example.com/" + key, nil
}

// harness bundles the pipeline with a real queue runtime and fake
// collaborators.
type harness struct {
	pipeline *Pipeline
	runtime  *queue.Runtime
	store    jobstore.Store
	bus      *events.Bus
	tempRoot string

	transcoder  *fakeTranscoder
	separator   *fakeSeparator
	references  *fakeReferences
	synthesizer *fakeSynthesizer
	combiner    *fakeCombiner
	blobs       *fakeBlobs

	events *eventRecorder
}

type eventRecorder struct {
	mu       sync.Mutex
	byType   map[events.Type]int
	progress []int
}

func (r *eventRecorder) handle(event *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[event.Type]++
	if event.Type == events.TypeProgress {
		r.progress = append(r.progress, event.Snapshot.Progress)
	}
}

func (r *eventRecorder) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byType[t]
}

func (r *eventRecorder) progressValues() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.progress...)
}

func setupHarness(t *testing.T, queueConfig queue.Config) *harness {
	t.Helper()
	h := &harness{
		store:       jobstore.NewMemoryStore(),
		bus:         events.NewBus(),
		tempRoot:    t.TempDir(),
		transcoder:  &fakeTranscoder{},
		separator:   &fakeSeparator{},
		references:  &fakeReferences{refs: map[string]string{"host": "/refs/host.wav"}},
		synthesizer: &fakeSynthesizer{},
		combiner:    &fakeCombiner{},
		blobs:       &fakeBlobs{},
		events:      &eventRecorder{byType: make(map[events.Type]int)},
	}
	h.bus.SubscribeAll(h.events.handle)

	h.pipeline = New(Config{
		Transcoder:  h.transcoder,
		Separator:   h.separator,
		References:  h.references,
		Synthesizer: h.synthesizer,
		Combiner:    h.combiner,
		Blobs:       h.blobs,
		Statuses:    h.store,
		TempRoot:    h.tempRoot,
	})

	h.runtime = queue.NewRuntime(queue.NewMemoryBackend(), h.pipeline, h.bus, queueConfig)
	return h
}

func (h *harness) envelope(t *testing.T) *types.JobEnvelope {
	t.Helper()
	original := filepath.Join(h.tempRoot, "source", "original.mp3")
	writeFile(t, original)

	segments := []types.TranscriptSegment{
		{StartMs: 0, EndMs: 1500, Text: "Hola a todos", Speaker: "host", Voice: types.VoiceClone},
		{StartMs: 1600, EndMs: 3000, Text: "Bienvenidos", Speaker: "guest"},
	}
	return &types.JobEnvelope{
		JobID:            "job-1",
		TranscreationID:  "tc-1",
		OriginalAudioURL: "file://" + original,
		TargetLanguage:   "es-MX",
		Priority:         2,
		Segments:         segments,
		TTSRequests: []types.TTSRequest{
			{SegmentIndex: 0, Text: "Hola a todos", Voice: types.VoiceClone, Language: "es-MX", Format: "wav"},
			{SegmentIndex: 1, Text: "Bienvenidos", Language: "es-MX", Format: "wav"},
		},
	}
}

func waitTerminal(t *testing.T, rt *queue.Runtime, jobID string) types.JobSnapshot {
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

// workspaceDirs lists job workspace directories left under tempRoot,
// ignoring the fixture source dir.
func (h *harness) workspaceDirs(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.tempRoot)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "source" {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs
}

func TestPipeline_CompletesJob(t *testing.T) {
	h := setupHarness(t, queue.Config{WorkerConcurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	require.NoError(t, h.runtime.Submit(ctx, env))
	snap := waitTerminal(t, h.runtime, env.JobID)

	assert.Equal(t, types.StateCompleted, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, "https://blobs.example.com/transcreations/tc-1/job-1.wav", snap.Result)

	status, err := h.store.GetStatus(ctx, "tc-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, status.State)
	assert.Equal(t, snap.Result, status.FinalAudioURL)

	// One terminal event, monotonic progress.
	assert.Equal(t, 1, h.events.count(events.TypeCompleted))
	assert.Equal(t, 0, h.events.count(events.TypeFailed))
	progress := h.events.progressValues()
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress must be monotonic: %v", progress)
	}

	assert.Empty(t, h.workspaceDirs(t), "workspace must be released")
	assert.Equal(t, []string{"transcreations/tc-1/job-1.wav"}, h.blobs.uploaded)
}

func TestPipeline_CloneRequestsGetReferencePaths(t *testing.T) {
	h := setupHarness(t, queue.Config{WorkerConcurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	require.NoError(t, h.runtime.Submit(ctx, env))
	waitTerminal(t, h.runtime, env.JobID)

	h.synthesizer.mu.Lock()
	defer h.synthesizer.mu.Unlock()
	require.Len(t, h.synthesizer.requests, 2)
	assert.Equal(t, "/refs/host.wav", h.synthesizer.requests[0].ReferencePath)
	assert.Empty(t, h.synthesizer.requests[1].ReferencePath)
}

func TestPipeline_RetryableSeparationFailureRecovers(t *testing.T) {
	h := setupHarness(t, queue.Config{WorkerConcurrency: 1, BackoffBase: time.Millisecond})
	h.separator.failures = []error{
		&types.ExternalToolError{Component: "separator", Err: errors.New("exit 137")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	require.NoError(t, h.runtime.Submit(ctx, env))
	snap := waitTerminal(t, h.runtime, env.JobID)

	assert.Equal(t, types.StateCompleted, snap.State)
	h.separator.mu.Lock()
	assert.Equal(t, 2, h.separator.calls)
	h.separator.mu.Unlock()
	assert.Equal(t, 1, h.events.count(events.TypeCompleted))
	assert.Empty(t, h.workspaceDirs(t))
}

func TestPipeline_TerminalSynthesisFailure(t *testing.T) {
	h := setupHarness(t, queue.Config{WorkerConcurrency: 1, BackoffBase: time.Millisecond})
	h.synthesizer.err = tts.NewSynthesisError("xtts", 0, 400, "bad language", nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	require.NoError(t, h.runtime.Submit(ctx, env))
	snap := waitTerminal(t, h.runtime, env.JobID)

	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "TTSFailed", snap.FailureReason)
	assert.Equal(t, 1, h.events.count(events.TypeFailed))

	status, err := h.store.GetStatus(context.Background(), "tc-1")
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, status.State)
	assert.Equal(t, "TTSFailed", status.FailureReason)
	assert.Empty(t, h.workspaceDirs(t), "workspace must be released on failure")
}

func TestPipeline_ExhaustedRetriesFail(t *testing.T) {
	h := setupHarness(t, queue.Config{
		WorkerConcurrency: 1, MaxAttempts: 2, BackoffBase: time.Millisecond,
	})
	h.separator.failures = []error{
		&types.TimeoutError{Component: "separator", Err: context.DeadlineExceeded},
		&types.TimeoutError{Component: "separator", Err: context.DeadlineExceeded},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	require.NoError(t, h.runtime.Submit(ctx, env))
	snap := waitTerminal(t, h.runtime, env.JobID)

	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "Timeout: separator", snap.FailureReason)
	assert.Empty(t, h.workspaceDirs(t))
}

func TestPipeline_CancelDuringSynthesis(t *testing.T) {
	h := setupHarness(t, queue.Config{WorkerConcurrency: 1})
	h.synthesizer.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	require.NoError(t, h.runtime.Submit(ctx, env))

	require.Eventually(t, func() bool {
		snap, err := h.runtime.Get(env.JobID)
		return err == nil && snap.State == types.StateProcessing
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.runtime.Cancel(env.JobID))
	snap := waitTerminal(t, h.runtime, env.JobID)

	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "Cancelled", snap.FailureReason)
	assert.Empty(t, h.workspaceDirs(t), "workspace must be released on cancel")
}

func TestPipeline_PanicReleasesWorkspace(t *testing.T) {
	h := setupHarness(t, queue.Config{WorkerConcurrency: 1, BackoffBase: time.Millisecond})
	h.synthesizer.panic = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	require.NoError(t, h.runtime.Submit(ctx, env))
	snap := waitTerminal(t, h.runtime, env.JobID)

	assert.Equal(t, types.StateFailed, snap.State)
	assert.Equal(t, "InternalError", snap.FailureReason)
	assert.Empty(t, h.workspaceDirs(t), "workspace must be released on panic")
}

func TestPipeline_WorkspaceReleasedOnEveryFailingStage(t *testing.T) {
	inject := []struct {
		name  string
		apply func(h *harness)
	}{
		{"fetch", func(h *harness) { h.transcoder.err = errors.New("bad container") }},
		{"separate", func(h *harness) {
			h.separator.failures = []error{errors.New("no stems")}
		}},
		{"references", func(h *harness) { h.references.err = errors.New("no usable audio") }},
		{"combine", func(h *harness) { h.combiner.err = errors.New("mix failed") }},
		{"upload", func(h *harness) {
			h.blobs.err = &types.UploadError{Key: "k", Err: errors.New("denied")}
		}},
	}
	for _, tc := range inject {
		t.Run(tc.name, func(t *testing.T) {
			h := setupHarness(t, queue.Config{
				WorkerConcurrency: 1, MaxAttempts: 1, BackoffBase: time.Millisecond,
			})
			tc.apply(h)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h.runtime.Start(ctx)
			defer h.runtime.Stop()

			env := h.envelope(t)
			require.NoError(t, h.runtime.Submit(ctx, env))
			snap := waitTerminal(t, h.runtime, env.JobID)

			assert.Equal(t, types.StateFailed, snap.State)
			assert.Empty(t, h.workspaceDirs(t), "workspace must be released")
		})
	}
}

func TestDownloadExt(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/audio/original.mp3", ".mp3"},
		{"https://cdn.example.com/audio/original.WAV?sig=abc", ".wav"},
		{"https://cdn.example.com/audio/original", ".bin"},
		{"://bad", ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, downloadExt(tt.url), tt.url)
	}
}

func TestPipeline_FetchesHTTPOriginal(t *testing.T) {
	h := setupHarness(t, queue.Config{WorkerConcurrency: 1})

	server := newAudioServer(t)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.runtime.Start(ctx)
	defer h.runtime.Stop()

	env := h.envelope(t)
	env.OriginalAudioURL = server.URL + "/original.mp3"
	require.NoError(t, h.runtime.Submit(ctx, env))
	snap := waitTerminal(t, h.runtime, env.JobID)

	assert.Equal(t, types.StateCompleted, snap.State)
	assert.Empty(t, h.workspaceDirs(t))
}

func newAudioServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("compressed audio"))
	}))
}
