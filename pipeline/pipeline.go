// Package pipeline runs one dubbing job end to end: fetch and normalize the
// original audio, separate stems, build speaker references, synthesize the
// translated transcript, mix the result over the accompaniment, upload, and
// mark the transcreation completed.
//
// Stages run sequentially inside a job-private workspace that is released on
// every exit path, including panic and cancellation. Any stage failure marks
// the transcreation failed with a short reason and re-raises to the queue
// runtime, which decides whether to retry.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AltairaLabs/DubKit/jobstore"
	"github.com/AltairaLabs/DubKit/logger"
	metrics "github.com/AltairaLabs/DubKit/metrics/prometheus"
	"github.com/AltairaLabs/DubKit/queue"
	"github.com/AltairaLabs/DubKit/separation"
	"github.com/AltairaLabs/DubKit/storage"
	"github.com/AltairaLabs/DubKit/types"
	"github.com/AltairaLabs/DubKit/workspace"
)

// Stage-end progress percentages. Synthesis interpolates from
// progressSynthesizeBase by completed batch fraction.
const (
	progressFetched        = 10
	progressSeparated      = 25
	progressSynthesizeBase = 40
	progressSynthesizeSpan = 50
	progressCombined       = 80
	progressUploaded       = 95
	progressCompleted      = 100
)

// fetchTimeout bounds the original-audio download.
const fetchTimeout = 5 * time.Minute

// Transcoder converts arbitrary input audio to wav.
type Transcoder interface {
	ToWav(ctx context.Context, input, out string) error
}

// ReferenceBuilder produces per-speaker voice reference clips from the
// vocals stem.
type ReferenceBuilder interface {
	Build(ctx context.Context, ws *workspace.Workspace, vocalsPath string,
		segments []types.TranscriptSegment) (map[string]string, error)
}

// Synthesizer renders the transcript's synthesis requests to audio files.
type Synthesizer interface {
	Batch(ctx context.Context, requests []types.TTSRequest, targetLanguage string,
		outPathFor func(i int) string, onChunk func(done, total int)) ([]string, error)
}

// Combiner mixes synthesized speech over the accompaniment stem.
type Combiner interface {
	Combine(ctx context.Context, ws *workspace.Workspace, backgroundPath string,
		speechPaths []string, segments []types.TranscriptSegment) (string, error)
}

// Config wires the pipeline's collaborators.
type Config struct {
	Transcoder  Transcoder
	Separator   separation.Engine
	References  ReferenceBuilder
	Synthesizer Synthesizer
	Combiner    Combiner
	Blobs       storage.Store
	Statuses    jobstore.Store

	// TempRoot hosts job workspaces. Empty means the system temp dir.
	TempRoot string

	// Tracer records one span per stage. Nil disables tracing.
	Tracer trace.Tracer

	// HTTPClient fetches http(s) original audio. Nil gets a default client
	// with the fetch timeout.
	HTTPClient *http.Client
}

// Pipeline executes dubbing jobs. It implements queue.Handler.
type Pipeline struct {
	config Config
	tracer trace.Tracer
	client *http.Client
}

// New creates a Pipeline from config.
func New(config Config) *Pipeline {
	tracer := config.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Pipeline{config: config, tracer: tracer, client: client}
}

// run carries the state threaded through one job's stages.
type run struct {
	job *queue.Job
	env *types.JobEnvelope
	ws  *workspace.Workspace

	originalWav string
	stems       *separation.Result
	references  map[string]string
	speechPaths []string
	mixedPath   string
	finalURL    string
}

// stage is one named step of the job.
type stage struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{"fetch-and-normalize-original", p.fetchAndNormalize},
		{"separate", p.separate},
		{"build-references", p.buildReferences},
		{"synthesize", p.synthesize},
		{"combine", p.combine},
		{"upload", p.upload},
		{"mark-completed", p.markCompleted},
	}
}

// Execute runs every stage for one job. The workspace is released on every
// exit path; failures mark the transcreation failed before re-raising.
func (p *Pipeline) Execute(ctx context.Context, job *queue.Job) (err error) {
	env := job.Envelope
	ws, err := workspace.New(p.config.TempRoot, "dub-"+env.JobID)
	if err != nil {
		p.markFailed(env.TranscreationID, err)
		return err
	}

	r := &run{job: job, env: env, ws: ws}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
		ws.Release()
		if err != nil {
			p.markFailed(env.TranscreationID, err)
		}
	}()

	for _, st := range p.stages() {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = p.runStage(ctx, st, r); err != nil {
			return fmt.Errorf("stage %s: %w", st.name, err)
		}
	}
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, st stage, r *run) error {
	start := time.Now()
	stageCtx, span := p.tracer.Start(ctx, st.name, trace.WithAttributes(
		attribute.String("job.id", r.env.JobID),
		attribute.String("transcreation.id", r.env.TranscreationID),
	))
	defer span.End()

	err := st.fn(stageCtx, r)
	metrics.RecordStageDuration(st.name, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	logger.Debug("Stage completed",
		"job_id", r.env.JobID, "stage", st.name, "elapsed", time.Since(start))
	return nil
}

func (p *Pipeline) fetchAndNormalize(ctx context.Context, r *run) error {
	fetched, err := p.fetchOriginal(ctx, r.ws, r.env.OriginalAudioURL)
	if err != nil {
		return err
	}

	out := r.ws.Path("original", ".wav")
	if err := p.config.Transcoder.ToWav(ctx, fetched, out); err != nil {
		return err
	}
	r.originalWav = out
	r.job.UpdateProgress(progressFetched, "Fetched and normalized original audio")
	return nil
}

func (p *Pipeline) separate(ctx context.Context, r *run) error {
	stemsDir, err := r.ws.Dir("stems")
	if err != nil {
		return err
	}
	stems, err := p.config.Separator.Separate(ctx, r.originalWav, stemsDir)
	if err != nil {
		return err
	}
	r.stems = stems
	r.job.UpdateProgress(progressSeparated, "Separated vocals from background")
	return nil
}

func (p *Pipeline) buildReferences(ctx context.Context, r *run) error {
	refs, err := p.config.References.Build(ctx, r.ws, r.stems.VocalsPath, r.env.Segments)
	if err != nil {
		return err
	}
	r.references = refs
	r.job.UpdateProgress(progressSynthesizeBase, "Built speaker voice references")
	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, r *run) error {
	speechDir, err := r.ws.Dir("speech")
	if err != nil {
		return err
	}

	requests := make([]types.TTSRequest, len(r.env.TTSRequests))
	copy(requests, r.env.TTSRequests)
	for i := range requests {
		idx := requests[i].SegmentIndex
		if idx < 0 || idx >= len(r.env.Segments) {
			continue
		}
		seg := r.env.Segments[idx]
		if seg.WantsClone() {
			requests[i].ReferencePath = r.references[seg.Speaker]
		}
	}

	paths, err := p.config.Synthesizer.Batch(ctx, requests, r.env.TargetLanguage,
		func(i int) string {
			return fmt.Sprintf("%s/seg-%04d.wav", speechDir, i)
		},
		func(done, total int) {
			percent := progressSynthesizeBase + progressSynthesizeSpan*done/total
			r.job.UpdateProgress(percent, "Generating translated speech")
		})
	if err != nil {
		return err
	}
	r.speechPaths = paths
	return nil
}

func (p *Pipeline) combine(ctx context.Context, r *run) error {
	mixed, err := p.config.Combiner.Combine(ctx, r.ws,
		r.stems.AccompanimentPath, r.speechPaths, r.env.Segments)
	if err != nil {
		return err
	}
	r.mixedPath = mixed
	r.job.UpdateProgress(progressCombined, "Combined speech with background")
	return nil
}

func (p *Pipeline) upload(ctx context.Context, r *run) error {
	key := fmt.Sprintf("transcreations/%s/%s.wav", r.env.TranscreationID, r.env.JobID)
	url, err := p.config.Blobs.Upload(ctx, r.mixedPath, key)
	if err != nil {
		return err
	}
	r.finalURL = url
	r.job.SetResult(url)
	r.job.UpdateProgress(progressUploaded, "Uploaded final audio")
	return nil
}

func (p *Pipeline) markCompleted(ctx context.Context, r *run) error {
	if err := p.config.Statuses.UpsertStatus(ctx, types.JobStatus{
		TranscreationID: r.env.TranscreationID,
		State:           types.StateCompleted,
		FinalAudioURL:   r.finalURL,
	}); err != nil {
		return err
	}
	r.job.UpdateProgress(progressCompleted, "Completed")
	return nil
}

// markFailed records the failure reason on the transcreation's status row.
// The write is best effort: the job's own failure is what gets re-raised.
func (p *Pipeline) markFailed(transcreationID string, cause error) {
	status := types.JobStatus{
		TranscreationID: transcreationID,
		State:           types.StateFailed,
		FailureReason:   types.FailureReason(cause),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.config.Statuses.UpsertStatus(ctx, status); err != nil {
		logger.Error("Failed to record job failure",
			"transcreation_id", transcreationID, "error", err)
	}
}
