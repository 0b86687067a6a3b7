package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/DubKit/config"
	"github.com/AltairaLabs/DubKit/events"
	"github.com/AltairaLabs/DubKit/intake"
	"github.com/AltairaLabs/DubKit/jobstore"
	"github.com/AltairaLabs/DubKit/logger"
	"github.com/AltairaLabs/DubKit/media"
	metrics "github.com/AltairaLabs/DubKit/metrics/prometheus"
	"github.com/AltairaLabs/DubKit/mixdown"
	"github.com/AltairaLabs/DubKit/pipeline"
	"github.com/AltairaLabs/DubKit/queue"
	"github.com/AltairaLabs/DubKit/reference"
	"github.com/AltairaLabs/DubKit/separation"
	"github.com/AltairaLabs/DubKit/server"
	"github.com/AltairaLabs/DubKit/status"
	"github.com/AltairaLabs/DubKit/storage"
	"github.com/AltairaLabs/DubKit/telemetry"
	"github.com/AltairaLabs/DubKit/tts"
	"github.com/AltairaLabs/DubKit/version"
	"github.com/AltairaLabs/DubKit/workspace"
)

const (
	shutdownGrace = 30 * time.Second

	// janitorInterval is how often the temp root is swept for workspaces
	// abandoned by crashed processes.
	janitorInterval = time.Hour
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dubbing server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := logger.Configure(cfg.LoggingConfig()); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("DubKit starting", version.GetBuildInfo()...)

	if cfg.Spec.Telemetry.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx,
			cfg.Spec.Telemetry.OTLPEndpoint, cfg.Spec.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		telemetry.SetupPropagation()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	store, err := newJobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	blobs, err := storage.New(ctx, cfg.Spec.Storage)
	if err != nil {
		return err
	}

	backend, err := newQueueBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	toolkit := media.NewToolkit(media.Config{
		FFmpegPath:  cfg.Spec.Media.FFmpegBin,
		FFprobePath: cfg.Spec.Media.FFprobeBin,
		Timeout:     cfg.Spec.Media.ToolTimeout(),
		StretchMin:  cfg.Spec.Media.StretchMin,
		StretchMax:  cfg.Spec.Media.StretchMax,
	})

	warnUnhealthyTools(toolkit.CheckTools(ctx))
	startJanitor(ctx, cfg)

	separator := newSeparator(cfg)

	synthesizer := tts.NewClient(
		tts.NewXTTS(cfg.Spec.TTS.BaseURL, cfg.Spec.TTS.APIKey),
		tts.ClientConfig{
			MaxConcurrency: cfg.Spec.TTS.MaxConcurrency,
			Timeout:        cfg.Spec.TTS.Timeout(),
			DefaultVoice:   cfg.Spec.TTS.DefaultVoice,
		})

	combiner := mixdown.NewCombiner(toolkit, mixdown.Config{
		BackgroundWeight: cfg.Spec.Mix.BackgroundWeight,
		SpeechWeight:     cfg.Spec.Mix.SpeechWeight,
		GapMs:            cfg.Spec.Mix.MinSegmentGapMs,
		MinSegmentMs:     cfg.Spec.Mix.MinSegmentMs,
		StretchMin:       cfg.Spec.Media.StretchMin,
		StretchMax:       cfg.Spec.Media.StretchMax,
		Normalize:        cfg.Spec.Mix.FinalLoudnorm,
		Loudnorm: media.LoudnormTargets{
			IntegratedLUFS: cfg.Spec.Mix.TargetLUFS,
			TruePeakDb:     cfg.Spec.Mix.TruePeakDb,
			LoudnessRange:  cfg.Spec.Mix.LoudnessRange,
		},
		LoudnormTwoPass: cfg.Spec.Media.LoudnormTwoPass,
	})

	bus := events.NewBus()
	bus.SubscribeAll(metrics.NewMetricsListener().Listener())

	handler := pipeline.New(pipeline.Config{
		Transcoder:  toolkit,
		Separator:   separator,
		References:  reference.NewBuilder(toolkit),
		Synthesizer: synthesizer,
		Combiner:    combiner,
		Blobs:       blobs,
		Statuses:    store,
		TempRoot:    cfg.Spec.Media.TempRoot,
		Tracer:      telemetry.Tracer(nil),
	})

	runtime := queue.NewRuntime(backend, handler, bus, queue.Config{
		WorkerConcurrency: cfg.Spec.Queue.WorkerConcurrency,
		MaxAttempts:       cfg.Spec.Queue.MaxAttempts,
	})
	runtime.Start(ctx)
	defer runtime.Stop()

	svc := intake.NewService(store, runtime, nil)
	publisher := status.NewPublisher(runtime, bus)

	exporter := metrics.NewExporter("")
	srv := server.New(cfg.Spec.Server.Addr, svc, runtime, publisher, exporter.Handler())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newJobStore(ctx context.Context, cfg *config.Config) (jobstore.Store, error) {
	if cfg.Spec.Database.URL == "" {
		logger.Warn("No database configured, using in-memory job store")
		return jobstore.NewMemoryStore(), nil
	}
	return jobstore.NewPostgresStore(ctx, cfg.Spec.Database.URL)
}

func newQueueBackend(ctx context.Context, cfg *config.Config) (queue.Backend, error) {
	if cfg.Spec.Queue.Backend == "redis" {
		return queue.NewRedisBackend(ctx,
			cfg.Spec.Redis.Addr, cfg.Spec.Redis.Password, cfg.Spec.Redis.DB)
	}
	return queue.NewMemoryBackend(), nil
}

// warnUnhealthyTools logs every missing or outdated media tool. Startup
// proceeds regardless; the doctor command runs the same checks fatally.
func warnUnhealthyTools(statuses []media.ToolStatus) int {
	unhealthy := 0
	for _, status := range statuses {
		if status.OK() {
			continue
		}
		unhealthy++
		logger.Warn("Media tool check failed, jobs will fail until fixed",
			"tool", status.Name, "error", status.Err)
	}
	return unhealthy
}

// startJanitor sweeps the temp root once at startup, then hourly, until ctx
// ends.
func startJanitor(ctx context.Context, cfg *config.Config) {
	janitor := workspace.NewJanitor(cfg.Spec.Media.TempRoot, cfg.Spec.Media.WorkspaceMaxAge())
	go janitor.Run(ctx, janitorInterval)
}

func newSeparator(cfg *config.Config) separation.Engine {
	command := cfg.Spec.Separator.Command
	if command == "" {
		command = separation.DefaultCommand
	}
	return separation.NewCommandEngine(command,
		separation.WithTimeout(cfg.Spec.Separator.Timeout()))
}
