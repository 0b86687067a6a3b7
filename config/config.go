// Package config defines the dubkitd server configuration.
//
// Configuration is layered: built-in defaults, then an optional K8s-style
// YAML manifest, then environment variables. Environment always wins so a
// containerized deployment can override any manifest value without editing
// files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Manifest identity constants.
const (
	APIVersion       = "dubkit.altairalabs.ai/v1"
	KindServerConfig = "ServerConfig"
)

// Config represents a YAML server configuration in K8s-style manifest format.
type Config struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   metav1.ObjectMeta `yaml:"metadata,omitempty"`
	Spec       Spec              `yaml:"spec"`
}

// Spec contains the actual server configuration.
type Spec struct {
	Server    ServerSpec    `yaml:"server"`
	TTS       TTSSpec       `yaml:"tts"`
	Queue     QueueSpec     `yaml:"queue"`
	Media     MediaSpec     `yaml:"media"`
	Mix       MixSpec       `yaml:"mix"`
	Separator SeparatorSpec `yaml:"separator"`
	Storage   StorageSpec   `yaml:"storage"`
	Redis     RedisSpec     `yaml:"redis"`
	Database  DatabaseSpec  `yaml:"database"`
	Logging   LoggingSpec   `yaml:"logging"`
	Telemetry TelemetrySpec `yaml:"telemetry"`
}

// ServerSpec configures the HTTP listener.
type ServerSpec struct {
	Addr string `yaml:"addr"`
}

// TTSSpec configures the synthesis vendor client.
type TTSSpec struct {
	BaseURL        string `yaml:"baseUrl"`
	APIKey         string `yaml:"apiKey"`
	MaxConcurrency int    `yaml:"maxConcurrency"`
	TimeoutMs      int64  `yaml:"timeoutMs"`
	// DefaultVoice is the vendor catalog voice used when a segment names
	// none and no reference clip exists for its speaker.
	DefaultVoice string `yaml:"defaultVoice"`
}

// Timeout returns the per-batch synthesis deadline.
func (s TTSSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// QueueSpec configures the job queue runtime.
type QueueSpec struct {
	// Backend selects the queue implementation: "memory" or "redis".
	Backend           string `yaml:"backend"`
	WorkerConcurrency int    `yaml:"workerConcurrency"`
	MaxAttempts       int    `yaml:"maxAttempts"`
}

// MediaSpec configures the external audio toolkit.
type MediaSpec struct {
	TempRoot        string  `yaml:"tempRoot"`
	FFmpegBin       string  `yaml:"ffmpegBin"`
	FFprobeBin      string  `yaml:"ffprobeBin"`
	StretchMin      float64 `yaml:"stretchMin"`
	StretchMax      float64 `yaml:"stretchMax"`
	LoudnormTwoPass bool    `yaml:"loudnormTwoPass"`
	ToolTimeoutMs   int64   `yaml:"toolTimeoutMs"`
	// WorkspaceMaxAgeMs is how old an abandoned workspace directory under
	// TempRoot must be before the janitor removes it.
	WorkspaceMaxAgeMs int64 `yaml:"workspaceMaxAgeMs"`
}

// WorkspaceMaxAge returns the abandoned-workspace age threshold.
func (s MediaSpec) WorkspaceMaxAge() time.Duration {
	return time.Duration(s.WorkspaceMaxAgeMs) * time.Millisecond
}

// ToolTimeout returns the per-invocation deadline for ffmpeg and ffprobe.
func (s MediaSpec) ToolTimeout() time.Duration {
	return time.Duration(s.ToolTimeoutMs) * time.Millisecond
}

// MixSpec configures the final mixdown.
type MixSpec struct {
	BackgroundWeight float64 `yaml:"backgroundWeight"`
	SpeechWeight     float64 `yaml:"speechWeight"`
	TargetLUFS       float64 `yaml:"targetLufs"`
	TruePeakDb       float64 `yaml:"truePeakDb"`
	LoudnessRange    float64 `yaml:"loudnessRange"`
	MinSegmentGapMs  int64   `yaml:"minSegmentGapMs"`
	MinSegmentMs     int64   `yaml:"minSegmentMs"`
	FinalLoudnorm    bool    `yaml:"finalLoudnorm"`
}

// SeparatorSpec configures the vocal separation helper.
type SeparatorSpec struct {
	// Command is the helper invocation template, e.g.
	// "demucs --two-stems=vocals -o {out} {in}".
	Command   string `yaml:"command"`
	TimeoutMs int64  `yaml:"timeoutMs"`
}

// Timeout returns the separation deadline.
func (s SeparatorSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// StorageSpec configures the blob store used for final mixes.
type StorageSpec struct {
	// Backend selects the implementation: "local", "s3" or "azure".
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
	// LocalDir is the root of the local content-addressed store.
	LocalDir string `yaml:"localDir"`
	// AzureAccount is the storage account name for the azure backend.
	AzureAccount string `yaml:"azureAccount"`
}

// RedisSpec configures the Redis connection for the redis queue backend.
type RedisSpec struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// DatabaseSpec configures the job store. An empty URL selects the
// in-memory store.
type DatabaseSpec struct {
	URL string `yaml:"url"`
}

// LoggingSpec configures structured logging.
type LoggingSpec struct {
	Level        string            `yaml:"level"`
	Format       string            `yaml:"format"`
	CommonFields map[string]string `yaml:"commonFields,omitempty"`
}

// TelemetrySpec configures OpenTelemetry trace export.
type TelemetrySpec struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Default returns a Config populated with built-in defaults. Callers layer
// manifest and environment values on top.
func Default() *Config {
	return &Config{
		APIVersion: APIVersion,
		Kind:       KindServerConfig,
		Spec: Spec{
			Server: ServerSpec{
				Addr: ":8080",
			},
			TTS: TTSSpec{
				MaxConcurrency: 5,
				TimeoutMs:      20 * 60 * 1000,
			},
			Queue: QueueSpec{
				Backend:           "memory",
				WorkerConcurrency: 2,
				MaxAttempts:       3,
			},
			Media: MediaSpec{
				TempRoot:          filepath.Join(os.TempDir(), "dubkit"),
				FFmpegBin:         "ffmpeg",
				FFprobeBin:        "ffprobe",
				StretchMin:        0.5,
				StretchMax:        2.0,
				ToolTimeoutMs:     5 * 60 * 1000,
				WorkspaceMaxAgeMs: 24 * 60 * 60 * 1000,
			},
			Mix: MixSpec{
				BackgroundWeight: 0.4,
				SpeechWeight:     1.0,
				TargetLUFS:       -16,
				TruePeakDb:       -1.5,
				LoudnessRange:    11,
				MinSegmentGapMs:  100,
				MinSegmentMs:     100,
				FinalLoudnorm:    true,
			},
			Separator: SeparatorSpec{
				TimeoutMs: 10 * 60 * 1000,
			},
			Storage: StorageSpec{
				Backend:  "local",
				LocalDir: filepath.Join(os.TempDir(), "dubkit-blobs"),
			},
			Logging: LoggingSpec{
				Level:  "info",
				Format: "text",
			},
			Telemetry: TelemetrySpec{
				ServiceName: "dubkitd",
			},
		},
	}
}

// Validate checks the configuration for values that would make the daemon
// misbehave at runtime. It is called after all layers are applied.
func (c *Config) Validate() error {
	if c.APIVersion != "" && c.APIVersion != APIVersion {
		return fmt.Errorf("unsupported apiVersion: expected %s, got %s", APIVersion, c.APIVersion)
	}
	if c.Kind != "" && c.Kind != KindServerConfig {
		return fmt.Errorf("invalid kind: expected %s, got %s", KindServerConfig, c.Kind)
	}
	if c.Spec.TTS.MaxConcurrency < 1 {
		return fmt.Errorf("tts.maxConcurrency must be at least 1, got %d", c.Spec.TTS.MaxConcurrency)
	}
	if c.Spec.TTS.TimeoutMs <= 0 {
		return fmt.Errorf("tts.timeoutMs must be positive, got %d", c.Spec.TTS.TimeoutMs)
	}
	if c.Spec.Queue.WorkerConcurrency < 1 {
		return fmt.Errorf("queue.workerConcurrency must be at least 1, got %d", c.Spec.Queue.WorkerConcurrency)
	}
	if c.Spec.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.maxAttempts must be at least 1, got %d", c.Spec.Queue.MaxAttempts)
	}
	switch c.Spec.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("queue.backend must be memory or redis, got %q", c.Spec.Queue.Backend)
	}
	if c.Spec.Queue.Backend == "redis" && c.Spec.Redis.Addr == "" {
		return fmt.Errorf("queue.backend redis requires redis.addr")
	}
	if c.Spec.Media.StretchMin <= 0 {
		return fmt.Errorf("media.stretchMin must be positive, got %g", c.Spec.Media.StretchMin)
	}
	if c.Spec.Media.StretchMax < c.Spec.Media.StretchMin {
		return fmt.Errorf("media.stretchMax %g below media.stretchMin %g",
			c.Spec.Media.StretchMax, c.Spec.Media.StretchMin)
	}
	switch c.Spec.Storage.Backend {
	case "local", "s3", "azure":
	default:
		return fmt.Errorf("storage.backend must be local, s3 or azure, got %q", c.Spec.Storage.Backend)
	}
	if c.Spec.Storage.Backend == "s3" && c.Spec.Storage.Bucket == "" {
		return fmt.Errorf("storage.backend s3 requires storage.bucket")
	}
	if c.Spec.Storage.Backend == "azure" && c.Spec.Storage.Bucket == "" {
		return fmt.Errorf("storage.backend azure requires storage.bucket (container name)")
	}
	return nil
}
