package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/AltairaLabs/DubKit/logger"
)

// Load builds the effective configuration. When path is empty only defaults
// and environment variables apply; otherwise the manifest at path is layered
// between them.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path is operator-provided
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns the defaults with environment overrides applied. It is the
// Load("") variant that skips validation, used by tests and the doctor
// command which wants to report problems rather than refuse to start.
func FromEnv() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// applyEnv overlays environment variables onto cfg. Unset variables leave
// the current value untouched; unparsable numeric values are logged and
// skipped rather than failing startup.
func applyEnv(cfg *Config) {
	envString("HTTP_ADDR", &cfg.Spec.Server.Addr)

	envString("TTS_API_KEY", &cfg.Spec.TTS.APIKey)
	envString("TTS_BASE_URL", &cfg.Spec.TTS.BaseURL)
	envInt("TTS_MAX_CONCURRENCY", &cfg.Spec.TTS.MaxConcurrency)
	envInt64("TTS_TIMEOUT_MS", &cfg.Spec.TTS.TimeoutMs)
	envString("TTS_DEFAULT_VOICE", &cfg.Spec.TTS.DefaultVoice)

	envString("QUEUE_BACKEND", &cfg.Spec.Queue.Backend)
	envInt("QUEUE_WORKER_CONCURRENCY", &cfg.Spec.Queue.WorkerConcurrency)
	envInt("QUEUE_MAX_ATTEMPTS", &cfg.Spec.Queue.MaxAttempts)

	envString("TEMP_ROOT", &cfg.Spec.Media.TempRoot)
	envFloat("STRETCH_MIN", &cfg.Spec.Media.StretchMin)
	envFloat("STRETCH_MAX", &cfg.Spec.Media.StretchMax)
	envBool("LOUDNORM_TWO_PASS", &cfg.Spec.Media.LoudnormTwoPass)
	envInt64("WORKSPACE_MAX_AGE_MS", &cfg.Spec.Media.WorkspaceMaxAgeMs)

	envFloat("BG_WEIGHT", &cfg.Spec.Mix.BackgroundWeight)
	envFloat("SPEECH_WEIGHT", &cfg.Spec.Mix.SpeechWeight)
	envFloat("TARGET_LUFS", &cfg.Spec.Mix.TargetLUFS)
	envFloat("TRUE_PEAK_DB", &cfg.Spec.Mix.TruePeakDb)
	envFloat("LRA", &cfg.Spec.Mix.LoudnessRange)
	envInt64("MIN_SEGMENT_GAP_MS", &cfg.Spec.Mix.MinSegmentGapMs)
	envInt64("MIN_SEGMENT_MS", &cfg.Spec.Mix.MinSegmentMs)

	envString("SEPARATOR_CMD", &cfg.Spec.Separator.Command)

	envString("BLOB_BACKEND", &cfg.Spec.Storage.Backend)
	envString("BUCKET_NAME", &cfg.Spec.Storage.Bucket)

	envString("REDIS_ADDR", &cfg.Spec.Redis.Addr)
	envString("DATABASE_URL", &cfg.Spec.Database.URL)

	envString("LOG_LEVEL", &cfg.Spec.Logging.Level)

	if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
		cfg.Spec.Telemetry.OTLPEndpoint = endpoint
		cfg.Spec.Telemetry.Enabled = true
	}
}

// LoggingConfig adapts the logging spec for logger.Configure.
func (c *Config) LoggingConfig() *logger.LoggingConfigSpec {
	return &logger.LoggingConfigSpec{
		Level:        c.Spec.Logging.Level,
		Format:       c.Spec.Logging.Format,
		CommonFields: c.Spec.Logging.CommonFields,
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("Ignoring unparsable environment variable", "key", key, "value", v)
		return
	}
	*dst = n
}

func envInt64(key string, dst *int64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warn("Ignoring unparsable environment variable", "key", key, "value", v)
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("Ignoring unparsable environment variable", "key", key, "value", v)
		return
	}
	*dst = f
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("Ignoring unparsable environment variable", "key", key, "value", v)
		return
	}
	*dst = b
}
