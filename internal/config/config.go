// Package config loads the YAML configuration for ocrflow and resolves the
// read-only per-run snapshot the pipeline works from.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FlowKind selects the remote job protocol variant.
type FlowKind string

const (
	// FlowReception submits and receives a reception id; status codes 2/3 are terminal.
	FlowReception FlowKind = "reception"
	// FlowUnit submits and receives a unit id; processing status 300/400 are terminal.
	FlowUnit FlowKind = "unit"
)

// OutputFormat selects which artifacts are produced per file.
type OutputFormat string

const (
	FormatJSONOnly OutputFormat = "json_only"
	FormatPDFOnly  OutputFormat = "pdf_only"
	FormatBoth     OutputFormat = "both"
)

// CollisionPolicy is the rule applied when an output path already exists.
type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionRename    CollisionPolicy = "rename"
	CollisionSkip      CollisionPolicy = "skip"
)

// Default attempt budgets per flow.
const (
	DefaultReceptionMaxAttempts = 60
	DefaultUnitMaxAttempts      = 100
	DefaultPollInterval         = 3 * time.Second
)

// Config holds all configuration for ocrflow.
type Config struct {
	Upload      UploadConfig      `yaml:"upload"`
	Flow        FlowConfig        `yaml:"flow"`
	Output      OutputConfig      `yaml:"output"`
	PostProcess PostProcessConfig `yaml:"post_process"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Store       StoreConfig       `yaml:"store"`
	GCP         GCPConfig         `yaml:"gcp"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// UploadConfig controls splitting of oversized PDFs.
type UploadConfig struct {
	MaxUploadMB     float64 `yaml:"max_upload_mb"`
	AutoSplit       bool    `yaml:"auto_split"`
	ChunkSizeMB     float64 `yaml:"chunk_size_mb"`
	SplitByPages    bool    `yaml:"split_by_pages"`
	MaxPagesPerPart int     `yaml:"max_pages_per_part"`
}

// FlowConfig controls submission and polling.
type FlowConfig struct {
	Kind         FlowKind      `yaml:"kind"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxAttempts of zero selects the flow default.
	MaxAttempts           int         `yaml:"max_attempts"`
	DeleteAfterProcessing bool        `yaml:"delete_after_processing"`
	RequestsPerSecond     float64     `yaml:"requests_per_second"`
	Burst                 int         `yaml:"burst"`
	Options               FlowOptions `yaml:"options"`
}

// FlowOptions is the closed set of options understood by both flows.
type FlowOptions struct {
	Language string `yaml:"language"`
	// Model is the class/value extraction model; empty means plain OCR.
	Model string `yaml:"model"`
	// ExtractClasses requests labeled fields in the result JSON.
	ExtractClasses bool `yaml:"extract_classes"`
}

// OutputConfig controls artifact naming and placement.
type OutputConfig struct {
	ResultsFolder string          `yaml:"results_folder"`
	Format        OutputFormat    `yaml:"format"`
	Collision     CollisionPolicy `yaml:"collision"`
}

// PostProcessConfig controls moving the original after processing.
type PostProcessConfig struct {
	MoveOnSuccess bool   `yaml:"move_on_success"`
	MoveOnFailure bool   `yaml:"move_on_failure"`
	SuccessFolder string `yaml:"success_folder"`
	FailureFolder string `yaml:"failure_folder"`
}

// WorkspaceConfig controls where session temp roots are created.
type WorkspaceConfig struct {
	TempBase string `yaml:"temp_base"`
}

// StoreConfig selects the deletion ledger backend.
type StoreConfig struct {
	Driver string      `yaml:"driver"` // memory or redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// GCPConfig holds the optional Google Cloud integrations.
type GCPConfig struct {
	ProjectID           string `yaml:"project_id"`
	ArtifactBucket      string `yaml:"artifact_bucket"`
	ArtifactPrefix      string `yaml:"artifact_prefix"`
	FirestoreCollection string `yaml:"firestore_collection"`
	WorkflowID          string `yaml:"workflow_id"`
	WorkflowLocation    string `yaml:"workflow_location"`
}

// MetricsConfig holds the Prometheus listener address; empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Upload: UploadConfig{
			MaxUploadMB:     10,
			AutoSplit:       true,
			ChunkSizeMB:     8,
			SplitByPages:    false,
			MaxPagesPerPart: 100,
		},
		Flow: FlowConfig{
			Kind:                  FlowReception,
			PollInterval:          DefaultPollInterval,
			DeleteAfterProcessing: false,
			Burst:                 1,
			Options: FlowOptions{
				Language: "ja",
			},
		},
		Output: OutputConfig{
			ResultsFolder: "ocr_results",
			Format:        FormatJSONOnly,
			Collision:     CollisionRename,
		},
		PostProcess: PostProcessConfig{
			SuccessFolder: "processed",
			FailureFolder: "failed",
		},
		Store: StoreConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
				Key:  "ocrflow:pending-deletions",
			},
		},
		GCP: GCPConfig{
			FirestoreCollection: "ocr_runs",
			WorkflowLocation:    "us-central1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Flow.Kind != FlowReception && c.Flow.Kind != FlowUnit {
		return fmt.Errorf("invalid flow kind: %q", c.Flow.Kind)
	}
	if c.Flow.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if c.Flow.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	if c.Flow.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	switch c.Output.Format {
	case FormatJSONOnly, FormatPDFOnly, FormatBoth:
	default:
		return fmt.Errorf("invalid output format: %q", c.Output.Format)
	}
	switch c.Output.Collision {
	case CollisionOverwrite, CollisionRename, CollisionSkip:
	default:
		return fmt.Errorf("invalid collision policy: %q", c.Output.Collision)
	}
	if c.Output.ResultsFolder == "" {
		return fmt.Errorf("results_folder must be set")
	}
	if c.Upload.AutoSplit {
		if c.Upload.ChunkSizeMB <= 0 {
			return fmt.Errorf("chunk_size_mb must be positive when auto_split is enabled")
		}
		if c.Upload.SplitByPages && c.Upload.MaxPagesPerPart < 1 {
			return fmt.Errorf("max_pages_per_part must be at least 1")
		}
	}
	if c.PostProcess.MoveOnSuccess && c.PostProcess.SuccessFolder == "" {
		return fmt.Errorf("success_folder must be set when move_on_success is enabled")
	}
	if c.PostProcess.MoveOnFailure && c.PostProcess.FailureFolder == "" {
		return fmt.Errorf("failure_folder must be set when move_on_failure is enabled")
	}
	if c.Store.Driver != "memory" && c.Store.Driver != "redis" {
		return fmt.Errorf("invalid store driver: %q", c.Store.Driver)
	}
	return nil
}

// SlogLevel maps the configured level onto slog.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// applyEnvOverrides applies OCRFLOW_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OCRFLOW_FLOW_KIND"); v != "" {
		cfg.Flow.Kind = FlowKind(v)
	}
	if v := os.Getenv("OCRFLOW_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Flow.PollInterval = d
		}
	}
	if v := os.Getenv("OCRFLOW_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Flow.MaxAttempts = n
		}
	}
	if v := os.Getenv("OCRFLOW_OUTPUT_FORMAT"); v != "" {
		cfg.Output.Format = OutputFormat(v)
	}
	if v := os.Getenv("OCRFLOW_COLLISION"); v != "" {
		cfg.Output.Collision = CollisionPolicy(v)
	}
	if v := os.Getenv("OCRFLOW_TEMP_BASE"); v != "" {
		cfg.Workspace.TempBase = v
	}
	if v := os.Getenv("OCRFLOW_REDIS_ADDR"); v != "" {
		cfg.Store.Driver = "redis"
		cfg.Store.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	if v := os.Getenv("OCRFLOW_GCP_PROJECT"); v != "" {
		cfg.GCP.ProjectID = v
	}
	if v := os.Getenv("OCRFLOW_ARTIFACT_BUCKET"); v != "" {
		cfg.GCP.ArtifactBucket = v
	}
	if v := os.Getenv("OCRFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
