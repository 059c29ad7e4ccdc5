package config

import "time"

const bytesPerMB = 1024 * 1024

// RunConfig is the snapshot a session works from. It is resolved once when
// the session starts and never mutated afterwards.
type RunConfig struct {
	MaxUploadBytes  int64
	AutoSplit       bool
	ChunkSizeBytes  int64
	SplitByPages    bool
	MaxPagesPerPart int

	Flow                  FlowKind
	PollInterval          time.Duration
	MaxAttempts           int
	DeleteAfterProcessing bool
	RequestsPerSecond     float64
	Burst                 int
	Options               FlowOptions

	ResultsFolder string
	Format        OutputFormat
	Collision     CollisionPolicy

	MoveOnSuccess bool
	MoveOnFailure bool
	SuccessFolder string
	FailureFolder string

	TempBase string
}

// Snapshot resolves the run configuration, filling flow-specific defaults.
func (c *Config) Snapshot() RunConfig {
	attempts := c.Flow.MaxAttempts
	if attempts == 0 {
		attempts = DefaultReceptionMaxAttempts
		if c.Flow.Kind == FlowUnit {
			attempts = DefaultUnitMaxAttempts
		}
	}
	return RunConfig{
		MaxUploadBytes:        int64(c.Upload.MaxUploadMB * bytesPerMB),
		AutoSplit:             c.Upload.AutoSplit,
		ChunkSizeBytes:        int64(c.Upload.ChunkSizeMB * bytesPerMB),
		SplitByPages:          c.Upload.SplitByPages,
		MaxPagesPerPart:       c.Upload.MaxPagesPerPart,
		Flow:                  c.Flow.Kind,
		PollInterval:          c.Flow.PollInterval,
		MaxAttempts:           attempts,
		DeleteAfterProcessing: c.Flow.DeleteAfterProcessing,
		RequestsPerSecond:     c.Flow.RequestsPerSecond,
		Burst:                 c.Flow.Burst,
		Options:               c.Flow.Options,
		ResultsFolder:         c.Output.ResultsFolder,
		Format:                c.Output.Format,
		Collision:             c.Output.Collision,
		MoveOnSuccess:         c.PostProcess.MoveOnSuccess,
		MoveOnFailure:         c.PostProcess.MoveOnFailure,
		SuccessFolder:         c.PostProcess.SuccessFolder,
		FailureFolder:         c.PostProcess.FailureFolder,
		TempBase:              c.Workspace.TempBase,
	}
}

// WantsJSON reports whether JSON artifacts are produced.
func (r RunConfig) WantsJSON() bool {
	return r.Format == FormatJSONOnly || r.Format == FormatBoth
}

// WantsPDF reports whether searchable-PDF artifacts are produced.
func (r RunConfig) WantsPDF() bool {
	return r.Format == FormatPDFOnly || r.Format == FormatBoth
}
