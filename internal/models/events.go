package models

import (
	"fmt"
	"time"
)

// Human-readable status labels shown next to each file.
const (
	StatusQueued      = "待機中"
	StatusPreparing   = "準備中"
	StatusSplitting   = "分割中"
	StatusAggregating = "結果保存中"
	StatusMoving      = "移動中"
	StatusCompleted   = "完了"
	StatusError       = "エラー"
	StatusInterrupted = "中断"

	JSONStatusSuccess     = "JSON成功"
	JSONStatusNotRequired = "対象外"
	JSONStatusSkipped     = "既存のためスキップ"
	PDFStatusSuccess      = "PDF成功"
	EngineStatusDone      = "OCR完了"
)

// ProcessingPartLabel renders "processing part i of n".
func ProcessingPartLabel(i, n int) string {
	return fmt.Sprintf("処理中 (%d/%d)", i, n)
}

// PollingLabel renders "polling attempt k of max".
func PollingLabel(k, max int) string {
	return fmt.Sprintf("ポーリング中 (%d/%d)", k, max)
}

// PartJSONStatus renders the status for a split file whose N part JSONs were written.
func PartJSONStatus(n int) string {
	return fmt.Sprintf("%d個の部品JSON成功", n)
}

// Stage identifies a pipeline transition for a single file.
type Stage string

const (
	StageQueued      Stage = "queued"
	StagePreparing   Stage = "preparing"
	StageSplitting   Stage = "splitting"
	StageProcessing  Stage = "processing_part"
	StagePolling     Stage = "polling"
	StageAggregating Stage = "aggregating"
	StageMoving      Stage = "moving"
	StageCompleted   Stage = "completed"
	StageError       Stage = "error"
	StageInterrupted Stage = "interrupted"
)

// StatusEvent is emitted after every meaningful transition of a file.
type StatusEvent struct {
	FileIndex   int
	FilePath    string
	Stage       Stage
	Label       string
	Part        int
	PartTotal   int
	Attempt     int
	MaxAttempts int
	File        SourceFile
	At          time.Time
}

// FileOutcome is the terminal state of a file; every file ends in exactly one.
type FileOutcome string

const (
	OutcomeSuccess     FileOutcome = "success"
	OutcomeError       FileOutcome = "error"
	OutcomeInterrupted FileOutcome = "interrupted"
)

// FileResultEvent is the terminal per-file event.
type FileResultEvent struct {
	FileIndex  int
	FilePath   string
	Outcome    FileOutcome
	Result     *AggregatedResult
	Err        *PipelineError
	JSONStatus string
	JobHandle  *JobHandle
	File       SourceFile
}

// SessionState is the run-level state machine.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionRunning    SessionState = "running"
	SessionCompleted  SessionState = "completed"
	SessionCancelled  SessionState = "cancelled"
	SessionFatalError SessionState = "fatal_error"
)

// SessionSummary is reported when a session ends.
type SessionSummary struct {
	SessionID   string
	State       SessionState
	Total       int
	Succeeded   int
	Failed      int
	Interrupted int
	Skipped     int
	Err         *PipelineError
	StartedAt   time.Time
	FinishedAt  time.Time
}
