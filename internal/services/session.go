package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/metrics"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
	"github.com/Lllllllleong/ocrdocumentflow/internal/store"
)

// ArtifactSink receives the final outputs of every successful file.
type ArtifactSink interface {
	UploadArtifacts(ctx context.Context, src models.SourceFile, paths []string) error
}

// SessionOptions wires a Session.
type SessionOptions struct {
	// ID defaults to a random uuid.
	ID        string
	Run       config.RunConfig
	Client    ocrclient.JobClient
	Ledger    store.Ledger
	Observers []Observer
	// Sink is optional.
	Sink ArtifactSink
	// CSVPath receives the classification CSV when class extraction is on.
	CSVPath string
}

// Session processes an ordered batch of files on one worker, strictly one
// file at a time and one part at a time.
type Session struct {
	id        string
	run       config.RunConfig
	observers []Observer
	sink      ArtifactSink
	csvPath   string

	splitter   *Splitter
	poller     *Poller
	aggregator *Aggregator
	post       *PostProcessor

	mu            sync.Mutex
	state         models.SessionState
	cancel        context.CancelFunc
	stopRequested bool
	done          chan struct{}
	summary       models.SessionSummary

	rows     []CSVRow
	// reported marks file indexes that already received their result event.
	reported map[int]bool
}

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("session requires a job client")
	}
	flow, err := ocrclient.NewFlow(opts.Run.Flow)
	if err != nil {
		return nil, err
	}
	if opts.Run.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", opts.Run.MaxAttempts)
	}
	client := ocrclient.WithRateLimit(opts.Client, opts.Run.RequestsPerSecond, opts.Run.Burst)

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:         id,
		run:        opts.Run,
		observers:  opts.Observers,
		sink:       opts.Sink,
		csvPath:    opts.CSVPath,
		splitter:   NewSplitter(opts.Run),
		poller:     NewPoller(client, flow, opts.Run, opts.Ledger),
		aggregator: NewAggregator(opts.Run),
		post:       NewPostProcessor(opts.Run),
		state:      models.SessionIdle,
		done:       make(chan struct{}),
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.SessionIdle {
		return nil, nil, fmt.Errorf("session %s already started", s.id)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.stopRequested {
		cancel()
	}
	s.state = models.SessionRunning
	return runCtx, cancel, nil
}

// Start launches the session on its background worker and returns at once.
func (s *Session) Start(ctx context.Context, files []*models.SourceFile) error {
	runCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer close(s.done)
		defer cancel()
		s.execute(runCtx, files)
	}()
	return nil
}

// Run processes files on the calling goroutine.
func (s *Session) Run(ctx context.Context, files []*models.SourceFile) (models.SessionSummary, error) {
	runCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return models.SessionSummary{}, err
	}
	defer close(s.done)
	defer cancel()
	return s.execute(runCtx, files), nil
}

// Stop requests cooperative cancellation. It is idempotent and safe from any
// goroutine; the worker observes it at its next checkpoint.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until the session has ended and returns its summary.
func (s *Session) Wait() models.SessionSummary {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Session) execute(ctx context.Context, files []*models.SourceFile) (summary models.SessionSummary) {
	logCtx := slog.With("sessionId", s.id)
	summary = models.SessionSummary{SessionID: s.id, Total: len(files), StartedAt: time.Now()}
	ws := NewWorkspace(s.run.TempBase)
	s.reported = make(map[int]bool, len(files))
	current := -1

	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Session worker crashed.", "panic", r, "fileIndex", current)
			crash := models.NewError(models.KindFatalSession, models.CodeSessionCrash, fmt.Sprint(r), nil)
			summary.State = models.SessionFatalError
			summary.Err = crash
			s.reportUnfinished(logCtx, files, current, crash, &summary)
		}
		if err := ws.Close(); err != nil {
			logCtx.Warn("Failed to remove session temp dir.", "error", err)
		}
		summary.FinishedAt = time.Now()
		s.end(logCtx, summary)
	}()

	logCtx.Info("Session started.", "fileCount", len(files), "flow", s.run.Flow)
	for i, f := range files {
		if !f.Selected {
			summary.Skipped++
			continue
		}
		f.Status = models.StatusQueued
		s.status(i, f, models.StatusEvent{Stage: models.StageQueued, Label: models.StatusQueued})
	}

	summary.State = models.SessionCompleted
	halted := false
	for i, f := range files {
		if !f.Selected {
			continue
		}
		if halted || ctx.Err() != nil {
			s.notStarted(i, f)
			summary.Interrupted++
			if !halted {
				summary.State = models.SessionCancelled
			}
			continue
		}

		current = i
		outcome, perr := s.processFile(ctx, ws, i, f)
		current = -1
		switch outcome {
		case models.OutcomeSuccess:
			summary.Succeeded++
		case models.OutcomeError:
			summary.Failed++
		case models.OutcomeInterrupted:
			summary.Interrupted++
			summary.State = models.SessionCancelled
		}
		if perr.IsFatal() {
			logCtx.Error("Fatal session error, halting.", "error", perr)
			summary.State = models.SessionFatalError
			summary.Err = perr
			halted = true
		}
	}

	s.writeCSV(logCtx)
	return summary
}

// reportUnfinished gives every selected file without a result event its
// terminal result after a crash: the file being processed ends in error and
// the rest are interrupted.
func (s *Session) reportUnfinished(logCtx *slog.Logger, files []*models.SourceFile, current int, crash *models.PipelineError, summary *models.SessionSummary) {
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Failed to report unfinished files.", "panic", r)
		}
	}()
	for i, f := range files {
		if !f.Selected || s.reported[i] {
			continue
		}
		if i == current {
			s.endEarly(i, f, models.OutcomeError, crash)
			summary.Failed++
			continue
		}
		s.notStarted(i, f)
		summary.Interrupted++
	}
}

func (s *Session) end(logCtx *slog.Logger, summary models.SessionSummary) {
	s.mu.Lock()
	s.state = summary.State
	s.summary = summary
	s.mu.Unlock()

	logCtx.Info("Session finished.",
		"state", summary.State,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"interrupted", summary.Interrupted,
		"duration", summary.FinishedAt.Sub(summary.StartedAt).String(),
	)
	for _, o := range s.observers {
		o.OnSessionEnd(summary)
	}
}

func (s *Session) processFile(ctx context.Context, ws *Workspace, idx int, f *models.SourceFile) (models.FileOutcome, *models.PipelineError) {
	started := time.Now()
	logCtx := slog.With("sessionId", s.id, "file", f.Path, "fileIndex", idx)
	logCtx.Info("Processing file.")
	s.setStatus(idx, f, models.StagePreparing, models.StatusPreparing)

	scope, err := ws.FileScope(idx, f)
	if err != nil {
		perr, ok := models.AsPipelineError(err)
		if !ok {
			perr = models.NewError(models.KindFatalSession, models.CodeSessionTemp, "failed to create file temp dir", err)
		}
		return s.finishFile(logCtx, idx, f, started, nil, "", perr)
	}
	defer func() {
		if err := scope.Close(); err != nil {
			logCtx.Warn("Failed to remove file temp dir.", "error", err)
		}
	}()

	s.setStatus(idx, f, models.StageSplitting, models.StatusSplitting)
	parts, perr := s.splitter.Plan(ctx, f, scope.PartsDir)
	if perr != nil {
		return s.finishFile(logCtx, idx, f, started, nil, "", perr)
	}

	results := make([]models.PartResult, 0, len(parts))
	var lastHandle models.JobHandle
	for _, part := range parts {
		if ctx.Err() != nil {
			perr = models.Interrupted(models.CodeUserInterrupt, "part processing")
			break
		}
		label := models.ProcessingPartLabel(part.Index, len(parts))
		f.Status = label
		s.status(idx, f, models.StatusEvent{Stage: models.StageProcessing, Label: label, Part: part.Index, PartTotal: len(parts)})

		onAttempt := func(attempt, maxAttempts int) {
			label := models.PollingLabel(attempt, maxAttempts)
			f.Status = label
			s.status(idx, f, models.StatusEvent{
				Stage: models.StagePolling, Label: label,
				Part: part.Index, PartTotal: len(parts),
				Attempt: attempt, MaxAttempts: maxAttempts,
			})
		}
		payload, handle, partErr := s.poller.RunToCompletion(ctx, part, onAttempt)
		if handle != "" {
			lastHandle = handle
		}
		pr := models.PartResult{Part: part, Handle: handle, Payload: payload, Err: partErr}
		if partErr == nil {
			if err := StagePartResult(scope.ResultsDir, &pr); err != nil {
				partErr = models.NewError(models.KindAggregation, models.CodeOutputWrite, "failed to stage part result", err)
				pr.Err = partErr
			}
		}
		results = append(results, pr)
		if partErr != nil {
			logCtx.Warn("Part did not succeed.", "part", part.Index, "error", partErr)
			perr = partErr
			break
		}
	}
	// Once every part succeeded, a stop seen here still wins; once
	// aggregation starts it runs to completion.
	if perr == nil && ctx.Err() != nil {
		perr = models.Interrupted(models.CodeUserInterrupt, "aggregation")
	}

	allSucceeded := perr == nil
	if allSucceeded {
		s.setStatus(idx, f, models.StageAggregating, models.StatusAggregating)
	}
	result, aggErr := s.aggregator.Aggregate(f, results, allSucceeded, scope.Dir)
	if aggErr != nil {
		perr = aggErr
	}
	if perr != nil {
		return s.finishFile(logCtx, idx, f, started, result, lastHandle, perr)
	}

	f.EngineStatus = models.EngineStatusDone
	f.JSONStatus = result.JSONStatus
	f.SearchablePDFStatus = result.SearchablePDFStatus
	s.upload(ctx, logCtx, f, result)
	s.collectRow(logCtx, f, results)
	return s.finishFile(logCtx, idx, f, started, result, lastHandle, nil)
}

// finishFile emits exactly one terminal status and result event for f.
func (s *Session) finishFile(logCtx *slog.Logger, idx int, f *models.SourceFile, started time.Time,
	result *models.AggregatedResult, handle models.JobHandle, perr *models.PipelineError) (models.FileOutcome, *models.PipelineError) {

	outcome, stage, label := models.OutcomeSuccess, models.StageCompleted, models.StatusCompleted
	switch {
	case perr.IsInterrupt():
		outcome, stage, label = models.OutcomeInterrupted, models.StageInterrupted, models.StatusInterrupted
		f.JSONStatus = models.StatusInterrupted
	case perr != nil:
		outcome, stage, label = models.OutcomeError, models.StageError, models.StatusError
		f.JSONStatus = models.StatusError
	}

	if perr != nil {
		f.ResultSummary = fmt.Sprintf("%s: %s", perr.Code, perr.Message)
	} else {
		f.ResultSummary = outputSummary(result)
	}

	if !perr.IsFatal() && s.post.Wants(outcome) {
		s.setStatus(idx, f, models.StageMoving, models.StatusMoving)
		dest, err := s.post.Move(f, outcome)
		if err != nil {
			logCtx.Warn("Post-processing move failed.", "error", err)
		} else if dest != "" {
			logCtx.Info("Moved source file.", "destination", dest)
		}
	}

	f.Status = label
	s.status(idx, f, models.StatusEvent{Stage: stage, Label: label})

	event := models.FileResultEvent{
		FileIndex:  idx,
		FilePath:   f.Path,
		Outcome:    outcome,
		Result:     result,
		Err:        perr,
		JSONStatus: f.JSONStatus,
		File:       f.Snapshot(),
	}
	if handle != "" {
		h := handle
		event.JobHandle = &h
	}
	s.emitResult(event)

	elapsed := time.Since(started)
	metrics.CaptureFileOutcome(string(outcome), elapsed)
	if perr != nil {
		logCtx.Warn("File finished without success.", "outcome", outcome, "code", perr.Code, "error", perr)
	} else {
		logCtx.Info("File finished.", "outcome", outcome, "duration", elapsed.String())
	}
	return outcome, perr
}

// notStarted ends a file that was never started because the session stopped.
func (s *Session) notStarted(idx int, f *models.SourceFile) {
	s.endEarly(idx, f, models.OutcomeInterrupted, models.Interrupted(models.CodeUserInterrupt, "queue"))
}

// endEarly emits the terminal status and result of a file without running
// the rest of its pipeline. The source is never moved.
func (s *Session) endEarly(idx int, f *models.SourceFile, outcome models.FileOutcome, perr *models.PipelineError) {
	stage, label := models.StageInterrupted, models.StatusInterrupted
	if outcome == models.OutcomeError {
		stage, label = models.StageError, models.StatusError
	}
	f.Status = label
	f.JSONStatus = label
	f.ResultSummary = fmt.Sprintf("%s: %s", perr.Code, perr.Message)
	s.status(idx, f, models.StatusEvent{Stage: stage, Label: label})
	s.emitResult(models.FileResultEvent{
		FileIndex:  idx,
		FilePath:   f.Path,
		Outcome:    outcome,
		Err:        perr,
		JSONStatus: f.JSONStatus,
		File:       f.Snapshot(),
	})
}

func (s *Session) emitResult(event models.FileResultEvent) {
	s.reported[event.FileIndex] = true
	for _, o := range s.observers {
		o.OnFileResult(event)
	}
}

func (s *Session) setStatus(idx int, f *models.SourceFile, stage models.Stage, label string) {
	f.Status = label
	s.status(idx, f, models.StatusEvent{Stage: stage, Label: label})
}

func (s *Session) status(idx int, f *models.SourceFile, ev models.StatusEvent) {
	ev.FileIndex = idx
	ev.FilePath = f.Path
	ev.File = f.Snapshot()
	ev.At = time.Now()
	for _, o := range s.observers {
		o.OnStatus(ev)
	}
}

func (s *Session) upload(ctx context.Context, logCtx *slog.Logger, f *models.SourceFile, result *models.AggregatedResult) {
	if s.sink == nil {
		return
	}
	paths := append([]string(nil), result.OutputJSON...)
	if result.OutputPDF != "" {
		paths = append(paths, result.OutputPDF)
	}
	if len(paths) == 0 {
		return
	}
	if err := s.sink.UploadArtifacts(context.WithoutCancel(ctx), f.Snapshot(), paths); err != nil {
		logCtx.Warn("Artifact upload failed.", "error", err)
	}
}

func (s *Session) collectRow(logCtx *slog.Logger, f *models.SourceFile, results []models.PartResult) {
	if s.csvPath == "" || !s.run.Options.ExtractClasses {
		return
	}
	payloads := make([][]byte, 0, len(results))
	for _, pr := range results {
		if pr.Payload != nil && len(pr.Payload.JSON) > 0 {
			payloads = append(payloads, pr.Payload.JSON)
		}
	}
	fields, err := ExtractFields(payloads...)
	if err != nil {
		logCtx.Warn("Skipping file in classification CSV.", "error", err)
		return
	}
	s.rows = append(s.rows, CSVRow{Filename: f.Name, Fields: fields})
}

func (s *Session) writeCSV(logCtx *slog.Logger) {
	if s.csvPath == "" || len(s.rows) == 0 {
		return
	}
	data, err := ExportCSV(s.run.Options, s.rows)
	if err != nil {
		logCtx.Error("Failed to render classification CSV.", "error", err)
		return
	}
	if _, _, err := WriteWithPolicy(s.csvPath, bytes.NewReader(data), config.CollisionOverwrite); err != nil {
		logCtx.Error("Failed to write classification CSV.", "path", s.csvPath, "error", err)
		return
	}
	logCtx.Info("Wrote classification CSV.", "path", s.csvPath, "rows", len(s.rows))
}

func outputSummary(result *models.AggregatedResult) string {
	if result == nil {
		return ""
	}
	names := make([]string, 0, len(result.OutputJSON)+1)
	for _, p := range result.OutputJSON {
		names = append(names, filepath.Base(p))
	}
	if result.OutputPDF != "" {
		names = append(names, filepath.Base(result.OutputPDF))
	}
	return strings.Join(names, ", ")
}
