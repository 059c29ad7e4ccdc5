package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/metrics"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
	"github.com/Lllllllleong/ocrdocumentflow/internal/store"
)

// AttemptFunc is called before every poll with the 1-based attempt number.
type AttemptFunc func(attempt, maxAttempts int)

// Poller drives one part through submit, poll and fetch.
type Poller struct {
	client      ocrclient.JobClient
	flow        ocrclient.JobFlow
	opts        ocrclient.SubmitOptions
	interval    time.Duration
	maxAttempts int
	deleteAfter bool
	ledger      store.Ledger

	// sleep waits between polls and returns early when ctx is done.
	sleep func(ctx context.Context, d time.Duration)
}

func NewPoller(client ocrclient.JobClient, flow ocrclient.JobFlow, run config.RunConfig, ledger store.Ledger) *Poller {
	return &Poller{
		client:      client,
		flow:        flow,
		opts:        ocrclient.OptionsFromRun(run),
		interval:    run.PollInterval,
		maxAttempts: run.MaxAttempts,
		deleteAfter: run.DeleteAfterProcessing,
		ledger:      ledger,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// RunToCompletion submits part and polls until a terminal status, the
// attempt budget is spent, or ctx is cancelled. Remote calls already issued
// are never aborted; cancellation is only observed between calls.
func (p *Poller) RunToCompletion(ctx context.Context, part models.Part, onAttempt AttemptFunc) (*models.ResultPayload, models.JobHandle, *models.PipelineError) {
	logCtx := slog.With("part", part.Name(), "flow", p.flow.Name())
	if ctx.Err() != nil {
		return nil, "", models.Interrupted(models.CodeUserInterrupt, "submission")
	}
	callCtx := context.WithoutCancel(ctx)

	resp, err := p.client.Submit(callCtx, part.Path, p.opts)
	if err != nil {
		code, msg, detail := ocrclient.Normalize(err)
		logCtx.Error("Part submission failed.", "code", code, "error", err)
		metrics.CapturePartOutcome("submit_failed")
		return nil, "", models.NewError(models.KindSubmission, models.CodeSubmitFailed,
			fmt.Sprintf("%s: %s", code, msg), err).WithDetail(detail)
	}
	metrics.IncrementPartsSubmitted()

	outcome := p.flow.InterpretSubmitResponse(resp)
	handle := outcome.Handle
	logCtx = logCtx.With("jobHandle", string(handle))

	switch outcome.Status.State {
	case models.JobSucceeded:
		if outcome.Payload != nil {
			p.finish(callCtx, logCtx, part, handle, models.JobSucceeded)
			return outcome.Payload, handle, nil
		}
	case models.JobFailed:
		p.finish(callCtx, logCtx, part, handle, models.JobFailed)
		return nil, handle, remoteFailure(outcome.Status)
	}
	if handle == "" {
		metrics.CapturePartOutcome("no_handle")
		return nil, "", models.NewError(models.KindSubmission, models.CodeNoJobHandle,
			"submission returned no job handle", nil).WithDetail(resp.Code)
	}
	logCtx.Info("Part submitted.")

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			p.abandon(callCtx, logCtx, part, handle)
			return nil, handle, models.Interrupted(models.CodeUserInterrupt, "polling")
		}
		if onAttempt != nil {
			onAttempt(attempt, p.maxAttempts)
		}
		metrics.IncrementPollAttempts()

		raw, err := p.client.Poll(callCtx, handle)
		if err != nil {
			code, msg, detail := ocrclient.Normalize(err)
			logCtx.Error("Poll failed.", "attempt", attempt, "code", code, "error", err)
			p.finish(callCtx, logCtx, part, handle, models.JobFailed)
			return nil, handle, models.NewError(models.KindPolling, models.CodePollFailed,
				fmt.Sprintf("%s: %s", code, msg), err).WithDetail(detail)
		}

		status := p.flow.InterpretPollResponse(raw)
		switch status.State {
		case models.JobSucceeded:
			payload, perr := p.payload(callCtx, handle, raw)
			p.finish(callCtx, logCtx, part, handle, models.JobSucceeded)
			if perr != nil {
				return nil, handle, perr
			}
			logCtx.Info("Part finished.", "attempts", attempt)
			return payload, handle, nil
		case models.JobFailed:
			logCtx.Warn("Remote job failed.", "reason", status.Reason, "rawStatus", status.Raw)
			p.finish(callCtx, logCtx, part, handle, models.JobFailed)
			return nil, handle, remoteFailure(status)
		}

		if attempt < p.maxAttempts {
			p.sleep(ctx, p.interval)
		}
	}

	logCtx.Warn("Polling budget exhausted.", "maxAttempts", p.maxAttempts)
	p.finish(callCtx, logCtx, part, handle, models.JobTimedOut)
	return nil, handle, models.NewError(models.KindTimeout, models.CodePollTimeout,
		fmt.Sprintf("job did not finish within %d polls", p.maxAttempts), nil)
}

func (p *Poller) payload(ctx context.Context, handle models.JobHandle, raw ocrclient.RawStatus) (*models.ResultPayload, *models.PipelineError) {
	if !p.flow.FetchesSeparately() && raw.Payload != nil {
		return raw.Payload, nil
	}
	payload, err := p.client.FetchResult(ctx, handle)
	if err != nil {
		code, msg, detail := ocrclient.Normalize(err)
		return nil, models.NewError(models.KindPolling, models.CodeFetchFailed,
			fmt.Sprintf("%s: %s", code, msg), err).WithDetail(detail)
	}
	return &payload, nil
}

func remoteFailure(status models.JobStatus) *models.PipelineError {
	msg := status.Reason
	if msg == "" {
		msg = "remote job failed"
	}
	return models.NewError(models.KindRemoteProcessing, models.CodeRemoteFailed, msg, nil).WithDetail(status.Raw)
}

// finish records the part outcome and deletes the remote job when
// configured. A failed deletion never changes the part outcome.
func (p *Poller) finish(ctx context.Context, logCtx *slog.Logger, part models.Part, handle models.JobHandle, state models.JobState) {
	metrics.CapturePartOutcome(state.String())
	if !p.deleteAfter || handle == "" {
		return
	}
	if err := p.client.DeleteJob(ctx, handle); err != nil {
		logCtx.Warn("Failed to delete remote job.", "error", err)
		metrics.IncrementDeletionFailures()
		p.remember(ctx, logCtx, part, handle, err.Error())
		return
	}
	logCtx.Debug("Deleted remote job.")
}

// abandon leaves a job that was interrupted mid-poll for a later purge,
// since no new remote call is started after a stop.
func (p *Poller) abandon(ctx context.Context, logCtx *slog.Logger, part models.Part, handle models.JobHandle) {
	metrics.CapturePartOutcome("interrupted")
	if p.deleteAfter {
		p.remember(ctx, logCtx, part, handle, "interrupted before completion")
	}
}

func (p *Poller) remember(ctx context.Context, logCtx *slog.Logger, part models.Part, handle models.JobHandle, reason string) {
	if p.ledger == nil {
		return
	}
	entry := store.PendingDeletion{
		Handle:     handle,
		Flow:       p.flow.Name(),
		SourcePath: part.SourcePath,
		LastError:  reason,
		RecordedAt: time.Now(),
	}
	if err := p.ledger.Record(ctx, entry); err != nil {
		logCtx.Error("Failed to record pending deletion.", "error", err)
	}
}
