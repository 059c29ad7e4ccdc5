package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/metrics"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
	"github.com/Lllllllleong/ocrdocumentflow/internal/store"
)

// PurgeReport counts the outcome of one purge pass.
type PurgeReport struct {
	Deleted int
	Failed  int
}

// Purge retries deletion of every job in the ledger. Entries are removed
// once the remote deletion succeeds; failures stay for the next pass.
func Purge(ctx context.Context, client ocrclient.JobClient, ledger store.Ledger) (PurgeReport, error) {
	var report PurgeReport
	pending, err := ledger.List(ctx)
	if err != nil {
		return report, err
	}
	slog.Info("Purging pending deletions.", "count", len(pending))

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logCtx := slog.With("jobHandle", string(p.Handle), "flow", p.Flow)
		if err := client.DeleteJob(ctx, p.Handle); err != nil && !ocrclient.IsNotFound(err) {
			logCtx.Warn("Deletion still failing.", "error", err)
			metrics.IncrementDeletionFailures()
			p.LastError = err.Error()
			p.RecordedAt = time.Now()
			if err := ledger.Record(ctx, p); err != nil {
				logCtx.Error("Failed to update pending deletion.", "error", err)
			}
			report.Failed++
			continue
		}
		if err := ledger.Remove(ctx, p.Handle); err != nil {
			return report, err
		}
		report.Deleted++
	}
	return report, nil
}
