package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

const firestoreWriteTimeout = 10 * time.Second

// RunLedger records every session and its per-file outcomes in Firestore:
// <collection>/<sessionId> and <collection>/<sessionId>/files/<index>.
// Write failures are logged and never affect the session.
type RunLedger struct {
	client     *firestore.Client
	collection string
	sessionID  string
}

func NewRunLedger(client *firestore.Client, collection, sessionID string) *RunLedger {
	return &RunLedger{client: client, collection: collection, sessionID: sessionID}
}

func (l *RunLedger) sessionDoc() *firestore.DocumentRef {
	return l.client.Collection(l.collection).Doc(l.sessionID)
}

// OnStatus is a no-op; only terminal states are persisted.
func (l *RunLedger) OnStatus(models.StatusEvent) {}

func (l *RunLedger) OnFileResult(e models.FileResultEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), firestoreWriteTimeout)
	defer cancel()

	record := FileRecordFromEvent(l.sessionID, e)
	doc := l.sessionDoc().Collection("files").Doc(strconv.Itoa(e.FileIndex))
	if _, err := doc.Set(ctx, record); err != nil {
		slog.Error("Failed to write file record to Firestore.", "sessionId", l.sessionID, "file", e.FilePath, "error", err)
	}
}

func (l *RunLedger) OnSessionEnd(s models.SessionSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), firestoreWriteTimeout)
	defer cancel()

	data := map[string]interface{}{
		"state":       string(s.State),
		"total":       s.Total,
		"succeeded":   s.Succeeded,
		"failed":      s.Failed,
		"interrupted": s.Interrupted,
		"skipped":     s.Skipped,
		"startedAt":   s.StartedAt,
		"finishedAt":  s.FinishedAt,
	}
	if s.Err != nil {
		data["errorCode"] = s.Err.Code
		data["errorDetails"] = s.Err.Error()
	}
	if _, err := l.sessionDoc().Set(ctx, data, firestore.MergeAll); err != nil {
		slog.Error("Failed to write session summary to Firestore.", "sessionId", l.sessionID, "error", err)
	}
}

// FileRecordFromEvent flattens a terminal file event into its stored form.
func FileRecordFromEvent(sessionID string, e models.FileResultEvent) models.FileRecord {
	record := models.FileRecord{
		SessionID:        sessionID,
		OriginalFilename: e.File.Name,
		SourcePath:       e.FilePath,
		Status:           string(e.Outcome),
		JSONStatus:       e.JSONStatus,
		PDFStatus:        e.File.SearchablePDFStatus,
		PageCount:        e.File.PageCount,
		CreatedAt:        time.Now(),
	}
	if e.JobHandle != nil {
		record.JobHandle = string(*e.JobHandle)
	}
	if e.Err != nil {
		record.ErrorCode = e.Err.Code
		record.ErrorDetails = e.Err.Error()
	}
	if e.Result != nil {
		record.PartCount = len(e.Result.Parts)
		record.Outputs = append(record.Outputs, e.Result.OutputJSON...)
		if e.Result.OutputPDF != "" {
			record.Outputs = append(record.Outputs, e.Result.OutputPDF)
		}
	}
	return record
}
