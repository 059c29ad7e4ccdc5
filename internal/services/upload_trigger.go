package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/ocrdocumentflow/internal/config"
	"github.com/Lllllllleong/ocrdocumentflow/internal/gcp"
	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/ocrclient"
	"github.com/Lllllllleong/ocrdocumentflow/internal/store"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// GCSEvent is the payload of a GCS object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// UploadProcessor runs a one-file session for every document uploaded to a
// bucket and mirrors the results into the artifact bucket.
type UploadProcessor struct {
	cfg             *config.Config
	client          ocrclient.JobClient
	ledger          store.Ledger
	storageClient   *storage.Client
	firestoreClient *firestore.Client
}

func NewUploadProcessor(ctx context.Context, cfg *config.Config, client ocrclient.JobClient, ledger store.Ledger) (*UploadProcessor, error) {
	if cfg.GCP.ProjectID == "" {
		return nil, fmt.Errorf("GCP project id must be set")
	}
	if cfg.GCP.ArtifactBucket == "" {
		return nil, fmt.Errorf("artifact bucket must be set")
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.GCP.ProjectID)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	slog.Info("Upload processor initialized.", "artifactBucket", cfg.GCP.ArtifactBucket, "flow", cfg.Flow.Kind)
	return &UploadProcessor{
		cfg:             cfg,
		client:          client,
		ledger:          ledger,
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
	}, nil
}

// ShouldProcess filters out unsupported files and the processor's own outputs.
func ShouldProcess(e GCSEvent, artifactBucket, artifactPrefix string) bool {
	if strings.HasSuffix(e.Name, "/") || !IsSupported(e.Name) {
		return false
	}
	if e.Bucket == artifactBucket && artifactPrefix != "" && strings.HasPrefix(e.Name, strings.TrimSuffix(artifactPrefix, "/")+"/") {
		return false
	}
	return true
}

func (p *UploadProcessor) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !ShouldProcess(e, p.cfg.GCP.ArtifactBucket, p.cfg.GCP.ArtifactPrefix) {
		logCtx.Info("Ignoring object.")
		return nil
	}
	logCtx.Info("Processing new GCS object.")

	tempDir, err := os.MkdirTemp(p.cfg.Workspace.TempBase, "ocr-trigger-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	inputDir := filepath.Join(tempDir, "input")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create input dir: %w", err)
	}
	localPath := filepath.Join(inputDir, path.Base(e.Name))
	if err := p.streamGCSObject(ctx, e.Bucket, e.Name, localPath); err != nil {
		logCtx.Error("Failed to download source object", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(localPath)
	if err != nil {
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	isDuplicate, docID, err := p.isDuplicate(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", docID)
		return nil
	}

	src, err := newUploadedSource(localPath)
	if err != nil {
		return err
	}

	run := p.cfg.Snapshot()
	run.MoveOnSuccess, run.MoveOnFailure = false, false
	run.TempBase = tempDir

	sessionID := uuid.NewString()
	uploader, err := gcp.NewArtifactUploader(ctx, p.cfg.GCP.ArtifactBucket, p.cfg.GCP.ArtifactPrefix, sessionID)
	if err != nil {
		return err
	}
	defer uploader.Close()

	session, err := NewSession(SessionOptions{
		ID:        sessionID,
		Run:       run,
		Client:    p.client,
		Ledger:    p.ledger,
		Sink:      uploader,
		Observers: []Observer{gcp.NewRunLedger(p.firestoreClient, p.cfg.GCP.FirestoreCollection, sessionID)},
	})
	if err != nil {
		return err
	}

	docRef, err := p.recordUpload(ctx, e, fileHash, session.ID())
	if err != nil {
		return err
	}
	logCtx = logCtx.With("documentId", docRef.ID, "sessionId", session.ID())

	summary, err := session.Run(ctx, []*models.SourceFile{src})
	if err != nil {
		return err
	}
	if _, err := docRef.Update(ctx, []firestore.Update{{Path: "state", Value: string(summary.State)}}); err != nil {
		logCtx.Error("Failed to update upload record.", "error", err)
	}
	if summary.State == models.SessionFatalError {
		return fmt.Errorf("session %s failed: %w", session.ID(), summary.Err)
	}
	logCtx.Info("Upload processed.", "succeeded", summary.Succeeded, "failed", summary.Failed)
	return nil
}

func newUploadedSource(localPath string) (*models.SourceFile, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	pages := 0
	if strings.EqualFold(filepath.Ext(localPath), ".pdf") {
		if pages, err = api.PageCountFile(localPath); err != nil {
			slog.Warn("Could not read page count.", "file", localPath, "error", err)
			pages = 0
		}
	}
	return models.NewSourceFile(localPath, info.Size(), pages), nil
}

func (p *UploadProcessor) uploads() *firestore.CollectionRef {
	return p.firestoreClient.Collection(p.cfg.GCP.FirestoreCollection + "_uploads")
}

// isDuplicate reports whether a file with the same content was already
// processed to completion. Earlier attempts that failed or never finished do
// not count, so a retried event runs again.
func (p *UploadProcessor) isDuplicate(ctx context.Context, fileHash string) (bool, string, error) {
	docs, err := p.uploads().Where("fileHash", "==", fileHash).Documents(ctx).GetAll()
	if err != nil {
		return false, "", fmt.Errorf("failed to query for duplicates: %w", err)
	}
	records := make(map[string]models.UploadRecord, len(docs))
	for _, doc := range docs {
		var record models.UploadRecord
		if err := doc.DataTo(&record); err != nil {
			return false, "", fmt.Errorf("failed to decode upload record %s: %w", doc.Ref.ID, err)
		}
		records[doc.Ref.ID] = record
	}
	docID, ok := completedUpload(records)
	return ok, docID, nil
}

// completedUpload returns the ID of the earliest record whose session
// completed.
func completedUpload(records map[string]models.UploadRecord) (string, bool) {
	var (
		docID string
		first time.Time
	)
	for id, r := range records {
		if r.State != string(models.SessionCompleted) {
			continue
		}
		if docID == "" || r.CreatedAt.Before(first) || (r.CreatedAt.Equal(first) && id < docID) {
			docID, first = id, r.CreatedAt
		}
	}
	return docID, docID != ""
}

func (p *UploadProcessor) recordUpload(ctx context.Context, e GCSEvent, fileHash, sessionID string) (*firestore.DocumentRef, error) {
	record := models.UploadRecord{
		FileHash:  fileHash,
		Bucket:    e.Bucket,
		Object:    e.Name,
		SessionID: sessionID,
		State:     string(models.SessionRunning),
		CreatedAt: time.Now(),
	}
	docRef, _, err := p.uploads().Add(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload record: %w", err)
	}
	return docRef, nil
}

func (p *UploadProcessor) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	gcsReader, err := p.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
