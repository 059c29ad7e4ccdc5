package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure; it reports false.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content io.Reader) (bool, error) {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)

	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, skipping.", "gcsObject", objectName)
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// ArtifactUploader mirrors the final outputs of successful files into a
// bucket under <prefix>/<session>/<source base name>/.
type ArtifactUploader struct {
	client    *storage.Client
	bucket    string
	prefix    string
	sessionID string

	maxRetries  int
	backoff     time.Duration
	concurrency int
}

func NewArtifactUploader(ctx context.Context, bucket, prefix, sessionID string) (*ArtifactUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("artifact bucket must be set")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &ArtifactUploader{
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		sessionID:   sessionID,
		maxRetries:  4,
		backoff:     time.Second,
		concurrency: 4,
	}, nil
}

func (u *ArtifactUploader) Close() error {
	return u.client.Close()
}

// ObjectName is the destination of localPath for src.
func (u *ArtifactUploader) ObjectName(src models.SourceFile, localPath string) string {
	return artifactObjectName(u.prefix, u.sessionID, src, localPath)
}

func artifactObjectName(prefix, sessionID string, src models.SourceFile, localPath string) string {
	return path.Join(prefix, sessionID, src.BaseName(), filepath.Base(localPath))
}

// UploadArtifacts uploads paths concurrently. Objects that already exist are
// left untouched.
func (u *ArtifactUploader) UploadArtifacts(ctx context.Context, src models.SourceFile, paths []string) error {
	logCtx := slog.With("gcsBucket", u.bucket, "file", src.Path)
	logCtx.Info("Starting artifact upload.", "objectCount", len(paths))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(u.concurrency)
	for _, p := range paths {
		localPath := p
		objectName := u.ObjectName(src, localPath)
		eg.Go(func() error {
			if err := u.uploadFile(gctx, localPath, objectName); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(localPath), err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("One or more artifacts failed to upload.", "error", err)
		return err
	}
	logCtx.Info("All artifacts uploaded.")
	return nil
}

func (u *ArtifactUploader) uploadFile(ctx context.Context, localPath, destObject string) error {
	backoff := u.backoff
	var lastErr error

	for i := 0; i < u.maxRetries; i++ {
		err := func() error {
			localFileReader, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("could not open local file %s: %w", localPath, err)
			}
			defer localFileReader.Close()

			writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
			defer cancel()

			_, err = SaveToGCSAtomically(writeCtx, u.client.Bucket(u.bucket), destObject, localFileReader)
			return err
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", destObject,
			"attempt", i+1,
			"maxRetries", u.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", destObject, "error", ctx.Err())
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", destObject, lastErr)
}
