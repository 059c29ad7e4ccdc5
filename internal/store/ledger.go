// Package store keeps remote jobs whose best-effort deletion failed so they can
// be purged later.
package store

import (
	"context"
	"time"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// PendingDeletion is one remote job that still has to be deleted.
type PendingDeletion struct {
	Handle     models.JobHandle `json:"handle"`
	Flow       string           `json:"flow"`
	SourcePath string           `json:"source_path"`
	LastError  string           `json:"last_error"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Ledger records pending deletions.
type Ledger interface {
	Record(ctx context.Context, p PendingDeletion) error
	List(ctx context.Context) ([]PendingDeletion, error)
	Remove(ctx context.Context, handle models.JobHandle) error
}
