package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
)

// InMemoryLedger is a process-local Ledger.
type InMemoryLedger struct {
	mu      sync.RWMutex
	entries map[models.JobHandle]PendingDeletion
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{entries: make(map[models.JobHandle]PendingDeletion)}
}

func (l *InMemoryLedger) Record(ctx context.Context, p PendingDeletion) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[p.Handle] = p
	return nil
}

func (l *InMemoryLedger) List(ctx context.Context) ([]PendingDeletion, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]PendingDeletion, 0, len(l.entries))
	for _, p := range l.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (l *InMemoryLedger) Remove(ctx context.Context, handle models.JobHandle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, handle)
	return nil
}
