package testutil

import (
	"context"
	"sync"

	"github.com/haatos/readycheck/internal/store"
)

// MemoryAuditStore appends entries to a slice, or fails with Err when set.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []store.AuditLog
	Err     error
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) CreateAuditLog(ctx context.Context, entry store.AuditLog) (*store.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	entry.AuditLogID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, entry)
	return &entry, nil
}

func (s *MemoryAuditStore) ListRunAuditLogs(ctx context.Context, runID string) ([]store.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := make([]store.AuditLog, 0)
	for _, e := range s.entries {
		if e.RunID != nil && *e.RunID == runID {
			logs = append(logs, e)
		}
	}
	return logs, nil
}
