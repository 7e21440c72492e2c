package service

import (
	"context"

	"github.com/haatos/readycheck/internal/store"
	"go.uber.org/zap"
)

// AuditSink records audit entries. Implementations absorb their own failures.
type AuditSink interface {
	Record(context.Context, store.AuditLog)
}

type StoreAuditSink struct {
	store  store.AuditStore
	logger *zap.Logger
}

func NewStoreAuditSink(store store.AuditStore, logger *zap.Logger) *StoreAuditSink {
	return &StoreAuditSink{store, logger}
}

func (s *StoreAuditSink) Record(ctx context.Context, entry store.AuditLog) {
	if entry.Details == "" {
		entry.Details = "{}"
	}
	if _, err := s.store.CreateAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("err writing audit log",
			zap.String("action", entry.Action),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err),
		)
	}
}
