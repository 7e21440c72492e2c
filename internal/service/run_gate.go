package service

import (
	"context"
	"time"

	"github.com/haatos/readycheck/internal/store"
)

// RunGate decides whether a run may start at all.
type RunGate interface {
	Allow(context.Context, RunRequest) error
}

// QuotaGate allows a fixed number of runs per repository in a rolling 24
// hour window. Sandbox runs and a limit of zero are not limited.
type QuotaGate struct {
	runStore store.RunStore
	limit    int
	now      func() time.Time
}

func NewQuotaGate(runStore store.RunStore, limit int) *QuotaGate {
	return &QuotaGate{
		runStore: runStore,
		limit:    limit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (g *QuotaGate) Allow(ctx context.Context, req RunRequest) error {
	if g.limit <= 0 || req.Trigger == store.TriggerSandbox || req.RepositoryID == nil {
		return nil
	}
	count, err := g.runStore.CountRepositoryRunsSince(ctx, *req.RepositoryID, g.now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if count >= int64(g.limit) {
		return ErrRunNotEntitled{RepositoryID: *req.RepositoryID, Limit: g.limit}
	}
	return nil
}
