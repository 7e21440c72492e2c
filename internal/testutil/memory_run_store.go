package testutil

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/haatos/readycheck/internal/store"
)

var ErrDuplicateDeliveryID = errors.New("duplicate delivery id")

// MemoryRunStore keeps runs in a map. CreateErr and UpdateErr, when set, are
// returned by the matching operation. UpdateErrAfter lets that many updates
// succeed first and a non-zero UpdateErrTimes limits how many then fail.
type MemoryRunStore struct {
	mu             sync.Mutex
	runs           map[string]*store.Run
	order          []string
	CreateErr      error
	UpdateErr      error
	UpdateErrAfter int
	UpdateErrTimes int
	updates        int
	Patches        []store.RunPatch
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*store.Run)}
}

func (s *MemoryRunStore) CreateRun(ctx context.Context, params store.CreateRunParams) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	if params.DeliveryID != nil {
		for _, r := range s.runs {
			if r.DeliveryID != nil && *r.DeliveryID == *params.DeliveryID {
				return nil, ErrDuplicateDeliveryID
			}
		}
	}
	r := params.Run()
	s.runs[r.RunID] = cloneRun(r)
	s.order = append(s.order, r.RunID)
	return r, nil
}

func (s *MemoryRunStore) ReadRunByID(ctx context.Context, id string) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneRun(r), nil
}

func (s *MemoryRunStore) ReadRunByDeliveryID(ctx context.Context, deliveryID string) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.DeliveryID != nil && *r.DeliveryID == deliveryID {
			return cloneRun(r), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *MemoryRunStore) UpdateRun(ctx context.Context, id string, patch store.RunPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.UpdateErr != nil && s.updates > s.UpdateErrAfter &&
		(s.UpdateErrTimes == 0 || s.updates <= s.UpdateErrAfter+s.UpdateErrTimes) {
		return s.UpdateErr
	}
	r, ok := s.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if r.Status.IsTerminal() {
		return store.ErrRunImmutable
	}
	patch.ApplyTo(r)
	s.Patches = append(s.Patches, patch)
	return nil
}

func (s *MemoryRunStore) ListRuns(ctx context.Context, limit, offset int64) ([]store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]store.Run, 0, len(s.order))
	for _, id := range slices.Backward(s.order) {
		runs = append(runs, *cloneRun(s.runs[id]))
	}
	if offset >= int64(len(runs)) {
		return []store.Run{}, nil
	}
	runs = runs[offset:]
	if limit < int64(len(runs)) {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *MemoryRunStore) CountRepositoryRunsSince(
	ctx context.Context,
	repositoryID string,
	since time.Time,
) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, r := range s.runs {
		if r.RepositoryID != nil && *r.RepositoryID == repositoryID && !r.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Len returns the number of stored runs.
func (s *MemoryRunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func cloneRun(r *store.Run) *store.Run {
	c := *r
	c.RepositoryID = clonePtr(r.RepositoryID)
	c.SandboxID = clonePtr(r.SandboxID)
	c.DeliveryID = clonePtr(r.DeliveryID)
	c.Conclusion = clonePtr(r.Conclusion)
	c.ReviewGuardStartedAt = clonePtr(r.ReviewGuardStartedAt)
	c.ReviewGuardCompletedAt = clonePtr(r.ReviewGuardCompletedAt)
	c.ReviewGuardResult = clonePtr(r.ReviewGuardResult)
	c.TestEngineStartedAt = clonePtr(r.TestEngineStartedAt)
	c.TestEngineCompletedAt = clonePtr(r.TestEngineCompletedAt)
	c.TestEngineResult = clonePtr(r.TestEngineResult)
	c.DocSyncStartedAt = clonePtr(r.DocSyncStartedAt)
	c.DocSyncCompletedAt = clonePtr(r.DocSyncCompletedAt)
	c.DocSyncResult = clonePtr(r.DocSyncResult)
	c.AITouchedFiles = slices.Clone(r.AITouchedFiles)
	c.GatesPassed = clonePtr(r.GatesPassed)
	c.GatesFailed = slices.Clone(r.GatesFailed)
	c.CompletedAt = clonePtr(r.CompletedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
