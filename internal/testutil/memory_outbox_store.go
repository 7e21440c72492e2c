package testutil

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/haatos/readycheck/internal/store"
)

type MemoryOutboxStore struct {
	mu      sync.Mutex
	intents []*store.OutboxIntent
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{}
}

func (s *MemoryOutboxStore) CreateIntent(
	ctx context.Context,
	intent store.OutboxIntent,
) (*store.OutboxIntent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, i := range s.intents {
		if i.IdempotencyKey == intent.IdempotencyKey {
			stored := *i
			return &stored, false, nil
		}
	}
	intent.Status = store.IntentPending
	intent.Attempts = 0
	stored := intent
	s.intents = append(s.intents, &stored)
	return &intent, true, nil
}

func (s *MemoryOutboxStore) ListRunIntents(ctx context.Context, runID string) ([]store.OutboxIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intents := make([]store.OutboxIntent, 0)
	for _, i := range s.intents {
		if i.RunID == runID {
			intents = append(intents, *i)
		}
	}
	return intents, nil
}

func (s *MemoryOutboxStore) CountRunIntents(ctx context.Context, runID string) (int64, error) {
	intents, err := s.ListRunIntents(ctx, runID)
	return int64(len(intents)), err
}

func (s *MemoryOutboxStore) ListPendingIntents(ctx context.Context, limit int64) ([]store.OutboxIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intents := make([]store.OutboxIntent, 0)
	for _, i := range s.intents {
		if i.Status == store.IntentPending && int64(len(intents)) < limit {
			intents = append(intents, *i)
		}
	}
	return intents, nil
}

func (s *MemoryOutboxStore) MarkIntentSent(ctx context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.find(id)
	if err != nil {
		return err
	}
	i.Status = store.IntentSent
	i.Attempts++
	i.LastError = nil
	i.SentAt = &sentAt
	return nil
}

func (s *MemoryOutboxStore) MarkIntentAttemptFailed(
	ctx context.Context,
	id, lastError string,
	maxAttempts int,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.find(id)
	if err != nil {
		return err
	}
	i.Attempts++
	i.LastError = &lastError
	if i.Attempts >= maxAttempts {
		i.Status = store.IntentFailed
	}
	return nil
}

func (s *MemoryOutboxStore) DeleteSentIntentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.intents[:0]
	var deleted int64
	for _, i := range s.intents {
		if i.Status == store.IntentSent && i.SentAt != nil && i.SentAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, i)
	}
	s.intents = kept
	return deleted, nil
}

func (s *MemoryOutboxStore) find(id string) (*store.OutboxIntent, error) {
	for _, i := range s.intents {
		if i.IntentID == id {
			return i, nil
		}
	}
	return nil, sql.ErrNoRows
}
