package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/haatos/readycheck/internal/store"
)

// APIKeyService manages the keys accepted by the manual run API.
type APIKeyService struct {
	store         store.APIKeyStore
	uuidGenerator UUIDGenerator
}

func NewAPIKeyService(store store.APIKeyStore, uuidGenerator UUIDGenerator) *APIKeyService {
	return &APIKeyService{store, uuidGenerator}
}

func (s *APIKeyService) CreateAPIKey(ctx context.Context) (*store.APIKey, error) {
	value := s.uuidGenerator.GenerateUUID()
	return s.store.CreateAPIKey(ctx, value)
}

// ValidAPIKey reports whether value belongs to a stored key.
func (s *APIKeyService) ValidAPIKey(ctx context.Context, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	if _, err := s.store.ReadAPIKeyByValue(ctx, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnsureAPIKey creates a key when none exists yet. The returned bool reports
// whether a key was created.
func (s *APIKeyService) EnsureAPIKey(ctx context.Context) (*store.APIKey, bool, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(keys) > 0 {
		return keys[0], false, nil
	}
	key, err := s.CreateAPIKey(ctx)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

func (s *APIKeyService) DeleteAPIKey(ctx context.Context, id int64) error {
	return s.store.DeleteAPIKey(ctx, id)
}

func (s *APIKeyService) ListAPIKeys(ctx context.Context) ([]*store.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}
