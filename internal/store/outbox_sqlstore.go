package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type OutboxSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewOutboxSQLStore(rdb, rwdb *sql.DB) *OutboxSQLStore {
	return &OutboxSQLStore{rdb, rwdb}
}

// CreateIntent inserts the intent unless one with the same idempotency key
// exists. The stored intent is returned in both cases, created reports
// whether this call inserted it.
func (store *OutboxSQLStore) CreateIntent(
	ctx context.Context,
	intent OutboxIntent,
) (*OutboxIntent, bool, error) {
	query := `insert into outbox_intents (
		intent_id,
		idempotency_key,
		run_id,
		kind,
		target,
		payload,
		status,
		created_at
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8)
	on conflict (idempotency_key) do nothing`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		intent.IntentID,
		intent.IdempotencyKey,
		intent.RunID,
		intent.Kind,
		intent.Target,
		intent.Payload,
		IntentPending,
		intent.CreatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	stored := new(OutboxIntent)
	readQuery := "select * from outbox_intents where idempotency_key = $1"
	if err := sqlscan.Get(ctx, store.rwdb, stored, readQuery, intent.IdempotencyKey); err != nil {
		return nil, false, err
	}
	return stored, affected == 1, nil
}

func (store *OutboxSQLStore) ReadIntentByKey(ctx context.Context, key string) (*OutboxIntent, error) {
	i := new(OutboxIntent)
	query := "select * from outbox_intents where idempotency_key = $1"
	if err := sqlscan.Get(ctx, store.rdb, i, query, key); err != nil {
		return nil, err
	}
	return i, nil
}

func (store *OutboxSQLStore) ListRunIntents(ctx context.Context, runID string) ([]OutboxIntent, error) {
	query := `select * from outbox_intents
	where run_id = $1
	order by created_at, kind`
	intents := make([]OutboxIntent, 0)
	err := sqlscan.Select(ctx, store.rdb, &intents, query, runID)
	return intents, err
}

func (store *OutboxSQLStore) CountRunIntents(ctx context.Context, runID string) (int64, error) {
	var count int64
	query := "select count(*) from outbox_intents where run_id = $1"
	err := sqlscan.Get(ctx, store.rdb, &count, query, runID)
	return count, err
}

func (store *OutboxSQLStore) ListPendingIntents(ctx context.Context, limit int64) ([]OutboxIntent, error) {
	query := `select * from outbox_intents
	where status = $1
	order by created_at limit $2`
	intents := make([]OutboxIntent, 0)
	err := sqlscan.Select(ctx, store.rdb, &intents, query, IntentPending, limit)
	return intents, err
}

func (store *OutboxSQLStore) MarkIntentSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `update outbox_intents
	set status = $1,
		attempts = attempts + 1,
		last_error = null,
		sent_at = $2
	where intent_id = $3`
	_, err := store.rwdb.ExecContext(ctx, query, IntentSent, sentAt, id)
	return err
}

// MarkIntentAttemptFailed records a failed delivery. The intent stays pending
// until it has been attempted maxAttempts times.
func (store *OutboxSQLStore) MarkIntentAttemptFailed(
	ctx context.Context,
	id, lastError string,
	maxAttempts int,
) error {
	query := `update outbox_intents
	set attempts = attempts + 1,
		last_error = $1,
		status = case when attempts + 1 >= $2 then $3 else status end
	where intent_id = $4`
	_, err := store.rwdb.ExecContext(ctx, query, lastError, maxAttempts, IntentFailed, id)
	return err
}

// DeleteSentIntentsBefore removes delivered intents sent before cutoff.
func (store *OutboxSQLStore) DeleteSentIntentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `delete from outbox_intents
	where status = $1
	and sent_at < $2`
	res, err := store.rwdb.ExecContext(ctx, query, IntentSent, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
