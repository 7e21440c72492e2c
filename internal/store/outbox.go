package store

import (
	"context"
	"time"
)

type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentSent    IntentStatus = "sent"
	IntentFailed  IntentStatus = "failed"
)

type IntentKind string

const (
	IntentPRComment   IntentKind = "pr_comment"
	IntentStatusCheck IntentKind = "status_check"
)

// OutboxIntent is an external side effect a run wants delivered. The
// idempotency key is unique across the table.
type OutboxIntent struct {
	IntentID       string       `db:"intent_id"       json:"id"`
	IdempotencyKey string       `db:"idempotency_key" json:"idempotencyKey"`
	RunID          string       `db:"run_id"          json:"runId"`
	Kind           IntentKind   `db:"kind"            json:"kind"`
	Target         string       `db:"target"          json:"target"`
	Payload        string       `db:"payload"         json:"payload"`
	Status         IntentStatus `db:"status"          json:"status"`
	Attempts       int          `db:"attempts"        json:"attempts"`
	LastError      *string      `db:"last_error"      json:"lastError"`
	CreatedAt      time.Time    `db:"created_at"      json:"createdAt"`
	SentAt         *time.Time   `db:"sent_at"         json:"sentAt"`
}

type OutboxStore interface {
	CreateIntent(context.Context, OutboxIntent) (*OutboxIntent, bool, error)
	ListRunIntents(context.Context, string) ([]OutboxIntent, error)
	CountRunIntents(context.Context, string) (int64, error)
	ListPendingIntents(context.Context, int64) ([]OutboxIntent, error)
	MarkIntentSent(context.Context, string, time.Time) error
	MarkIntentAttemptFailed(context.Context, string, string, int) error
	DeleteSentIntentsBefore(context.Context, time.Time) (int64, error)
}
