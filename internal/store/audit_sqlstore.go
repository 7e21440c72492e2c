package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type AuditSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewAuditSQLStore(rdb, rwdb *sql.DB) *AuditSQLStore {
	return &AuditSQLStore{rdb, rwdb}
}

func (store *AuditSQLStore) CreateAuditLog(ctx context.Context, entry AuditLog) (*AuditLog, error) {
	a := entry
	query := `insert into audit_logs (
		organization_id,
		user_id,
		action,
		resource_type,
		resource_id,
		details,
		run_id,
		created_at
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8)
	returning audit_log_id`
	if err := sqlscan.Get(
		ctx, store.rwdb, &a.AuditLogID, query,
		a.OrganizationID,
		a.UserID,
		a.Action,
		a.ResourceType,
		a.ResourceID,
		a.Details,
		a.RunID,
		a.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

func (store *AuditSQLStore) ListRunAuditLogs(ctx context.Context, runID string) ([]AuditLog, error) {
	query := `select * from audit_logs
	where run_id = $1
	order by audit_log_id`
	logs := make([]AuditLog, 0)
	err := sqlscan.Select(ctx, store.rdb, &logs, query, runID)
	return logs, err
}
