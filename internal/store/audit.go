package store

import (
	"context"
	"time"
)

type AuditLog struct {
	AuditLogID     int64     `db:"audit_log_id"    json:"id"`
	OrganizationID *string   `db:"organization_id" json:"organizationId"`
	UserID         *string   `db:"user_id"         json:"userId"`
	Action         string    `db:"action"          json:"action"`
	ResourceType   string    `db:"resource_type"   json:"resourceType"`
	ResourceID     string    `db:"resource_id"     json:"resourceId"`
	Details        string    `db:"details"         json:"details"`
	RunID          *string   `db:"run_id"          json:"runId"`
	CreatedAt      time.Time `db:"created_at"      json:"createdAt"`
}

type AuditStore interface {
	CreateAuditLog(context.Context, AuditLog) (*AuditLog, error)
	ListRunAuditLogs(context.Context, string) ([]AuditLog, error)
}
