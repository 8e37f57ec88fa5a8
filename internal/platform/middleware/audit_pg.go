package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGAuditRecorder appends audit entries to the audit_log table.
type PGAuditRecorder struct {
	db      Execer
	timeout time.Duration
}

func NewPGAuditRecorder(db Execer) *PGAuditRecorder {
	return &PGAuditRecorder{db: db, timeout: 2 * time.Second}
}

func (r *PGAuditRecorder) RecordAccess(ctx context.Context, e AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	roles := e.UserRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (request_id, user_id, user_roles, action, resource_type, resource_id,
			method, path, ip_address, status_code, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		nullIfEmpty(e.RequestID), nullIfEmpty(e.UserID), roles, e.Action, e.ResourceType,
		nullIfEmpty(e.ResourceID), e.Method, e.Path, nullIfEmpty(e.IPAddress), e.StatusCode, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
