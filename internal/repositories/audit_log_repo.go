package repositories

import (
	"context"

	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/models"
)

// AuditLogRepository handles database operations for audit logs.
type AuditLogRepository struct {
	db *database.DB
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create appends one audit record.
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (actor, action, subject, details)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, query,
		log.Actor, log.Action, log.Subject, log.Details,
	).Scan(&log.ID, &log.CreatedAt)

	return database.MapPostgresError(err)
}

// ListRecent returns the newest audit records, capped at limit.
func (r *AuditLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, actor, action, subject, details, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		l := &models.AuditLog{}
		if err := rows.Scan(&l.ID, &l.Actor, &l.Action, &l.Subject, &l.Details, &l.CreatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return logs, nil
}
