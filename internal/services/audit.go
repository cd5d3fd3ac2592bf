package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matchwell/gatekeeper/internal/models"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

// AuditLogRepository defines the storage interface for audit records
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	ListRecent(ctx context.Context, limit int) ([]*models.AuditLog, error)
}

// AuditService handles audit logging with a dual-write pattern: immediate
// slog output plus a durable audit_logs row. The durable write is
// best-effort; an audit outage never fails the guarded operation.
type AuditService struct {
	repo        AuditLogRepository
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:        repo,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Record appends one audit record. Actor is who acted (operator id or
// "system"); subject is the affected account.
func (s *AuditService) Record(ctx context.Context, actor, action, subject string, details models.AuditDetails) {
	logDetails := make(map[string]string, len(details))
	for k, v := range details {
		logDetails[k] = fmt.Sprintf("%v", v)
	}

	s.auditLogger.Log(pkglogger.AuditEvent{
		Action:  action,
		Actor:   actor,
		Subject: subject,
		Success: true,
		Details: logDetails,
	})

	entry := &models.AuditLog{
		Actor:   actor,
		Action:  action,
		Subject: subject,
		Details: details,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("failed to persist audit record",
			slog.String("action", action),
			slog.Any("error", err))
	}
}

// Recent returns the newest audit records for the admin console.
func (s *AuditService) Recent(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListRecent(ctx, limit)
}
