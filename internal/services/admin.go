package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/models"
)

// SubjectWriter is the slice of the subject repository the admin service
// mutates.
type SubjectWriter interface {
	GetByEmail(ctx context.Context, email string) (*models.Subject, error)
	SetSecondFactorKey(ctx context.Context, id string, encryptedKey string) error
	SetActive(ctx context.Context, id string, active bool) error
}

// AdminService groups the operator-facing actions. Every action is
// audited with the acting operator as the actor, never as "system".
type AdminService struct {
	blocks       *BlockService
	trust        *DeviceTrustService
	audit        *AuditService
	subjects     SubjectWriter
	sessions     *SessionService
	secondFactor *auth.SecondFactorManager
	logger       *slog.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(blocks *BlockService, trust *DeviceTrustService, audit *AuditService, subjects SubjectWriter, sessions *SessionService, secondFactor *auth.SecondFactorManager, logger *slog.Logger) *AdminService {
	return &AdminService{
		blocks:       blocks,
		trust:        trust,
		audit:        audit,
		subjects:     subjects,
		sessions:     sessions,
		secondFactor: secondFactor,
		logger:       logger,
	}
}

// ListActiveBlocks returns every block currently in effect.
func (s *AdminService) ListActiveBlocks(ctx context.Context) ([]*models.Block, error) {
	return s.blocks.ListActive(ctx)
}

// Unblock clears a subject's active blocks. kind narrows to one kind;
// empty clears all.
func (s *AdminService) Unblock(ctx context.Context, actor, subject, kind string) (int64, error) {
	if kind != "" && kind != models.BlockKindShortTerm && kind != models.BlockKindDaily && kind != models.BlockKindManual {
		return 0, models.ErrBadRequest
	}
	return s.blocks.AdminUnblock(ctx, actor, subject, kind)
}

// RevokeDevice forgets a trusted device so its next login faces the
// second factor again.
func (s *AdminService) RevokeDevice(ctx context.Context, actor, subject, fingerprint string) error {
	return s.trust.Revoke(ctx, actor, subject, fingerprint)
}

// DeactivateSubject disables an account and kills every live session it
// holds, including validations still inside the session cache TTL. A
// deactivated subject is locked out everywhere at once, not whenever
// its cached snapshots happen to expire. Returns how many sessions were
// revoked.
func (s *AdminService) DeactivateSubject(ctx context.Context, actor, email string) (int64, error) {
	subject, err := s.subjects.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, models.ErrNotFound
		}
		return 0, models.ErrStorageUnavailable
	}

	if err := s.subjects.SetActive(ctx, subject.ID, false); err != nil {
		return 0, models.ErrStorageUnavailable
	}

	revoked, err := s.sessions.InvalidateAllForSubject(ctx, subject.ID)
	if err != nil {
		// The flag landed but sessions may linger; surface the outage so
		// the operator retries instead of assuming the lockout is total.
		s.logger.Error("failed to revoke sessions for deactivated subject",
			slog.String("subject_id", subject.ID), slog.Any("error", err))
		return 0, models.ErrStorageUnavailable
	}

	s.audit.Record(ctx, actor, models.AuditActionSubjectDeactivated, subject.Email, models.AuditDetails{
		"sessions_revoked": revoked,
	})

	return revoked, nil
}

// ReactivateSubject re-enables an account. Cached session validations
// pick up the refreshed snapshot immediately rather than serving the
// inactive one for the rest of their TTL.
func (s *AdminService) ReactivateSubject(ctx context.Context, actor, email string) error {
	subject, err := s.subjects.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrStorageUnavailable
	}

	if err := s.subjects.SetActive(ctx, subject.ID, true); err != nil {
		return models.ErrStorageUnavailable
	}

	if err := s.sessions.RefreshSubjectSnapshot(ctx, subject.ID); err != nil {
		s.logger.Error("failed to refresh cached snapshots after reactivation",
			slog.String("subject_id", subject.ID), slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	s.audit.Record(ctx, actor, models.AuditActionSubjectReactivated, subject.Email, nil)

	return nil
}

// RecentAudit returns the newest audit records.
func (s *AdminService) RecentAudit(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	return s.audit.Recent(ctx, limit)
}

// EnrollSecondFactor provisions a TOTP secret for a subject and stores
// the encrypted form. Re-enrollment replaces the previous secret, which
// also invalidates any authenticator still holding it.
func (s *AdminService) EnrollSecondFactor(ctx context.Context, actor, email string) (*auth.Enrollment, error) {
	subject, err := s.subjects.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, models.ErrStorageUnavailable
	}

	enrollment, err := s.secondFactor.Enroll(subject.Email)
	if err != nil {
		s.logger.Error("failed to enroll second factor", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.subjects.SetSecondFactorKey(ctx, subject.ID, enrollment.EncryptedSecret); err != nil {
		return nil, models.ErrStorageUnavailable
	}

	s.audit.Record(ctx, actor, models.AuditActionSecondFactorEnroll, subject.Email, models.AuditDetails{
		"replaced": subject.SecondFactorKey != nil,
	})

	return enrollment, nil
}
