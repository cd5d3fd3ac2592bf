package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

// DeviceTrustRepository defines the storage interface for trust records
type DeviceTrustRepository interface {
	Find(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error)
	Insert(ctx context.Context, rec *models.DeviceTrustRecord) error
	TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error
	Revoke(ctx context.Context, subject, fingerprint string) (int64, error)
}

// DeviceTrustService answers whether a device gets to skip the second
// factor, and fails closed on anything it cannot answer.
type DeviceTrustService struct {
	repo         DeviceTrustRepository
	audit        *AuditService
	duration     time.Duration
	touchTimeout time.Duration
	logger       *slog.Logger
}

// NewDeviceTrustService creates a new DeviceTrustService
func NewDeviceTrustService(repo DeviceTrustRepository, audit *AuditService, duration time.Duration, logger *slog.Logger) *DeviceTrustService {
	return &DeviceTrustService{
		repo:         repo,
		audit:        audit,
		duration:     duration,
		touchTimeout: 2 * time.Second,
		logger:       logger,
	}
}

// IsTrusted reports whether (subject, fingerprint) holds an unexpired
// trust record. Unknown devices, expired windows, and storage trouble all
// come back untrusted: the cost of a wrong "false" is one extra
// challenge; the cost of a wrong "true" is a skipped second factor.
//
// On a hit, last_used_at is bumped off the critical path.
func (s *DeviceTrustService) IsTrusted(ctx context.Context, subject, fingerprint string) bool {
	rec, err := s.repo.Find(ctx, subject, fingerprint)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("device trust lookup failed, treating as untrusted",
				slog.String("subject", pkglogger.SanitizedEmail(subject)),
				slog.Any("error", err))
		}
		return false
	}

	if !rec.Trusted(time.Now()) {
		return false
	}

	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), s.touchTimeout)
		defer cancel()
		if err := s.repo.TouchLastUsed(touchCtx, rec.ID, time.Now()); err != nil {
			s.logger.Warn("failed to update trust record last_used_at",
				slog.String("record_id", rec.ID),
				slog.Any("error", err))
		}
	}()

	return true
}

// Trust records a fresh trust window for a device that just completed a
// fully verified login. Always a new record: calling this mid-window
// resets the clock rather than extending the old record, which is the
// intended behavior, not a bug.
func (s *DeviceTrustService) Trust(ctx context.Context, subject, fingerprint, ipAddress, clientSignature string) error {
	rec := &models.DeviceTrustRecord{
		Subject:         subject,
		Fingerprint:     fingerprint,
		IPAddress:       ipAddress,
		ClientSignature: clientSignature,
		TrustedUntil:    time.Now().Add(s.duration),
	}

	if err := s.repo.Insert(ctx, rec); err != nil {
		return err
	}

	s.audit.Record(ctx, subject, models.AuditActionDeviceTrusted, subject, models.AuditDetails{
		"fingerprint":   fingerprint,
		"trusted_until": rec.TrustedUntil.Format(time.RFC3339),
	})

	return nil
}

// Revoke removes trust for a device. This is the explicit "forget this
// device" path; ordinary logout deliberately leaves trust intact so it
// survives routine sign-out/sign-in cycles within its window.
func (s *DeviceTrustService) Revoke(ctx context.Context, actor, subject, fingerprint string) error {
	removed, err := s.repo.Revoke(ctx, subject, fingerprint)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, actor, models.AuditActionDeviceRevoked, subject, models.AuditDetails{
		"fingerprint": fingerprint,
		"removed":     removed,
	})

	return nil
}
