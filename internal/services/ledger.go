package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

// AttemptRepository defines the storage interface for the attempt ledger
type AttemptRepository interface {
	Record(ctx context.Context, attempt *models.Attempt) (string, error)
	RecentFailures(ctx context.Context, subject string, since time.Time) ([]*models.Attempt, error)
	LastSuccessTime(ctx context.Context, subject string) (*time.Time, error)
}

// LedgerService is the attempt ledger: an append-only record of
// authentication tries. Failure counts are always re-derived from the
// log, never kept as a running counter, so the counts and the underlying
// events cannot drift apart.
type LedgerService struct {
	repo      AttemptRepository
	retention time.Duration
	shortTerm time.Duration
	daily     time.Duration
	logger    *slog.Logger
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(repo AttemptRepository, config LockoutConfig, retention time.Duration, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		repo:      repo,
		retention: retention,
		shortTerm: config.ShortTermWindow,
		daily:     config.DailyWindow,
		logger:    logger,
	}
}

// Record appends one attempt. Storage trouble surfaces as
// ErrStorageUnavailable so the caller can abort the login with a
// retryable error instead of silently dropping the record; an
// under-counted ledger would let an attacker stay below the thresholds.
func (s *LedgerService) Record(ctx context.Context, subject string, success bool, reason *string, category, ipAddress, clientSignature string) (*models.Attempt, error) {
	if category == "" {
		category = models.CategoryLogin
	}

	attempt := &models.Attempt{
		Subject:         subject,
		Success:         success,
		FailureReason:   reason,
		Category:        category,
		IPAddress:       ipAddress,
		ClientSignature: clientSignature,
		ExpiresAt:       time.Now().Add(s.retention),
	}

	if _, err := s.repo.Record(ctx, attempt); err != nil {
		s.logger.Error("failed to record attempt",
			slog.String("subject", pkglogger.SanitizedEmail(subject)),
			slog.Any("error", err))
		if errors.Is(err, models.ErrStorageUnavailable) {
			return nil, err
		}
		return nil, models.ErrStorageUnavailable
	}

	return attempt, nil
}

// FailureWindows counts recent failures over the short-term and daily
// windows from a single query, so the two checks always see the same set
// of attempts.
func (s *LedgerService) FailureWindows(ctx context.Context, subject string) (models.FailureWindows, error) {
	now := time.Now()

	failures, err := s.repo.RecentFailures(ctx, subject, now.Add(-s.daily))
	if err != nil {
		s.logger.Error("failed to load recent failures",
			slog.String("subject", pkglogger.SanitizedEmail(subject)),
			slog.Any("error", err))
		if errors.Is(err, models.ErrStorageUnavailable) {
			return models.FailureWindows{}, err
		}
		return models.FailureWindows{}, models.ErrStorageUnavailable
	}

	shortCutoff := now.Add(-s.shortTerm)
	windows := models.FailureWindows{Daily: len(failures), TakenAt: now}
	for _, f := range failures {
		if !f.AttemptTime.Before(shortCutoff) {
			windows.ShortTerm++
		}
	}

	return windows, nil
}

// LastSuccess returns the most recent successful attempt time, or nil.
func (s *LedgerService) LastSuccess(ctx context.Context, subject string) (*time.Time, error) {
	return s.repo.LastSuccessTime(ctx, subject)
}
