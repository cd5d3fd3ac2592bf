package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

// BlockRepository defines the storage interface for lockout blocks
type BlockRepository interface {
	ActiveBlocks(ctx context.Context, subject string) ([]*models.Block, error)
	Create(ctx context.Context, spec *models.BlockSpec, expiresAt time.Time) (*models.Block, error)
	Refresh(ctx context.Context, id, reason string, failureCount int) error
	Deactivate(ctx context.Context, subject, kind string) (int64, error)
	DeactivateByID(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]*models.Block, error)
}

// BlockService owns the block state machine: NONE → ACTIVE →
// (EXPIRED | DEACTIVATED) → NONE. Expiry is evaluated lazily on read.
type BlockService struct {
	repo   BlockRepository
	audit  *AuditService
	logger *slog.Logger
}

// NewBlockService creates a new BlockService
func NewBlockService(repo BlockRepository, audit *AuditService, logger *slog.Logger) *BlockService {
	return &BlockService{
		repo:   repo,
		audit:  audit,
		logger: logger,
	}
}

// ActiveBlock returns the block currently in effect for subject, or nil.
// When both a short-term and a daily block are live, the one expiring
// last wins: that is the honest retry horizon for the caller.
//
// Finding two active rows of the same kind means a concurrency bug
// slipped past the unique index. The anomaly is logged loudly and healed
// in place: keep the newest, deactivate the rest, keep serving requests.
func (s *BlockService) ActiveBlock(ctx context.Context, subject string) (*models.Block, error) {
	rows, err := s.repo.ActiveBlocks(ctx, subject)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	newestByKind := make(map[string]*models.Block)
	for _, b := range rows {
		prior, seen := newestByKind[b.Kind]
		if !seen {
			newestByKind[b.Kind] = b
			continue
		}

		s.logger.Error("invariant violation: duplicate active blocks for subject",
			slog.String("subject", pkglogger.SanitizedEmail(subject)),
			slog.String("kind", b.Kind),
			slog.String("kept", prior.ID),
			slog.String("deactivated", b.ID))

		// rows are newest-first; the later row loses.
		if healErr := s.repo.DeactivateByID(ctx, b.ID); healErr != nil {
			s.logger.Error("failed to heal duplicate block",
				slog.String("block_id", b.ID),
				slog.Any("error", healErr))
		}
	}

	var inEffect *models.Block
	for _, b := range newestByKind {
		if !b.InEffect(now) {
			continue
		}
		if inEffect == nil || b.ExpiresAt.After(inEffect.ExpiresAt) {
			inEffect = b
		}
	}

	return inEffect, nil
}

// Apply creates the block a policy decision calls for, honoring the
// no-extension rule: if an active block of that kind is already in
// effect, its reason and count are refreshed but its expiry stands: an
// attacker must not be able to postpone their own unblock time by
// continuing to fail. Returns the governing block and whether a new one
// was created.
func (s *BlockService) Apply(ctx context.Context, spec *models.BlockSpec) (*models.Block, bool, error) {
	rows, err := s.repo.ActiveBlocks(ctx, spec.Subject)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	for _, b := range rows {
		if b.Kind == spec.Kind && b.InEffect(now) {
			if err := s.repo.Refresh(ctx, b.ID, spec.Reason, spec.FailureCount); err != nil {
				return nil, false, err
			}
			b.Reason = spec.Reason
			b.TriggeringFailureCount = spec.FailureCount

			s.audit.Record(ctx, models.AuditActorSystem, models.AuditActionBlockRefreshed, spec.Subject, models.AuditDetails{
				"kind":          b.Kind,
				"failure_count": spec.FailureCount,
			})
			return b, false, nil
		}
	}

	block, err := s.repo.Create(ctx, spec, now.Add(spec.Duration))
	if err != nil {
		// A concurrent creator won the race against the partial unique
		// index. Their block governs; read it back.
		if errors.Is(err, models.ErrConflict) {
			existing, lookupErr := s.ActiveBlock(ctx, spec.Subject)
			if lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	s.audit.Record(ctx, models.AuditActorSystem, models.AuditActionBlockCreated, spec.Subject, models.AuditDetails{
		"kind":          block.Kind,
		"reason":        block.Reason,
		"failure_count": block.TriggeringFailureCount,
		"expires_at":    block.ExpiresAt.Format(time.RFC3339),
	})

	return block, true, nil
}

// AdminUnblock deactivates a subject's blocks on behalf of an operator.
// kind == "" clears every kind. The acting operator is always audited
// distinctly from the affected subject.
func (s *BlockService) AdminUnblock(ctx context.Context, actor, subject, kind string) (int64, error) {
	cleared, err := s.repo.Deactivate(ctx, subject, kind)
	if err != nil {
		return 0, err
	}

	details := models.AuditDetails{"cleared": cleared}
	if kind != "" {
		details["kind"] = kind
	}
	s.audit.Record(ctx, actor, models.AuditActionUnblock, subject, details)

	return cleared, nil
}

// ListActive returns all blocks currently in effect, for the admin console.
func (s *BlockService) ListActive(ctx context.Context) ([]*models.Block, error) {
	return s.repo.ListActive(ctx)
}
