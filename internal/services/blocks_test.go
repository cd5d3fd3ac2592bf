package services

import (
	"context"
	"testing"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlockService(repo BlockRepository) (*BlockService, *MockAuditLogRepository) {
	auditRepo := &MockAuditLogRepository{}
	return NewBlockService(repo, newTestAuditService(auditRepo), newTestLogger()), auditRepo
}

func TestBlockServiceActiveBlock_NoneActive(t *testing.T) {
	svc, _ := newTestBlockService(&MockBlockRepository{})

	block, err := svc.ActiveBlock(context.Background(), "user@example.com")

	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestBlockServiceActiveBlock_ExpiredRowIsNotInEffect(t *testing.T) {
	expired := NewTestBlock("b1", "user@example.com", models.BlockKindShortTerm, -time.Minute)
	repo := &MockBlockRepository{
		ActiveBlocksFunc: func(ctx context.Context, subject string) ([]*models.Block, error) {
			return []*models.Block{expired}, nil
		},
	}
	svc, _ := newTestBlockService(repo)

	block, err := svc.ActiveBlock(context.Background(), "user@example.com")

	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestBlockServiceActiveBlock_LatestExpiryWinsAcrossKinds(t *testing.T) {
	shortTerm := NewTestBlock("b1", "user@example.com", models.BlockKindShortTerm, 5*time.Hour)
	daily := NewTestBlock("b2", "user@example.com", models.BlockKindDaily, 24*time.Hour)
	repo := &MockBlockRepository{
		ActiveBlocksFunc: func(ctx context.Context, subject string) ([]*models.Block, error) {
			return []*models.Block{daily, shortTerm}, nil
		},
	}
	svc, _ := newTestBlockService(repo)

	block, err := svc.ActiveBlock(context.Background(), "user@example.com")

	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, models.BlockKindDaily, block.Kind)
}

func TestBlockServiceActiveBlock_HealsDuplicateActiveRows(t *testing.T) {
	newest := NewTestBlock("b_new", "user@example.com", models.BlockKindShortTerm, 4*time.Hour)
	older := NewTestBlock("b_old", "user@example.com", models.BlockKindShortTerm, 2*time.Hour)

	var deactivated []string
	repo := &MockBlockRepository{
		ActiveBlocksFunc: func(ctx context.Context, subject string) ([]*models.Block, error) {
			// newest-first, as the repository orders them
			return []*models.Block{newest, older}, nil
		},
		DeactivateByIDFunc: func(ctx context.Context, id string) error {
			deactivated = append(deactivated, id)
			return nil
		},
	}
	svc, _ := newTestBlockService(repo)

	block, err := svc.ActiveBlock(context.Background(), "user@example.com")

	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, "b_new", block.ID)
	assert.Equal(t, []string{"b_old"}, deactivated)
}

func TestBlockServiceApply_CreatesBlock(t *testing.T) {
	svc, auditRepo := newTestBlockService(&MockBlockRepository{})

	spec := &models.BlockSpec{
		Subject:      "user@example.com",
		Kind:         models.BlockKindShortTerm,
		Reason:       "5 failed attempts within 1h0m0s",
		FailureCount: 5,
		Duration:     5 * time.Hour,
	}
	block, created, err := svc.Apply(context.Background(), spec)

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.BlockKindShortTerm, block.Kind)
	assert.WithinDuration(t, time.Now().Add(5*time.Hour), block.ExpiresAt, time.Minute)
	assert.Contains(t, auditRepo.Actions(), models.AuditActionBlockCreated)
}

func TestBlockServiceApply_ExistingBlockKeepsItsExpiry(t *testing.T) {
	existing := NewTestBlock("b1", "user@example.com", models.BlockKindShortTerm, 3*time.Hour)
	originalExpiry := existing.ExpiresAt

	var refreshed bool
	var createCalled bool
	repo := &MockBlockRepository{
		ActiveBlocksFunc: func(ctx context.Context, subject string) ([]*models.Block, error) {
			return []*models.Block{existing}, nil
		},
		RefreshFunc: func(ctx context.Context, id, reason string, failureCount int) error {
			refreshed = true
			return nil
		},
		CreateFunc: func(ctx context.Context, spec *models.BlockSpec, expiresAt time.Time) (*models.Block, error) {
			createCalled = true
			return nil, models.ErrConflict
		},
	}
	svc, auditRepo := newTestBlockService(repo)

	spec := &models.BlockSpec{
		Subject:      "user@example.com",
		Kind:         models.BlockKindShortTerm,
		Reason:       "7 failed attempts within 1h0m0s",
		FailureCount: 7,
		Duration:     5 * time.Hour,
	}
	block, created, err := svc.Apply(context.Background(), spec)

	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, refreshed)
	assert.False(t, createCalled)
	assert.Equal(t, originalExpiry, block.ExpiresAt)
	assert.Equal(t, 7, block.TriggeringFailureCount)
	assert.Contains(t, auditRepo.Actions(), models.AuditActionBlockRefreshed)
}

func TestBlockServiceApply_LostRaceReturnsExistingBlock(t *testing.T) {
	winner := NewTestBlock("b_winner", "user@example.com", models.BlockKindShortTerm, 5*time.Hour)

	calls := 0
	repo := &MockBlockRepository{
		ActiveBlocksFunc: func(ctx context.Context, subject string) ([]*models.Block, error) {
			calls++
			if calls == 1 {
				// first read saw nothing; the concurrent creator
				// committed between the read and our insert
				return []*models.Block{}, nil
			}
			return []*models.Block{winner}, nil
		},
		CreateFunc: func(ctx context.Context, spec *models.BlockSpec, expiresAt time.Time) (*models.Block, error) {
			return nil, models.ErrConflict
		},
	}
	svc, _ := newTestBlockService(repo)

	spec := &models.BlockSpec{
		Subject:  "user@example.com",
		Kind:     models.BlockKindShortTerm,
		Duration: 5 * time.Hour,
	}
	block, created, err := svc.Apply(context.Background(), spec)

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "b_winner", block.ID)
}

func TestBlockServiceAdminUnblock_AuditsActor(t *testing.T) {
	repo := &MockBlockRepository{
		DeactivateFunc: func(ctx context.Context, subject, kind string) (int64, error) {
			return 1, nil
		},
	}
	svc, auditRepo := newTestBlockService(repo)

	cleared, err := svc.AdminUnblock(context.Background(), "admin@example.com", "user@example.com", "")

	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
	require.Len(t, auditRepo.CreatedLogs, 1)
	assert.Equal(t, "admin@example.com", auditRepo.CreatedLogs[0].Actor)
	assert.Equal(t, models.AuditActionUnblock, auditRepo.CreatedLogs[0].Action)
}
