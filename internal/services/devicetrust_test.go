package services

import (
	"context"
	"testing"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrustService(repo DeviceTrustRepository) (*DeviceTrustService, *MockAuditLogRepository) {
	auditRepo := &MockAuditLogRepository{}
	return NewDeviceTrustService(repo, newTestAuditService(auditRepo), 2*time.Hour, newTestLogger()), auditRepo
}

func TestDeviceTrustIsTrusted_UnknownDeviceIsUntrusted(t *testing.T) {
	svc, _ := newTestTrustService(&MockDeviceTrustRepository{})

	assert.False(t, svc.IsTrusted(context.Background(), "user@example.com", "fp_1"))
}

func TestDeviceTrustIsTrusted_WithinWindow(t *testing.T) {
	repo := &MockDeviceTrustRepository{
		FindFunc: func(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error) {
			return &models.DeviceTrustRecord{
				ID:           "trust_1",
				Subject:      subject,
				Fingerprint:  fingerprint,
				TrustedUntil: time.Now().Add(time.Hour),
			}, nil
		},
	}
	svc, _ := newTestTrustService(repo)

	assert.True(t, svc.IsTrusted(context.Background(), "user@example.com", "fp_1"))
}

func TestDeviceTrustIsTrusted_ExpiredWindowIsUntrusted(t *testing.T) {
	repo := &MockDeviceTrustRepository{
		FindFunc: func(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error) {
			return &models.DeviceTrustRecord{
				ID:           "trust_1",
				Subject:      subject,
				Fingerprint:  fingerprint,
				TrustedUntil: time.Now().Add(-time.Minute),
			}, nil
		},
	}
	svc, _ := newTestTrustService(repo)

	assert.False(t, svc.IsTrusted(context.Background(), "user@example.com", "fp_1"))
}

func TestDeviceTrustIsTrusted_FailsClosedOnStorageError(t *testing.T) {
	repo := &MockDeviceTrustRepository{
		FindFunc: func(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error) {
			return nil, models.ErrStorageUnavailable
		},
	}
	svc, _ := newTestTrustService(repo)

	assert.False(t, svc.IsTrusted(context.Background(), "user@example.com", "fp_1"))
}

func TestDeviceTrustIsTrusted_ScopedToDevice(t *testing.T) {
	// Trust exists for fp_1 only; fp_2 must not inherit it.
	repo := &MockDeviceTrustRepository{
		FindFunc: func(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error) {
			if fingerprint == "fp_1" {
				return &models.DeviceTrustRecord{
					ID:           "trust_1",
					Subject:      subject,
					Fingerprint:  fingerprint,
					TrustedUntil: time.Now().Add(time.Hour),
				}, nil
			}
			return nil, models.ErrNotFound
		},
	}
	svc, _ := newTestTrustService(repo)

	assert.True(t, svc.IsTrusted(context.Background(), "user@example.com", "fp_1"))
	assert.False(t, svc.IsTrusted(context.Background(), "user@example.com", "fp_2"))
}

func TestDeviceTrustTrust_SetsFixedWindow(t *testing.T) {
	var inserted *models.DeviceTrustRecord
	repo := &MockDeviceTrustRepository{
		InsertFunc: func(ctx context.Context, rec *models.DeviceTrustRecord) error {
			inserted = rec
			return nil
		},
	}
	svc, auditRepo := newTestTrustService(repo)

	err := svc.Trust(context.Background(), "user@example.com", "fp_1", "192.168.1.1", "sig")

	require.NoError(t, err)
	require.NotNil(t, inserted)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), inserted.TrustedUntil, time.Minute)
	assert.Contains(t, auditRepo.Actions(), models.AuditActionDeviceTrusted)
}

func TestDeviceTrustRevoke_AuditsActor(t *testing.T) {
	repo := &MockDeviceTrustRepository{
		RevokeFunc: func(ctx context.Context, subject, fingerprint string) (int64, error) {
			return 1, nil
		},
	}
	svc, auditRepo := newTestTrustService(repo)

	err := svc.Revoke(context.Background(), "admin@example.com", "user@example.com", "fp_1")

	require.NoError(t, err)
	require.Len(t, auditRepo.CreatedLogs, 1)
	assert.Equal(t, "admin@example.com", auditRepo.CreatedLogs[0].Actor)
	assert.Equal(t, models.AuditActionDeviceRevoked, auditRepo.CreatedLogs[0].Action)
}
