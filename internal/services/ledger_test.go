package services

import (
	"context"
	"testing"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(repo AttemptRepository) *LedgerService {
	return NewLedgerService(repo, defaultTestLockoutConfig(), 48*time.Hour, newTestLogger())
}

func TestLedgerRecord_SetsRetentionExpiry(t *testing.T) {
	var recorded *models.Attempt
	repo := &MockAttemptRepository{
		RecordFunc: func(ctx context.Context, attempt *models.Attempt) (string, error) {
			recorded = attempt
			return "attempt_1", nil
		},
	}
	ledger := newTestLedger(repo)

	reason := models.FailureBadCredentials
	attempt, err := ledger.Record(context.Background(), "user@example.com", false, &reason, "", "192.168.1.1", "sig")

	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, models.CategoryLogin, recorded.Category)
	assert.False(t, recorded.Success)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), attempt.ExpiresAt, time.Minute)
}

func TestLedgerRecord_StorageFailureIsRetryable(t *testing.T) {
	repo := &MockAttemptRepository{
		RecordFunc: func(ctx context.Context, attempt *models.Attempt) (string, error) {
			return "", models.ErrInternalServer
		},
	}
	ledger := newTestLedger(repo)

	_, err := ledger.Record(context.Background(), "user@example.com", true, nil, models.CategoryLogin, "192.168.1.1", "sig")

	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

func TestLedgerFailureWindows_CountsBothWindowsFromOneQuery(t *testing.T) {
	now := time.Now()
	// 3 failures in the last hour, 4 more earlier in the day.
	failures := append(
		NewTestFailures("user@example.com", 3, now),
		NewTestFailures("user@example.com", 4, now.Add(-6*time.Hour))...,
	)

	var queriedSince time.Time
	repo := &MockAttemptRepository{
		RecentFailuresFunc: func(ctx context.Context, subject string, since time.Time) ([]*models.Attempt, error) {
			queriedSince = since
			return failures, nil
		},
	}
	ledger := newTestLedger(repo)

	windows, err := ledger.FailureWindows(context.Background(), "user@example.com")

	require.NoError(t, err)
	assert.Equal(t, 3, windows.ShortTerm)
	assert.Equal(t, 7, windows.Daily)
	assert.WithinDuration(t, now.Add(-24*time.Hour), queriedSince, time.Minute)
}

func TestLedgerFailureWindows_EmptyLedger(t *testing.T) {
	ledger := newTestLedger(&MockAttemptRepository{})

	windows, err := ledger.FailureWindows(context.Background(), "new@example.com")

	require.NoError(t, err)
	assert.Equal(t, 0, windows.ShortTerm)
	assert.Equal(t, 0, windows.Daily)
}

func TestLedgerFailureWindows_StorageFailureIsRetryable(t *testing.T) {
	repo := &MockAttemptRepository{
		RecentFailuresFunc: func(ctx context.Context, subject string, since time.Time) ([]*models.Attempt, error) {
			return nil, context.DeadlineExceeded
		},
	}
	ledger := newTestLedger(repo)

	_, err := ledger.FailureWindows(context.Background(), "user@example.com")

	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}
