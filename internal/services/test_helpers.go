package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	pkgauth "github.com/matchwell/gatekeeper/pkg/auth"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

// MockAttemptRepository implements AttemptRepository for testing
type MockAttemptRepository struct {
	RecordFunc          func(ctx context.Context, attempt *models.Attempt) (string, error)
	RecentFailuresFunc  func(ctx context.Context, subject string, since time.Time) ([]*models.Attempt, error)
	LastSuccessTimeFunc func(ctx context.Context, subject string) (*time.Time, error)
}

func (m *MockAttemptRepository) Record(ctx context.Context, attempt *models.Attempt) (string, error) {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, attempt)
	}
	return "attempt_123", nil
}

func (m *MockAttemptRepository) RecentFailures(ctx context.Context, subject string, since time.Time) ([]*models.Attempt, error) {
	if m.RecentFailuresFunc != nil {
		return m.RecentFailuresFunc(ctx, subject, since)
	}
	return []*models.Attempt{}, nil
}

func (m *MockAttemptRepository) LastSuccessTime(ctx context.Context, subject string) (*time.Time, error) {
	if m.LastSuccessTimeFunc != nil {
		return m.LastSuccessTimeFunc(ctx, subject)
	}
	return nil, nil
}

// MockBlockRepository implements BlockRepository for testing
type MockBlockRepository struct {
	ActiveBlocksFunc   func(ctx context.Context, subject string) ([]*models.Block, error)
	CreateFunc         func(ctx context.Context, spec *models.BlockSpec, expiresAt time.Time) (*models.Block, error)
	RefreshFunc        func(ctx context.Context, id, reason string, failureCount int) error
	DeactivateFunc     func(ctx context.Context, subject, kind string) (int64, error)
	DeactivateByIDFunc func(ctx context.Context, id string) error
	ListActiveFunc     func(ctx context.Context) ([]*models.Block, error)
}

func (m *MockBlockRepository) ActiveBlocks(ctx context.Context, subject string) ([]*models.Block, error) {
	if m.ActiveBlocksFunc != nil {
		return m.ActiveBlocksFunc(ctx, subject)
	}
	return []*models.Block{}, nil
}

func (m *MockBlockRepository) Create(ctx context.Context, spec *models.BlockSpec, expiresAt time.Time) (*models.Block, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, spec, expiresAt)
	}
	return &models.Block{
		ID:                     "block_123",
		Subject:                spec.Subject,
		Kind:                   spec.Kind,
		Reason:                 spec.Reason,
		TriggeringFailureCount: spec.FailureCount,
		Active:                 true,
		CreatedAt:              time.Now(),
		ExpiresAt:              expiresAt,
	}, nil
}

func (m *MockBlockRepository) Refresh(ctx context.Context, id, reason string, failureCount int) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, id, reason, failureCount)
	}
	return nil
}

func (m *MockBlockRepository) Deactivate(ctx context.Context, subject, kind string) (int64, error) {
	if m.DeactivateFunc != nil {
		return m.DeactivateFunc(ctx, subject, kind)
	}
	return 0, nil
}

func (m *MockBlockRepository) DeactivateByID(ctx context.Context, id string) error {
	if m.DeactivateByIDFunc != nil {
		return m.DeactivateByIDFunc(ctx, id)
	}
	return nil
}

func (m *MockBlockRepository) ListActive(ctx context.Context) ([]*models.Block, error) {
	if m.ListActiveFunc != nil {
		return m.ListActiveFunc(ctx)
	}
	return []*models.Block{}, nil
}

// MockDeviceTrustRepository implements DeviceTrustRepository for testing
type MockDeviceTrustRepository struct {
	FindFunc          func(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error)
	InsertFunc        func(ctx context.Context, rec *models.DeviceTrustRecord) error
	TouchLastUsedFunc func(ctx context.Context, id string, usedAt time.Time) error
	RevokeFunc        func(ctx context.Context, subject, fingerprint string) (int64, error)
}

func (m *MockDeviceTrustRepository) Find(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, subject, fingerprint)
	}
	return nil, models.ErrNotFound
}

func (m *MockDeviceTrustRepository) Insert(ctx context.Context, rec *models.DeviceTrustRecord) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, rec)
	}
	return nil
}

func (m *MockDeviceTrustRepository) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	if m.TouchLastUsedFunc != nil {
		return m.TouchLastUsedFunc(ctx, id, usedAt)
	}
	return nil
}

func (m *MockDeviceTrustRepository) Revoke(ctx context.Context, subject, fingerprint string) (int64, error) {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, subject, fingerprint)
	}
	return 0, nil
}

// MockSessionRepository implements SessionRepository for testing
type MockSessionRepository struct {
	InsertFunc                  func(ctx context.Context, s *models.Session) error
	GetByIDFunc                 func(ctx context.Context, id string) (*models.Session, error)
	InvalidateFunc              func(ctx context.Context, id string) error
	InvalidateAllForSubjectFunc func(ctx context.Context, subjectID string) (int64, error)
}

func (m *MockSessionRepository) Insert(ctx context.Context, s *models.Session) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, s)
	}
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSessionRepository) Invalidate(ctx context.Context, id string) error {
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, id)
	}
	return nil
}

func (m *MockSessionRepository) InvalidateAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	if m.InvalidateAllForSubjectFunc != nil {
		return m.InvalidateAllForSubjectFunc(ctx, subjectID)
	}
	return 0, nil
}

// MockSubjectRepository implements SubjectReader, SubjectStore, and
// SubjectWriter for testing
type MockSubjectRepository struct {
	GetByIDFunc            func(ctx context.Context, id string) (*models.Subject, error)
	GetByEmailFunc         func(ctx context.Context, email string) (*models.Subject, error)
	SetSecondFactorKeyFunc func(ctx context.Context, id string, encryptedKey string) error
	SetActiveFunc          func(ctx context.Context, id string, active bool) error
}

func (m *MockSubjectRepository) GetByID(ctx context.Context, id string) (*models.Subject, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSubjectRepository) GetByEmail(ctx context.Context, email string) (*models.Subject, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockSubjectRepository) SetSecondFactorKey(ctx context.Context, id string, encryptedKey string) error {
	if m.SetSecondFactorKeyFunc != nil {
		return m.SetSecondFactorKeyFunc(ctx, id, encryptedKey)
	}
	return nil
}

func (m *MockSubjectRepository) SetActive(ctx context.Context, id string, active bool) error {
	if m.SetActiveFunc != nil {
		return m.SetActiveFunc(ctx, id, active)
	}
	return nil
}

// MockAuditLogRepository implements AuditLogRepository for testing,
// collecting created records for assertions.
type MockAuditLogRepository struct {
	mu          sync.Mutex
	CreateFunc  func(ctx context.Context, log *models.AuditLog) error
	ListFunc    func(ctx context.Context, limit int) ([]*models.AuditLog, error)
	CreatedLogs []*models.AuditLog
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	m.mu.Lock()
	m.CreatedLogs = append(m.CreatedLogs, log)
	m.mu.Unlock()
	return nil
}

func (m *MockAuditLogRepository) ListRecent(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CreatedLogs, nil
}

// Actions returns the actions of all created records, for assertions.
func (m *MockAuditLogRepository) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.CreatedLogs))
	for _, l := range m.CreatedLogs {
		actions = append(actions, l.Action)
	}
	return actions
}

// MockVerifier implements IdentityVerifier for testing
type MockVerifier struct {
	VerifyFunc func(ctx context.Context, email, password string) (CredentialResult, error)
	mu         sync.Mutex
	Calls      int
}

func (m *MockVerifier) Verify(ctx context.Context, email, password string) (CredentialResult, error) {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, email, password)
	}
	return CredentialResult{}, nil
}

// MockNotificationSink implements NotificationSink for testing
type MockNotificationSink struct {
	mu               sync.Mutex
	BlocksNotified   []string
	DevicesNotified  []string
	RefusalsNotified []string
}

func (m *MockNotificationSink) BlockCreated(subject string, block *models.Block) {
	m.mu.Lock()
	m.BlocksNotified = append(m.BlocksNotified, subject)
	m.mu.Unlock()
}

func (m *MockNotificationSink) NewDeviceLogin(subject, ipAddress string) {
	m.mu.Lock()
	m.DevicesNotified = append(m.DevicesNotified, subject)
	m.mu.Unlock()
}

func (m *MockNotificationSink) BlockedAttempt(subject, ipAddress string) {
	m.mu.Lock()
	m.RefusalsNotified = append(m.RefusalsNotified, subject)
	m.mu.Unlock()
}

// newTestLogger returns a logger that discards output.
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestAuditService wires an AuditService over the given mock repo.
func newTestAuditService(repo *MockAuditLogRepository) *AuditService {
	logger := newTestLogger()
	return NewAuditService(repo, pkglogger.NewAuditLogger(logger), logger)
}

// defaultTestLockoutConfig mirrors the production defaults.
func defaultTestLockoutConfig() LockoutConfig {
	return LockoutConfig{
		ShortTermThreshold: 5,
		ShortTermWindow:    1 * time.Hour,
		ShortTermBlock:     5 * time.Hour,
		DailyThreshold:     10,
		DailyWindow:        24 * time.Hour,
		DailyBlock:         24 * time.Hour,
	}
}

// NewTestSubject creates an active subject with a real bcrypt hash of
// password. Hashing at cost 14 is slow; tests that don't exercise the
// verifier should use NewTestSubjectWithHash instead.
func NewTestSubject(id, email, password string) *models.Subject {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		panic(fmt.Sprintf("failed to hash test password: %v", err))
	}
	return NewTestSubjectWithHash(id, email, hash)
}

// NewTestSubjectWithHash creates an active subject with the given hash.
func NewTestSubjectWithHash(id, email, hash string) *models.Subject {
	now := time.Now()
	return &models.Subject{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewTestBlock creates an active block expiring after duration.
func NewTestBlock(id, subject, kind string, duration time.Duration) *models.Block {
	now := time.Now()
	return &models.Block{
		ID:        id,
		Subject:   subject,
		Kind:      kind,
		Reason:    "test block",
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}
}

// NewTestFailures creates n failed attempts spaced a minute apart ending
// at end, newest first.
func NewTestFailures(subject string, n int, end time.Time) []*models.Attempt {
	reason := models.FailureBadCredentials
	attempts := make([]*models.Attempt, n)
	for i := 0; i < n; i++ {
		attempts[i] = &models.Attempt{
			ID:            fmt.Sprintf("attempt_%d", i),
			Subject:       subject,
			Success:       false,
			FailureReason: &reason,
			Category:      models.CategoryLogin,
			AttemptTime:   end.Add(-time.Duration(i) * time.Minute),
		}
	}
	return attempts
}
