package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/models"
)

// SessionRepository defines the storage interface for sessions
type SessionRepository interface {
	Insert(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Invalidate(ctx context.Context, id string) error
	InvalidateAllForSubject(ctx context.Context, subjectID string) (int64, error)
}

// SubjectReader is the slice of the subject repository the session
// manager needs for snapshot loads.
type SubjectReader interface {
	GetByID(ctx context.Context, id string) (*models.Subject, error)
}

// SessionConfig holds session manager tuning.
type SessionConfig struct {
	TTL      time.Duration
	CacheTTL time.Duration
	CacheMax int
}

type cacheEntry struct {
	snapshot  models.SubjectSnapshot
	sessionID string
	expiresAt time.Time
}

// SessionService owns the session lifecycle: opaque token issuance,
// validation, and invalidation. The in-process cache keeps repeated
// validations within a short window off the durable store; it is a
// latency optimization only, the store stays authoritative, so a cold
// cache on another instance after failover costs nothing but time.
type SessionService struct {
	repo     SessionRepository
	subjects SubjectReader
	config   SessionConfig
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry // keyed by token hash
}

// NewSessionService creates a new SessionService
func NewSessionService(repo SessionRepository, subjects SubjectReader, config SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:     repo,
		subjects: subjects,
		config:   config,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

// Issue generates an unguessable opaque token, persists the session, and
// returns the token string. Only the token's hash touches storage.
func (s *SessionService) Issue(ctx context.Context, subjectID, ipAddress, clientSignature string) (string, *models.Session, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		s.logger.Error("failed to generate session token", slog.Any("error", err))
		return "", nil, models.ErrInternalServer
	}

	session := &models.Session{
		ID:              token.ID,
		SubjectID:       subjectID,
		TokenHash:       token.Hash(),
		IPAddress:       ipAddress,
		ClientSignature: clientSignature,
		Active:          true,
		ExpiresAt:       time.Now().Add(s.config.TTL),
	}

	if err := s.repo.Insert(ctx, session); err != nil {
		s.logger.Error("failed to persist session", slog.Any("error", err))
		if errors.Is(err, models.ErrStorageUnavailable) {
			return "", nil, err
		}
		return "", nil, models.ErrStorageUnavailable
	}

	return token.String(), session, nil
}

// Validate checks a presented token and returns the subject it
// authenticates. Shape is verified before any lookup; a recent positive
// validation is served from the cache. If the durable store is
// unreachable the result is ErrStorageUnavailable, never a valid
// session.
func (s *SessionService) Validate(ctx context.Context, rawToken string) (*models.SubjectSnapshot, error) {
	token, err := auth.ParseSessionToken(rawToken)
	if err != nil {
		return nil, models.ErrInvalidToken
	}

	hash := token.Hash()
	now := time.Now()

	s.mu.RLock()
	entry, hit := s.cache[hash]
	s.mu.RUnlock()
	if hit && now.Before(entry.expiresAt) {
		snapshot := entry.snapshot
		return &snapshot, nil
	}

	session, err := s.repo.GetByID(ctx, token.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		s.logger.Error("session lookup failed, failing closed", slog.Any("error", err))
		return nil, models.ErrStorageUnavailable
	}

	if !auth.VerifyTokenHash(token, session.TokenHash) || !session.Valid(now) {
		return nil, models.ErrInvalidToken
	}

	subject, err := s.subjects.GetByID(ctx, session.SubjectID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrInvalidToken
		}
		s.logger.Error("subject lookup failed, failing closed", slog.Any("error", err))
		return nil, models.ErrStorageUnavailable
	}

	if !subject.Active {
		return nil, models.ErrInvalidToken
	}

	snapshot := subject.Snapshot()
	s.cachePut(hash, cacheEntry{
		snapshot:  snapshot,
		sessionID: session.ID,
		expiresAt: now.Add(s.config.CacheTTL),
	})

	return &snapshot, nil
}

// Invalidate marks the session inactive and purges its cache entry. The
// purge happens before the durable write: a cache hit that outlives a
// logout is a security bug, so invalidation never waits for the TTL.
func (s *SessionService) Invalidate(ctx context.Context, rawToken string) error {
	token, err := auth.ParseSessionToken(rawToken)
	if err != nil {
		return models.ErrInvalidToken
	}

	s.mu.Lock()
	delete(s.cache, token.Hash())
	s.mu.Unlock()

	if err := s.repo.Invalidate(ctx, token.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to invalidate session", slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	return nil
}

// InvalidateAllForSubject kills every active session for a subject and
// drops their cached validations, used when an operator deactivates an
// account.
func (s *SessionService) InvalidateAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	s.mu.Lock()
	for hash, entry := range s.cache {
		if entry.snapshot.ID == subjectID {
			delete(s.cache, hash)
		}
	}
	s.mu.Unlock()

	return s.repo.InvalidateAllForSubject(ctx, subjectID)
}

// RefreshSubjectSnapshot re-reads the subject's mutable attributes and
// updates every cached validation carrying them. Privilege or active
// status can change out-of-band; the cache must not keep serving the old
// values for the rest of its TTL.
func (s *SessionService) RefreshSubjectSnapshot(ctx context.Context, subjectID string) error {
	subject, err := s.subjects.GetByID(ctx, subjectID)
	if err != nil {
		return err
	}

	snapshot := subject.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, entry := range s.cache {
		if entry.snapshot.ID != subjectID {
			continue
		}
		if !subject.Active {
			delete(s.cache, hash)
			continue
		}
		entry.snapshot = snapshot
		s.cache[hash] = entry
	}

	return nil
}

// cachePut stores a validation result, keeping the cache bounded. When
// full even after dropping expired entries, the result simply is not
// cached; correctness never depends on a cache write.
func (s *SessionService) cachePut(hash string, entry cacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) >= s.config.CacheMax {
		now := time.Now()
		for h, e := range s.cache {
			if now.After(e.expiresAt) {
				delete(s.cache, h)
			}
		}
		if len(s.cache) >= s.config.CacheMax {
			return
		}
	}

	s.cache[hash] = entry
}
