package services

import (
	"context"
	"testing"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionService(repo SessionRepository, subjects SubjectReader) *SessionService {
	return NewSessionService(repo, subjects, SessionConfig{
		TTL:      12 * time.Hour,
		CacheTTL: 10 * time.Second,
		CacheMax: 100,
	}, newTestLogger())
}

// inMemorySessionRepo is a stateful fake backing the round-trip tests.
type inMemorySessionRepo struct {
	sessions map[string]*models.Session
	failing  bool
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *inMemorySessionRepo) Insert(ctx context.Context, s *models.Session) error {
	if r.failing {
		return models.ErrStorageUnavailable
	}
	copied := *s
	r.sessions[s.ID] = &copied
	return nil
}

func (r *inMemorySessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	if r.failing {
		return nil, models.ErrStorageUnavailable
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *inMemorySessionRepo) Invalidate(ctx context.Context, id string) error {
	if r.failing {
		return models.ErrStorageUnavailable
	}
	s, ok := r.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	s.Active = false
	return nil
}

func (r *inMemorySessionRepo) InvalidateAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	var n int64
	for _, s := range r.sessions {
		if s.SubjectID == subjectID && s.Active {
			s.Active = false
			n++
		}
	}
	return n, nil
}

func testSubjectReader(subject *models.Subject) *MockSubjectRepository {
	return &MockSubjectRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Subject, error) {
			if subject != nil && id == subject.ID {
				return subject, nil
			}
			return nil, models.ErrNotFound
		},
	}
}

func TestSessionIssueAndValidate_RoundTrip(t *testing.T) {
	repo := newInMemorySessionRepo()
	subject := NewTestSubjectWithHash("subj_1", "user@example.com", "hash")
	svc := newTestSessionService(repo, testSubjectReader(subject))
	ctx := context.Background()

	token, session, err := svc.Issue(ctx, "subj_1", "192.168.1.1", "sig")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEqual(t, token, session.TokenHash)

	snapshot, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "subj_1", snapshot.ID)
	assert.Equal(t, "user@example.com", snapshot.Email)
}

func TestSessionValidate_MalformedTokenNeverReachesStorage(t *testing.T) {
	lookups := 0
	repo := &MockSessionRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.Session, error) {
			lookups++
			return nil, models.ErrNotFound
		},
	}
	svc := newTestSessionService(repo, testSubjectReader(nil))

	for _, raw := range []string{
		"",
		"garbage",
		"not-a-uuid_1700000000_AAAA",
		"c0ffee00-0000-0000-0000-000000000000_notatime_AAAA",
		"c0ffee00-0000-0000-0000-000000000000_1700000000_tooshort",
	} {
		_, err := svc.Validate(context.Background(), raw)
		assert.ErrorIs(t, err, models.ErrInvalidToken, "token %q", raw)
	}
	assert.Equal(t, 0, lookups)
}

func TestSessionValidate_UnknownTokenIsInvalid(t *testing.T) {
	repo := newInMemorySessionRepo()
	svc := newTestSessionService(repo, testSubjectReader(nil))

	// well-shaped but never issued
	_, err := svc.Validate(context.Background(),
		"c0ffee00-0000-0000-0000-000000000000_1700000000_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestSessionValidate_FailsClosedOnStorageOutage(t *testing.T) {
	repo := newInMemorySessionRepo()
	subject := NewTestSubjectWithHash("subj_1", "user@example.com", "hash")
	svc := newTestSessionService(repo, testSubjectReader(subject))
	ctx := context.Background()

	token, _, err := svc.Issue(ctx, "subj_1", "192.168.1.1", "sig")
	require.NoError(t, err)

	repo.failing = true

	_, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
}

func TestSessionValidate_CacheServesRepeatedValidations(t *testing.T) {
	repo := newInMemorySessionRepo()
	subject := NewTestSubjectWithHash("subj_1", "user@example.com", "hash")
	svc := newTestSessionService(repo, testSubjectReader(subject))
	ctx := context.Background()

	token, _, err := svc.Issue(ctx, "subj_1", "192.168.1.1", "sig")
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token)
	require.NoError(t, err)

	// The store going away within the cache window doesn't break
	// validation; the cached positive result carries it.
	repo.failing = true
	snapshot, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "subj_1", snapshot.ID)
}

func TestSessionInvalidate_TakesEffectImmediately(t *testing.T) {
	repo := newInMemorySessionRepo()
	subject := NewTestSubjectWithHash("subj_1", "user@example.com", "hash")
	svc := newTestSessionService(repo, testSubjectReader(subject))
	ctx := context.Background()

	token, _, err := svc.Issue(ctx, "subj_1", "192.168.1.1", "sig")
	require.NoError(t, err)

	// Warm the cache, then log out.
	_, err = svc.Validate(ctx, token)
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx, token))

	// No TTL grace period: the very next validation must fail.
	_, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestSessionValidate_InactiveSubjectIsInvalid(t *testing.T) {
	repo := newInMemorySessionRepo()
	subject := NewTestSubjectWithHash("subj_1", "user@example.com", "hash")
	subject.Active = false
	svc := newTestSessionService(repo, testSubjectReader(subject))
	ctx := context.Background()

	token, _, err := svc.Issue(ctx, "subj_1", "192.168.1.1", "sig")
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}

func TestSessionRefreshSubjectSnapshot_UpdatesCachedPrivilege(t *testing.T) {
	repo := newInMemorySessionRepo()
	subject := NewTestSubjectWithHash("subj_1", "user@example.com", "hash")
	svc := newTestSessionService(repo, testSubjectReader(subject))
	ctx := context.Background()

	token, _, err := svc.Issue(ctx, "subj_1", "192.168.1.1", "sig")
	require.NoError(t, err)

	snapshot, err := svc.Validate(ctx, token)
	require.NoError(t, err)
	require.False(t, snapshot.Admin)

	subject.Admin = true
	require.NoError(t, svc.RefreshSubjectSnapshot(ctx, "subj_1"))

	snapshot, err = svc.Validate(ctx, token)
	require.NoError(t, err)
	assert.True(t, snapshot.Admin)
}

func TestSessionInvalidateAllForSubject_DropsCacheEntries(t *testing.T) {
	repo := newInMemorySessionRepo()
	subject := NewTestSubjectWithHash("subj_1", "user@example.com", "hash")
	svc := newTestSessionService(repo, testSubjectReader(subject))
	ctx := context.Background()

	token1, _, err := svc.Issue(ctx, "subj_1", "192.168.1.1", "sig")
	require.NoError(t, err)
	token2, _, err := svc.Issue(ctx, "subj_1", "192.168.1.2", "sig")
	require.NoError(t, err)

	_, err = svc.Validate(ctx, token1)
	require.NoError(t, err)
	_, err = svc.Validate(ctx, token2)
	require.NoError(t, err)

	n, err := svc.InvalidateAllForSubject(ctx, "subj_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = svc.Validate(ctx, token1)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
	_, err = svc.Validate(ctx, token2)
	assert.ErrorIs(t, err, models.ErrInvalidToken)
}
