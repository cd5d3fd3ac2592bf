package integration

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/handlers"
	"github.com/matchwell/gatekeeper/internal/models"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test database: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()

	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func newApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	require.NoError(t, testDB.CleanupTables(context.Background()))

	app, err := newTestApp(testDB.DB)
	require.NoError(t, err)
	return app
}

const (
	userAddr  = "203.0.113.10:40000"
	userAgent = "integration-client/1.0"
	userSig   = "display-sig-1"

	adminAddr  = "198.51.100.9:51000"
	adminAgent = "admin-console/1.0"
	adminSig   = "admin-display-sig"
)

// adminSession seeds an admin with a pre-trusted device and signs them in.
func adminSession(t *testing.T, app *testApp) string {
	t.Helper()
	ctx := context.Background()

	const email = "operator@example.com"
	const password = "operator-password-1"
	_, err := SeedSubject(ctx, app.Subjects, email, password, true)
	require.NoError(t, err)

	fp := auth.DeriveFingerprint("198.51.100.9", adminAgent, adminSig)
	require.NoError(t, app.Trust.Trust(ctx, email, fp, "198.51.100.9", adminSig))

	rec := app.do(request{
		Method:     http.MethodPost,
		Path:       "/auth/login",
		Body:       map[string]string{"email": email, "password": password, "display_signature": adminSig},
		RemoteAddr: adminAddr,
		UserAgent:  adminAgent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp, err := decodeJSON[handlers.SessionResponse](rec)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestChallengeFlow_EndToEnd(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	const email = "member@example.com"
	const password = "member-password-1"
	subject, err := SeedSubject(ctx, app.Subjects, email, password, false)
	require.NoError(t, err)

	enrollment, err := app.SecondFactor.Enroll(email)
	require.NoError(t, err)
	require.NoError(t, app.Subjects.SetSecondFactorKey(ctx, subject.ID, enrollment.EncryptedSecret))

	// First login from an unknown device owes a second factor.
	rec := app.do(request{
		Method:     http.MethodPost,
		Path:       "/auth/login",
		Body:       map[string]string{"email": email, "password": password, "display_signature": userSig},
		RemoteAddr: userAddr,
		UserAgent:  userAgent,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	challenge, err := decodeJSON[handlers.ChallengeResponse](rec)
	require.NoError(t, err)
	require.NotEmpty(t, challenge.ChallengeToken)

	code, err := totp.GenerateCodeCustom(enrollment.Secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)

	rec = app.do(request{
		Method: http.MethodPost,
		Path:   "/auth/verify-challenge",
		Body: map[string]string{
			"challenge_token":   challenge.ChallengeToken,
			"code":              code,
			"display_signature": userSig,
		},
		RemoteAddr: userAddr,
		UserAgent:  userAgent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	session, err := decodeJSON[handlers.SessionResponse](rec)
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	assert.Equal(t, email, session.Subject.Email)
	assert.Contains(t, app.Notifier.DevicesNotified, email)

	// The session introspects.
	rec = app.do(request{Method: http.MethodGet, Path: "/auth/session", Token: session.Token})
	require.Equal(t, http.StatusOK, rec.Code)

	me, err := decodeJSON[handlers.SubjectResponse](rec)
	require.NoError(t, err)
	assert.Equal(t, email, me.Email)

	// The device is now trusted: the next login skips the challenge.
	rec = app.do(request{
		Method:     http.MethodPost,
		Path:       "/auth/login",
		Body:       map[string]string{"email": email, "password": password, "display_signature": userSig},
		RemoteAddr: userAddr,
		UserAgent:  userAgent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Logout invalidates the session immediately, with no cache grace.
	rec = app.do(request{Method: http.MethodPost, Path: "/auth/logout", Token: session.Token})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = app.do(request{Method: http.MethodGet, Path: "/auth/session", Token: session.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLockout_BlocksAndAdminUnblockRestoresAccess(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	const email = "victim@example.com"
	const password = "victim-password-1"
	_, err := SeedSubject(ctx, app.Subjects, email, password, false)
	require.NoError(t, err)

	login := func(pw string) *httptest.ResponseRecorder {
		return app.do(request{
			Method:     http.MethodPost,
			Path:       "/auth/login",
			Body:       map[string]string{"email": email, "password": pw, "display_signature": userSig},
			RemoteAddr: userAddr,
			UserAgent:  userAgent,
		})
	}

	for i := 0; i < 5; i++ {
		rec := login("wrong-password")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d: %s", i+1, rec.Body.String())
	}

	// The fifth failure crossed the threshold; even correct credentials
	// are now refused without a credential check.
	rec := login(password)
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, app.Notifier.BlocksNotified, email)

	adminToken := adminSession(t, app)

	rec = app.do(request{Method: http.MethodGet, Path: "/admin/blocks", Token: adminToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	blocks, err := decodeJSON[[]handlers.BlockResponse](rec)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, email, blocks[0].Subject)
	assert.Equal(t, models.BlockKindShortTerm, blocks[0].Kind)

	rec = app.do(request{
		Method: http.MethodDelete,
		Path:   "/admin/blocks/" + url.PathEscape(email),
		Token:  adminToken,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cleared, err := decodeJSON[handlers.UnblockResponse](rec)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cleared.Cleared, int64(1))

	// Access is restored on the very next attempt. The device is still
	// unknown, so the response is a challenge rather than a denial.
	rec = login(password)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	const email = "plain@example.com"
	const password = "plain-password-1"
	_, err := SeedSubject(ctx, app.Subjects, email, password, false)
	require.NoError(t, err)

	fp := auth.DeriveFingerprint("203.0.113.10", userAgent, userSig)
	require.NoError(t, app.Trust.Trust(ctx, email, fp, "203.0.113.10", userSig))

	rec := app.do(request{
		Method:     http.MethodPost,
		Path:       "/auth/login",
		Body:       map[string]string{"email": email, "password": password, "display_signature": userSig},
		RemoteAddr: userAddr,
		UserAgent:  userAgent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	session, err := decodeJSON[handlers.SessionResponse](rec)
	require.NoError(t, err)

	rec = app.do(request{Method: http.MethodGet, Path: "/admin/blocks", Token: session.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(request{Method: http.MethodGet, Path: "/admin/blocks"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminDeactivateSubject_KillsLiveSession(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()
	adminToken := adminSession(t, app)

	const email = "leaver@example.com"
	const password = "leaver-password-1"
	_, err := SeedSubject(ctx, app.Subjects, email, password, false)
	require.NoError(t, err)

	fp := auth.DeriveFingerprint("203.0.113.10", userAgent, userSig)
	require.NoError(t, app.Trust.Trust(ctx, email, fp, "203.0.113.10", userSig))

	rec := app.do(request{
		Method:     http.MethodPost,
		Path:       "/auth/login",
		Body:       map[string]string{"email": email, "password": password, "display_signature": userSig},
		RemoteAddr: userAddr,
		UserAgent:  userAgent,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session, err := decodeJSON[handlers.SessionResponse](rec)
	require.NoError(t, err)

	rec = app.do(request{Method: http.MethodGet, Path: "/auth/session", Token: session.Token})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(request{Method: http.MethodPost, Path: "/admin/subjects/" + email + "/deactivate", Token: adminToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result, err := decodeJSON[handlers.DeactivateSubjectResponse](rec)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.SessionsRevoked, int64(1))

	// The session dies immediately, cached validation included.
	rec = app.do(request{Method: http.MethodGet, Path: "/auth/session", Token: session.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(request{Method: http.MethodPost, Path: "/admin/subjects/" + email + "/reactivate", Token: adminToken})
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
}

func TestBlockStore_CreateSwapsPriorActiveBlock(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	spec := &models.BlockSpec{
		Subject:      "swap@example.com",
		Kind:         models.BlockKindShortTerm,
		Reason:       "too many failures",
		FailureCount: 5,
	}
	expires := time.Now().Add(5 * time.Hour)

	first, err := app.BlockRepo.Create(ctx, spec, expires)
	require.NoError(t, err)

	// A sequential re-create deactivates the prior row inside the same
	// transaction and inserts a fresh one; the partial unique index only
	// rejects a concurrent creator.
	second, err := app.BlockRepo.Create(ctx, spec, expires.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.Active)

	active, err := app.BlockRepo.ActiveBlocks(ctx, spec.Subject)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestAttemptRetention_SweepDeletesExpiredRows(t *testing.T) {
	app := newApp(t)
	ctx := context.Background()

	_, err := testDB.DB.Pool.Exec(ctx, `
		INSERT INTO attempts (subject, success, failure_reason, expires_at)
		VALUES ('stale@example.com', false, 'bad_credentials', NOW() - INTERVAL '1 hour')
	`)
	require.NoError(t, err)

	deleted, err := app.Attempts.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(1))
}
