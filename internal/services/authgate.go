package services

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/models"
	pkglogger "github.com/matchwell/gatekeeper/pkg/logger"
)

// attemptLockCount is the number of stripes in the per-subject mutex.
// Locking per stripe keeps the read-evaluate-block sequence for one
// subject serialized within this process without a single global lock.
const attemptLockCount = 64

// LoginRequest carries everything one authentication try arrives with.
type LoginRequest struct {
	Email            string
	Password         string
	IPAddress        string
	UserAgent        string
	DisplaySignature string
}

// LoginResult is the outcome of a successful or deferred login.
type LoginResult struct {
	// Token is the opaque session token when the login completed.
	Token string
	// ChallengeToken is set instead when a second factor is still owed.
	ChallengeToken string
	Subject        models.SubjectSnapshot
}

// SecondFactorRequired reports whether the result is a deferred login.
func (r *LoginResult) SecondFactorRequired() bool {
	return r.ChallengeToken != ""
}

// AuthGate is the single entry point for authentication attempts. Every
// try runs the same sequence: block check first, then exactly one
// credential check, then the device-trust decision. Nothing reaches the
// credential verifier while a block is in effect.
type AuthGate struct {
	ledger       *LedgerService
	policy       *LockoutPolicy
	blocks       *BlockService
	trust        *DeviceTrustService
	sessions     *SessionService
	verifier     IdentityVerifier
	challenge    *auth.ChallengeManager
	secondFactor *auth.SecondFactorManager
	subjects     SubjectStore
	audit        *AuditService
	notify       NotificationSink
	timing       *auth.TimingDelay
	logger       *slog.Logger

	attemptLocks [attemptLockCount]sync.Mutex
}

// AuthGateDeps bundles the collaborators an AuthGate needs.
type AuthGateDeps struct {
	Ledger       *LedgerService
	Policy       *LockoutPolicy
	Blocks       *BlockService
	Trust        *DeviceTrustService
	Sessions     *SessionService
	Verifier     IdentityVerifier
	Challenge    *auth.ChallengeManager
	SecondFactor *auth.SecondFactorManager
	Subjects     SubjectStore
	Audit        *AuditService
	Notify       NotificationSink
	Timing       *auth.TimingDelay
	Logger       *slog.Logger
}

// NewAuthGate creates a new AuthGate
func NewAuthGate(deps AuthGateDeps) *AuthGate {
	return &AuthGate{
		ledger:       deps.Ledger,
		policy:       deps.Policy,
		blocks:       deps.Blocks,
		trust:        deps.Trust,
		sessions:     deps.Sessions,
		verifier:     deps.Verifier,
		challenge:    deps.Challenge,
		secondFactor: deps.SecondFactor,
		subjects:     deps.Subjects,
		audit:        deps.Audit,
		notify:       deps.Notify,
		timing:       deps.Timing,
		logger:       deps.Logger,
	}
}

// CanAttempt answers the pre-flight question without touching
// credentials: is an attempt for subject currently allowed? Only block
// presence matters here. Window counts are evaluated when failures are
// recorded, so an operator's unblock takes effect on the very next
// attempt even while the counts still sit over a threshold.
func (g *AuthGate) CanAttempt(ctx context.Context, subject string) error {
	block, err := g.blocks.ActiveBlock(ctx, subject)
	if err != nil {
		return models.ErrStorageUnavailable
	}
	if block != nil {
		return &models.PolicyDeniedError{
			Kind:       block.Kind,
			RetryAfter: time.Until(block.ExpiresAt),
		}
	}

	return nil
}

// Login runs one full authentication attempt. The attempt check runs
// before the credential check; denied attempts never touch the verifier
// and are recorded with reason "blocked" rather than counted as bad
// credentials. Storage trouble aborts the attempt as retryable and
// records nothing.
func (g *AuthGate) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	subject := req.Email

	if err := g.CanAttempt(ctx, subject); err != nil {
		if denied, ok := models.IsPolicyDenied(err); ok {
			reason := models.FailureBlocked
			if _, recErr := g.ledger.Record(ctx, subject, false, &reason, models.CategoryLogin, req.IPAddress, req.DisplaySignature); recErr != nil {
				g.logger.Error("failed to record blocked attempt",
					slog.String("subject", pkglogger.SanitizedEmail(subject)),
					slog.Any("error", recErr))
			}
			g.notify.BlockedAttempt(subject, req.IPAddress)
			g.timing.Wait(false)
			return nil, denied
		}
		return nil, err
	}

	result, err := g.verifier.Verify(ctx, subject, req.Password)
	if err != nil {
		// Verifier trouble is indistinguishable from storage trouble;
		// abort retryable, count nothing.
		return nil, models.ErrStorageUnavailable
	}

	if !result.Valid {
		if err := g.recordFailure(ctx, subject, models.FailureBadCredentials, req); err != nil {
			return nil, err
		}
		g.timing.Wait(false)
		return nil, models.ErrUnauthorized
	}

	if !result.AccountActive {
		if err := g.recordFailure(ctx, subject, models.FailureAccountInactive, req); err != nil {
			return nil, err
		}
		g.timing.Wait(false)
		return nil, models.ErrUnauthorized
	}

	fingerprint := auth.DeriveFingerprint(req.IPAddress, req.UserAgent, req.DisplaySignature)

	if !g.trust.IsTrusted(ctx, subject, fingerprint) {
		challengeToken, err := g.challenge.Issue(subject, fingerprint)
		if err != nil {
			g.logger.Error("failed to issue challenge token", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		g.timing.Wait(true)
		return &LoginResult{
			ChallengeToken: challengeToken,
			Subject:        result.Subject.Snapshot(),
		}, nil
	}

	return g.completeLogin(ctx, result.Subject, req.IPAddress, req.DisplaySignature, false)
}

// CompleteChallenge finishes a deferred login: the challenge token proves
// credentials already checked out on this device, the TOTP code proves
// the second factor. The block check reruns because a block may have been
// created between the two calls.
func (g *AuthGate) CompleteChallenge(ctx context.Context, challengeToken, code string, req LoginRequest) (*LoginResult, error) {
	claims, err := g.challenge.Verify(challengeToken)
	if err != nil {
		return nil, models.ErrInvalidToken
	}

	fingerprint := auth.DeriveFingerprint(req.IPAddress, req.UserAgent, req.DisplaySignature)
	if fingerprint != claims.Fingerprint {
		// The completion call came from a different device than the
		// credential check. Treat the token as stolen.
		return nil, models.ErrInvalidToken
	}

	subject := claims.Subject

	block, err := g.blocks.ActiveBlock(ctx, subject)
	if err != nil {
		return nil, models.ErrStorageUnavailable
	}
	if block != nil {
		return nil, &models.PolicyDeniedError{
			Kind:       block.Kind,
			RetryAfter: time.Until(block.ExpiresAt),
		}
	}

	account, err := g.subjects.GetByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		return nil, models.ErrStorageUnavailable
	}
	if !account.Active {
		return nil, models.ErrUnauthorized
	}
	if account.SecondFactorKey == nil {
		return nil, models.ErrSecondFactorRequired
	}

	valid, err := g.secondFactor.Validate(*account.SecondFactorKey, code)
	if err != nil {
		g.logger.Error("second factor validation failed",
			slog.String("subject", pkglogger.SanitizedEmail(subject)),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		if err := g.recordFailure(ctx, subject, models.FailureSecondFactorFailed, req); err != nil {
			return nil, err
		}
		g.timing.Wait(false)
		return nil, models.ErrUnauthorized
	}

	if err := g.trust.Trust(ctx, subject, fingerprint, req.IPAddress, req.DisplaySignature); err != nil {
		// A failed trust write only costs the user another challenge
		// next time; the login itself still completes.
		g.logger.Warn("failed to record device trust",
			slog.String("subject", pkglogger.SanitizedEmail(subject)),
			slog.Any("error", err))
	}

	return g.completeLogin(ctx, account, req.IPAddress, req.DisplaySignature, true)
}

// completeLogin records the success and issues the session.
func (g *AuthGate) completeLogin(ctx context.Context, account *models.Subject, ipAddress, clientSignature string, newDevice bool) (*LoginResult, error) {
	if _, err := g.ledger.Record(ctx, account.Email, true, nil, models.CategoryLogin, ipAddress, clientSignature); err != nil {
		return nil, err
	}

	token, _, err := g.sessions.Issue(ctx, account.ID, ipAddress, clientSignature)
	if err != nil {
		return nil, err
	}

	if newDevice {
		g.notify.NewDeviceLogin(account.Email, ipAddress)
	}

	g.timing.Wait(true)
	return &LoginResult{
		Token:   token,
		Subject: account.Snapshot(),
	}, nil
}

// recordFailure appends the failed attempt, re-evaluates the windows, and
// creates whatever block the policy now calls for. The whole sequence
// holds the subject's stripe lock so concurrent failures in this process
// cannot each read a pre-threshold count and skip block creation.
func (g *AuthGate) recordFailure(ctx context.Context, subject, reason string, req LoginRequest) error {
	lock := &g.attemptLocks[stripeFor(subject)]
	lock.Lock()
	defer lock.Unlock()

	if _, err := g.ledger.Record(ctx, subject, false, &reason, models.CategoryLogin, req.IPAddress, req.DisplaySignature); err != nil {
		return err
	}

	windows, err := g.ledger.FailureWindows(ctx, subject)
	if err != nil {
		return err
	}

	spec := g.policy.ShouldCreateBlock(windows)
	if spec == nil {
		return nil
	}
	spec.Subject = subject

	// The block must land even if the client hangs up mid-request. The
	// detached context is still bounded: every durable call underneath
	// applies the repository query timeout.
	blockCtx := context.WithoutCancel(ctx)
	block, created, err := g.blocks.Apply(blockCtx, spec)
	if err != nil {
		// A decided block that failed to land must not degrade into a
		// plain 401; the caller gets a retryable outage instead.
		g.logger.Error("failed to apply lockout block",
			slog.String("subject", pkglogger.SanitizedEmail(subject)),
			slog.String("kind", spec.Kind),
			slog.Any("error", err))
		return models.ErrStorageUnavailable
	}

	if created {
		g.notify.BlockCreated(subject, block)
	}

	return nil
}

// Logout invalidates the presented session.
func (g *AuthGate) Logout(ctx context.Context, rawToken string) error {
	return g.sessions.Invalidate(ctx, rawToken)
}

func stripeFor(subject string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return h.Sum32() % attemptLockCount
}
