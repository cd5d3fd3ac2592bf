package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/matchwell/gatekeeper/internal/models"
	pkgauth "github.com/matchwell/gatekeeper/pkg/auth"
)

// CredentialResult is the outcome of a single credential check.
type CredentialResult struct {
	Valid         bool
	AccountActive bool
	Subject       *models.Subject
}

// IdentityVerifier checks a subject's credentials. Implementations must
// be safe to call concurrently and must perform at most one expensive
// comparison per call.
type IdentityVerifier interface {
	Verify(ctx context.Context, email, password string) (CredentialResult, error)
}

// SubjectStore is the slice of the subject repository the verifier needs.
type SubjectStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Subject, error)
}

// PasswordVerifier is the default IdentityVerifier, backed by bcrypt
// hashes in the subject store. An unknown email still burns a hash
// comparison so response timing does not reveal account existence.
type PasswordVerifier struct {
	subjects SubjectStore
	logger   *slog.Logger
}

// NewPasswordVerifier creates a new PasswordVerifier
func NewPasswordVerifier(subjects SubjectStore, logger *slog.Logger) *PasswordVerifier {
	return &PasswordVerifier{subjects: subjects, logger: logger}
}

// decoyHash is a valid bcrypt hash of a random string, compared against
// when the email is unknown.
const decoyHash = "$2a$14$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func (v *PasswordVerifier) Verify(ctx context.Context, email, password string) (CredentialResult, error) {
	subject, err := v.subjects.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(decoyHash, password)
			return CredentialResult{}, nil
		}
		v.logger.Error("subject lookup failed during credential check", slog.Any("error", err))
		return CredentialResult{}, models.ErrStorageUnavailable
	}

	if err := pkgauth.ComparePassword(subject.PasswordHash, password); err != nil {
		return CredentialResult{AccountActive: subject.Active, Subject: subject}, nil
	}

	return CredentialResult{Valid: true, AccountActive: subject.Active, Subject: subject}, nil
}
