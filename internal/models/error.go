package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// ErrStorageUnavailable marks a transient durable-store failure. The
	// attempt is aborted with a retryable error and is never counted as a
	// failed login; the HTTP layer maps it to a 503, not 401.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidToken covers malformed and expired session tokens alike.
	// Always treated as "not authenticated", never as a server error.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrSecondFactorRequired signals that credentials checked out but the
	// device is untrusted, so a challenge must be completed first.
	ErrSecondFactorRequired = errors.New("second factor required")

	ErrAccountInactive = errors.New("account is inactive")
)

// PolicyDeniedError is an expected, user-facing denial: an active block is
// in effect. The user-visible message stays generic; RetryAfter is the
// machine-readable hint for the caller.
type PolicyDeniedError struct {
	Kind       string
	RetryAfter time.Duration
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("denied by lockout policy (%s), retry after %s", e.Kind, e.RetryAfter)
}

// IsPolicyDenied reports whether err is a lockout denial and returns it.
func IsPolicyDenied(err error) (*PolicyDeniedError, bool) {
	var pd *PolicyDeniedError
	if errors.As(err, &pd) {
		return pd, true
	}
	return nil, false
}
