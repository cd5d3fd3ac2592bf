package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/matchwell/gatekeeper/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SubjectContextKey is the key for storing the validated subject in context
	SubjectContextKey contextKey = "subject"
	// SessionTokenContextKey holds the raw token for logout
	SessionTokenContextKey contextKey = "session_token"
)

// SessionValidator is the slice of the session manager the middleware
// needs. Validation fails closed: storage trouble means 503, never a
// silently accepted request.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.SubjectSnapshot, error)
}

// SessionMiddleware validates the bearer session token and injects the
// subject snapshot into the request context.
func SessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			token := parts[1]

			snapshot, err := validator.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, models.ErrStorageUnavailable) {
					http.Error(w, "unable to verify session", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SubjectContextKey, snapshot)
			ctx = context.WithValue(ctx, SessionTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin enforces the administrative actor class. Must run after
// SessionMiddleware.
func RequireAdmin() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snapshot := GetSubjectFromContext(r)
			if snapshot == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !snapshot.Admin {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSubjectFromContext retrieves the validated subject from the request
// context, or nil when unauthenticated.
func GetSubjectFromContext(r *http.Request) *models.SubjectSnapshot {
	snapshot, ok := r.Context().Value(SubjectContextKey).(*models.SubjectSnapshot)
	if !ok {
		return nil
	}
	return snapshot
}

// GetSessionTokenFromContext retrieves the raw bearer token.
func GetSessionTokenFromContext(r *http.Request) string {
	token, ok := r.Context().Value(SessionTokenContextKey).(string)
	if !ok {
		return ""
	}
	return token
}
