package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/models"
	"github.com/matchwell/gatekeeper/internal/services"
	pkghttp "github.com/matchwell/gatekeeper/pkg/http"
)

// AuthGateInterface defines the interface for the login orchestration
type AuthGateInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	CompleteChallenge(ctx context.Context, challengeToken, code string, req services.LoginRequest) (*services.LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	gate     AuthGateInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(gate AuthGateInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		gate:     gate,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required"`
	DisplaySignature string `json:"display_signature" validate:"max=128"`
}

// VerifyChallengeRequest represents the request body for completing a
// pending second-factor challenge
type VerifyChallengeRequest struct {
	ChallengeToken   string `json:"challenge_token" validate:"required"`
	Code             string `json:"code" validate:"required,len=6"`
	DisplaySignature string `json:"display_signature" validate:"max=128"`
}

// Response DTOs

// SessionResponse is returned on a completed login
type SessionResponse struct {
	Token   string          `json:"token"`
	Subject SubjectResponse `json:"subject"`
}

// ChallengeResponse is returned when a second factor is still owed
type ChallengeResponse struct {
	ChallengeToken string `json:"challenge_token"`
	Message        string `json:"message"`
}

// SubjectResponse is the subject as the API presents it
type SubjectResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Admin bool   `json:"admin,omitempty"`
}

func toSubjectResponse(s models.SubjectSnapshot) SubjectResponse {
	return SubjectResponse{ID: s.ID, Email: s.Email, Admin: s.Admin}
}

func (h *AuthHandler) serviceRequest(r *http.Request, email, password, displaySignature string) services.LoginRequest {
	return services.LoginRequest{
		Email:            email,
		Password:         password,
		IPAddress:        pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:        r.Header.Get("User-Agent"),
		DisplaySignature: displaySignature,
	}
}

// Login handles an authentication attempt
// @Summary Authenticate a subject
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} SessionResponse
// @Success 202 {object} ChallengeResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.gate.Login(r.Context(), h.serviceRequest(r, req.Email, req.Password, req.DisplaySignature))
	if err != nil {
		writeLoginError(w, err)
		return
	}

	if result.SecondFactorRequired() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ChallengeResponse{
			ChallengeToken: result.ChallengeToken,
			Message:        "Second factor required. Complete the challenge to finish signing in.",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(SessionResponse{
		Token:   result.Token,
		Subject: toSubjectResponse(result.Subject),
	})
}

// VerifyChallenge completes a pending second-factor challenge
// @Summary Complete a second-factor challenge
// @Accept json
// @Param request body VerifyChallengeRequest true "Challenge completion"
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /auth/verify-challenge [post]
func (h *AuthHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req VerifyChallengeRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.gate.CompleteChallenge(r.Context(), req.ChallengeToken, req.Code,
		h.serviceRequest(r, "", "", req.DisplaySignature))
	if err != nil {
		writeLoginError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(SessionResponse{
		Token:   result.Token,
		Subject: toSubjectResponse(result.Subject),
	})
}

// Logout invalidates the presented session
// @Summary Sign out
// @Success 204
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.GetSessionTokenFromContext(r)
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.gate.Logout(r.Context(), token); err != nil {
		if errors.Is(err, models.ErrStorageUnavailable) {
			pkghttp.WriteServiceUnavailable(w, "Unable to complete sign-out. Please retry.")
			return
		}
		pkghttp.WriteUnauthorized(w, "Invalid session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Session returns the subject behind the presented session token
// @Summary Introspect the current session
// @Produce json
// @Success 200 {object} SubjectResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/session [get]
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	snapshot := auth.GetSubjectFromContext(r)
	if snapshot == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(toSubjectResponse(*snapshot))
}

// writeLoginError maps orchestrator errors to HTTP responses. Bad
// credentials, inactive accounts, and unknown emails all produce the
// same generic 401 so the API never confirms account existence.
func writeLoginError(w http.ResponseWriter, err error) {
	if denied, ok := models.IsPolicyDenied(err); ok {
		pkghttp.WriteLocked(w, "Too many failed attempts. Please try again later.", denied.RetryAfter)
		return
	}

	switch {
	case errors.Is(err, models.ErrStorageUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Unable to process the request. Please retry.")
	case errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrAccountInactive),
		errors.Is(err, models.ErrInvalidToken),
		errors.Is(err, models.ErrSecondFactorRequired):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
