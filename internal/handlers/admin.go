package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/matchwell/gatekeeper/internal/auth"
	"github.com/matchwell/gatekeeper/internal/models"
	pkghttp "github.com/matchwell/gatekeeper/pkg/http"
)

// AdminServiceInterface defines the interface for operator actions
type AdminServiceInterface interface {
	ListActiveBlocks(ctx context.Context) ([]*models.Block, error)
	Unblock(ctx context.Context, actor, subject, kind string) (int64, error)
	RevokeDevice(ctx context.Context, actor, subject, fingerprint string) error
	RecentAudit(ctx context.Context, limit int) ([]*models.AuditLog, error)
	EnrollSecondFactor(ctx context.Context, actor, email string) (*auth.Enrollment, error)
	DeactivateSubject(ctx context.Context, actor, email string) (int64, error)
	ReactivateSubject(ctx context.Context, actor, email string) error
}

// AdminHandler handles the operator console endpoints. All routes are
// mounted behind RequireAdmin.
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// BlockResponse is a block as the admin API presents it
type BlockResponse struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason"`
	FailureCount int       `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UnblockResponse reports how many blocks an unblock cleared
type UnblockResponse struct {
	Cleared int64 `json:"cleared"`
}

// DeactivateSubjectResponse reports how many sessions a deactivation
// revoked
type DeactivateSubjectResponse struct {
	SessionsRevoked int64 `json:"sessions_revoked"`
}

// EnrollSecondFactorRequest represents the request body for enrollment
type EnrollSecondFactorRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// EnrollSecondFactorResponse carries the one-time setup material
type EnrollSecondFactorResponse struct {
	Secret    string `json:"secret"`
	QRDataURL string `json:"qr_data_url"`
}

// actor returns the authenticated operator's identity for audit records.
func actor(r *http.Request) string {
	if snapshot := auth.GetSubjectFromContext(r); snapshot != nil {
		return snapshot.Email
	}
	return ""
}

// ListBlocks returns every block currently in effect
// @Summary List active blocks
// @Produce json
// @Success 200 {array} BlockResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /admin/blocks [get]
func (h *AdminHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.service.ListActiveBlocks(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}

	resp := make([]BlockResponse, 0, len(blocks))
	for _, b := range blocks {
		resp = append(resp, BlockResponse{
			ID:           b.ID,
			Subject:      b.Subject,
			Kind:         b.Kind,
			Reason:       b.Reason,
			FailureCount: b.TriggeringFailureCount,
			CreatedAt:    b.CreatedAt,
			ExpiresAt:    b.ExpiresAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Unblock clears a subject's active blocks
// @Summary Deactivate blocks for a subject
// @Param subject path string true "Subject identifier"
// @Param kind query string false "Block kind to clear; all kinds when omitted"
// @Produce json
// @Success 200 {object} UnblockResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /admin/blocks/{subject} [delete]
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	subject, err := url.PathUnescape(chi.URLParam(r, "subject"))
	if err != nil || subject == "" {
		pkghttp.WriteBadRequest(w, "Invalid subject")
		return
	}
	subject = strings.ToLower(strings.TrimSpace(subject))
	kind := r.URL.Query().Get("kind")

	cleared, err := h.service.Unblock(r.Context(), actor(r), subject, kind)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Unknown block kind")
			return
		}
		writeAdminError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(UnblockResponse{Cleared: cleared})
}

// RevokeDevice forgets a trusted device
// @Summary Revoke device trust
// @Param subject path string true "Subject identifier"
// @Param fingerprint path string true "Device fingerprint"
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /admin/devices/{subject}/{fingerprint} [delete]
func (h *AdminHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	subject, err := url.PathUnescape(chi.URLParam(r, "subject"))
	if err != nil || subject == "" {
		pkghttp.WriteBadRequest(w, "Invalid subject")
		return
	}
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		pkghttp.WriteBadRequest(w, "Invalid fingerprint")
		return
	}

	if err := h.service.RevokeDevice(r.Context(), actor(r), strings.ToLower(subject), fingerprint); err != nil {
		writeAdminError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Audit returns the newest audit records
// @Summary List recent audit records
// @Param limit query int false "Maximum records to return"
// @Produce json
// @Success 200 {array} models.AuditLog
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /admin/audit [get]
func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "Invalid limit")
			return
		}
		limit = parsed
	}

	logs, err := h.service.RecentAudit(r.Context(), limit)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(logs)
}

// DeactivateSubject disables an account and revokes its sessions
// @Summary Deactivate a subject
// @Param subject path string true "Subject identifier"
// @Produce json
// @Success 200 {object} DeactivateSubjectResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /admin/subjects/{subject}/deactivate [post]
func (h *AdminHandler) DeactivateSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := url.PathUnescape(chi.URLParam(r, "subject"))
	if err != nil || subject == "" {
		pkghttp.WriteBadRequest(w, "Invalid subject")
		return
	}
	subject = strings.ToLower(strings.TrimSpace(subject))

	revoked, err := h.service.DeactivateSubject(r.Context(), actor(r), subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Subject not found")
			return
		}
		writeAdminError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(DeactivateSubjectResponse{SessionsRevoked: revoked})
}

// ReactivateSubject re-enables a deactivated account
// @Summary Reactivate a subject
// @Param subject path string true "Subject identifier"
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /admin/subjects/{subject}/reactivate [post]
func (h *AdminHandler) ReactivateSubject(w http.ResponseWriter, r *http.Request) {
	subject, err := url.PathUnescape(chi.URLParam(r, "subject"))
	if err != nil || subject == "" {
		pkghttp.WriteBadRequest(w, "Invalid subject")
		return
	}
	subject = strings.ToLower(strings.TrimSpace(subject))

	if err := h.service.ReactivateSubject(r.Context(), actor(r), subject); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Subject not found")
			return
		}
		writeAdminError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// EnrollSecondFactor provisions a TOTP secret for a subject
// @Summary Enroll a subject's second factor
// @Accept json
// @Param request body EnrollSecondFactorRequest true "Enrollment request"
// @Produce json
// @Success 201 {object} EnrollSecondFactorResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 503 {object} pkghttp.ErrorResponse
// @Router /admin/second-factor/enroll [post]
func (h *AdminHandler) EnrollSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req EnrollSecondFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	enrollment, err := h.service.EnrollSecondFactor(r.Context(), actor(r),
		strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Subject not found")
			return
		}
		writeAdminError(w, err)
		return
	}

	// The plaintext secret and QR appear in this response only; the
	// server retains just the encrypted form.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(EnrollSecondFactorResponse{
		Secret:    enrollment.Secret,
		QRDataURL: enrollment.QRDataURL,
	})
}

func writeAdminError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrStorageUnavailable) {
		pkghttp.WriteServiceUnavailable(w, "Unable to process the request. Please retry.")
		return
	}
	pkghttp.WriteInternalError(w, "Internal server error")
}
