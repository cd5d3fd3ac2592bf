package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error      string `json:"error"`                 // Machine-readable error code
	Message    string `json:"message"`               // Human-readable message
	RetryAfter int64  `json:"retry_after,omitempty"` // Seconds until the caller may retry
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "forbidden", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "conflict", message)
}

// WriteLocked reports a lockout denial. The message stays generic; the
// retry hint is machine-readable in both the header and the body.
func WriteLocked(w http.ResponseWriter, message string, retryAfter time.Duration) {
	seconds := int64(retryAfter / time.Second)
	if seconds > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:      "too_many_attempts",
		Message:    message,
		RetryAfter: seconds,
	})
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

// WriteServiceUnavailable reports a transient storage outage. Callers get
// a retryable 503, never "invalid credentials".
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}
