package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	Action        string
	Actor         string
	Subject       string
	IPAddress     string
	Success       bool
	FailureReason string
	Details       map[string]string
}

// AuditLogger writes structured audit events through slog. It is the log
// half of the dual-write; the database half lives in the audit service.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log emits one audit event. Failures log at WARN so lockout and denial
// activity stands out in aggregate log queries.
func (al *AuditLogger) Log(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("action", event.Action),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Actor != "" {
		attrs = append(attrs, slog.String("actor", event.Actor))
	}
	if event.Subject != "" {
		attrs = append(attrs, slog.String("subject", SanitizedEmail(event.Subject)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Details {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
