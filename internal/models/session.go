package models

import "time"

// Session is the artifact of a completed login. Only the session service
// mutates session rows.
type Session struct {
	ID              string    `db:"id"`
	SubjectID       string    `db:"subject_id"`
	TokenHash       string    `db:"token_hash"`
	IPAddress       string    `db:"ip_address"`
	ClientSignature string    `db:"client_signature"`
	Active          bool      `db:"active"`
	CreatedAt       time.Time `db:"created_at"`
	ExpiresAt       time.Time `db:"expires_at"`
}

// Valid reports whether the session authenticates a request right now.
func (s *Session) Valid(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}
