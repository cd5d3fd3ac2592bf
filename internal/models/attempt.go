package models

import "time"

// Attempt categories. Password reset and account unlock tries count toward
// the same windows as regular logins.
const (
	CategoryLogin         = "login"
	CategoryPasswordReset = "password_reset"
	CategoryAccountUnlock = "account_unlock"
)

// Failure reasons recorded on attempts.
const (
	FailureBadCredentials     = "bad_credentials"
	FailureBlocked            = "blocked"
	FailureAccountInactive    = "account_inactive"
	FailureSecondFactorFailed = "second_factor_failed"
)

// Attempt is a single authentication try. Rows are immutable once written
// and retained for at least the daily window plus audit margin.
type Attempt struct {
	ID              string    `db:"id"`
	Subject         string    `db:"subject"`
	Success         bool      `db:"success"`
	FailureReason   *string   `db:"failure_reason"`
	Category        string    `db:"category"`
	IPAddress       string    `db:"ip_address"`
	ClientSignature string    `db:"client_signature"`
	AttemptTime     time.Time `db:"attempt_time"`
	ExpiresAt       time.Time `db:"expires_at"`
}

// FailureWindows is a consistent snapshot of failure counts over both
// lockout windows. Both counts come from one query so the short-term and
// daily checks can never disagree about the underlying attempts.
type FailureWindows struct {
	ShortTerm int
	Daily     int
	TakenAt   time.Time
}
