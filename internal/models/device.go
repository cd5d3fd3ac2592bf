package models

import "time"

// DeviceTrustRecord marks a device as having completed a fully verified
// login for a subject. TrustedUntil is fixed at creation; trust is
// re-earned after expiry, never refreshed in place. A subject may hold
// one record per device concurrently.
type DeviceTrustRecord struct {
	ID              string    `db:"id"`
	Subject         string    `db:"subject"`
	Fingerprint     string    `db:"fingerprint"`
	IPAddress       string    `db:"ip_address"`
	ClientSignature string    `db:"client_signature"`
	TrustedUntil    time.Time `db:"trusted_until"`
	CreatedAt       time.Time `db:"created_at"`
	LastUsedAt      time.Time `db:"last_used_at"`
}

// Trusted reports whether the record still grants a second-factor skip.
func (r *DeviceTrustRecord) Trusted(now time.Time) bool {
	return now.Before(r.TrustedUntil)
}
