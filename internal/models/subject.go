package models

import "time"

// Subject is an account under authentication: a regular user or a
// separately privileged administrative actor.
type Subject struct {
	ID                string     `db:"id"`
	Email             string     `db:"email"`
	PasswordHash      string     `db:"password_hash"`
	Active            bool       `db:"active"`
	Admin             bool       `db:"admin"`
	SecondFactorKey   *string    `db:"second_factor_key"` // encrypted TOTP secret, nil until enrolled
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
	PasswordChangedAt *time.Time `db:"password_changed_at"`
}

// SubjectSnapshot is the mutable slice of a subject cached alongside a
// validated session. Privilege and active status can change out-of-band,
// so snapshots are refreshed rather than trusted past the cache TTL.
type SubjectSnapshot struct {
	ID     string
	Email  string
	Active bool
	Admin  bool
}

// Snapshot extracts the cacheable attributes.
func (s *Subject) Snapshot() SubjectSnapshot {
	return SubjectSnapshot{
		ID:     s.ID,
		Email:  s.Email,
		Active: s.Active,
		Admin:  s.Admin,
	}
}
