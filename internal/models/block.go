package models

import "time"

// Block kinds.
const (
	BlockKindShortTerm = "short_term"
	BlockKindDaily     = "daily_limit"
	BlockKindManual    = "manual"
)

// Block is an active or historical lockout for a subject. At most one
// active block of a given kind may exist per subject; the partial unique
// index on (subject, kind) WHERE active backs that invariant in storage.
type Block struct {
	ID                     string    `db:"id"`
	Subject                string    `db:"subject"`
	Kind                   string    `db:"kind"`
	Reason                 string    `db:"reason"`
	TriggeringFailureCount int       `db:"triggering_failure_count"`
	Active                 bool      `db:"active"`
	CreatedAt              time.Time `db:"created_at"`
	ExpiresAt              time.Time `db:"expires_at"`
}

// InEffect reports whether the block currently denies access. Expiry is
// evaluated lazily; an expired row may still carry active=true until a
// sweep or the next read deactivates it.
func (b *Block) InEffect(now time.Time) bool {
	return b.Active && now.Before(b.ExpiresAt)
}

// BlockSpec describes a block the lockout policy has decided to create.
type BlockSpec struct {
	Subject      string
	Kind         string
	Reason       string
	FailureCount int
	Duration     time.Duration
}
