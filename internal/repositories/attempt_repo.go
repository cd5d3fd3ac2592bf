package repositories

import (
	"context"
	"time"

	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/models"
)

// AttemptRepository is the durable side of the attempt ledger. Rows are
// append-only; nothing here mutates an attempt after insert.
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record inserts one attempt row and returns its id.
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.Attempt) (string, error) {
	query := `
		INSERT INTO attempts (subject, success, failure_reason, category, ip_address, client_signature, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, attempt_time
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, query,
		attempt.Subject,
		attempt.Success,
		attempt.FailureReason,
		attempt.Category,
		attempt.IPAddress,
		attempt.ClientSignature,
		attempt.ExpiresAt,
	).Scan(&attempt.ID, &attempt.AttemptTime)
	if err != nil {
		return "", database.MapPostgresError(err)
	}

	return attempt.ID, nil
}

// RecentFailures returns failed attempts for subject since the given
// time, newest first. Both lockout windows are counted from this one
// result set so they can never disagree. Attempts denied while a block
// was in force never reached the credential check and are excluded;
// otherwise retries during a block would keep re-arming the thresholds
// after an operator unblocks.
func (r *AttemptRepository) RecentFailures(ctx context.Context, subject string, since time.Time) ([]*models.Attempt, error) {
	query := `
		SELECT id, subject, success, failure_reason, category, ip_address, client_signature, attempt_time, expires_at
		FROM attempts
		WHERE subject = $1 AND success = false AND attempt_time >= $2
		  AND (failure_reason IS NULL OR failure_reason != 'blocked')
		ORDER BY attempt_time DESC
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, query, subject, since)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var attempts []*models.Attempt
	for rows.Next() {
		a := &models.Attempt{}
		err := rows.Scan(&a.ID, &a.Subject, &a.Success, &a.FailureReason, &a.Category,
			&a.IPAddress, &a.ClientSignature, &a.AttemptTime, &a.ExpiresAt)
		if err != nil {
			return nil, database.MapPostgresError(err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return attempts, nil
}

// LastSuccessTime returns the timestamp of the most recent successful
// attempt for subject, or nil when there is none.
func (r *AttemptRepository) LastSuccessTime(ctx context.Context, subject string) (*time.Time, error) {
	query := `
		SELECT attempt_time FROM attempts
		WHERE subject = $1 AND success = true
		ORDER BY attempt_time DESC
		LIMIT 1
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	var successTime time.Time
	err := r.db.Pool.QueryRow(ctx, query, subject).Scan(&successTime)
	if err != nil {
		if mapped := database.MapPostgresError(err); mapped == models.ErrNotFound {
			return nil, nil
		} else {
			return nil, mapped
		}
	}

	return &successTime, nil
}

// DeleteExpired removes attempt rows past their retention time.
func (r *AttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM attempts WHERE expires_at <= NOW()`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
