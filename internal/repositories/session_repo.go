package repositories

import (
	"context"

	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/models"
)

// SessionRepository handles database operations for sessions. Only the
// session service calls into it; session lifecycle has a single owner.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert persists a new session row.
func (r *SessionRepository) Insert(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (id, subject_id, token_hash, ip_address, client_signature, active, expires_at)
		VALUES ($1, $2, $3, $4, $5, true, $6)
		RETURNING created_at
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, query,
		s.ID, s.SubjectID, s.TokenHash, s.IPAddress, s.ClientSignature, s.ExpiresAt,
	).Scan(&s.CreatedAt)

	return database.MapPostgresError(err)
}

// GetByID fetches a session by its id segment, or ErrNotFound.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, subject_id, token_hash, ip_address, client_signature, active, created_at, expires_at
		FROM sessions
		WHERE id = $1
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	s := &models.Session{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.SubjectID, &s.TokenHash, &s.IPAddress, &s.ClientSignature,
		&s.Active, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return s, nil
}

// Invalidate marks a session inactive.
func (r *SessionRepository) Invalidate(ctx context.Context, id string) error {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx,
		`UPDATE sessions SET active = false WHERE id = $1`, id)
	return database.MapPostgresError(err)
}

// InvalidateAllForSubject marks every active session for a subject
// inactive, used when an operator deactivates an account.
func (r *SessionRepository) InvalidateAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE sessions SET active = false WHERE subject_id = $1 AND active`, subjectID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes expired session rows.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
