package repositories

import (
	"context"
	"time"

	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/models"
)

const subjectColumns = `id, email, password_hash, active, admin, second_factor_key, created_at, updated_at, password_changed_at`

// SubjectRepository handles database operations for subject accounts.
type SubjectRepository struct {
	db *database.DB
}

// NewSubjectRepository creates a new SubjectRepository
func NewSubjectRepository(db *database.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// GetByEmail fetches a subject by its normalized email.
func (r *SubjectRepository) GetByEmail(ctx context.Context, email string) (*models.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE email = $1`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	s := &models.Subject{}
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&s.ID, &s.Email, &s.PasswordHash, &s.Active, &s.Admin, &s.SecondFactorKey,
		&s.CreatedAt, &s.UpdatedAt, &s.PasswordChangedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return s, nil
}

// GetByID fetches a subject by id.
func (r *SubjectRepository) GetByID(ctx context.Context, id string) (*models.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE id = $1`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	s := &models.Subject{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.Email, &s.PasswordHash, &s.Active, &s.Admin, &s.SecondFactorKey,
		&s.CreatedAt, &s.UpdatedAt, &s.PasswordChangedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return s, nil
}

// Create inserts a subject account.
func (r *SubjectRepository) Create(ctx context.Context, s *models.Subject) (*models.Subject, error) {
	query := `
		INSERT INTO subjects (email, password_hash, active, admin, password_changed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, query,
		s.Email, s.PasswordHash, s.Active, s.Admin, s.PasswordChangedAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return s, nil
}

// SetSecondFactorKey stores the encrypted TOTP secret after enrollment.
func (r *SubjectRepository) SetSecondFactorKey(ctx context.Context, id, encryptedKey string) error {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx,
		`UPDATE subjects SET second_factor_key = $2, updated_at = $3 WHERE id = $1`,
		id, encryptedKey, time.Now())
	return database.MapPostgresError(err)
}

// SetActive flips the account's active flag. Returns ErrNotFound when no
// subject matches.
func (r *SubjectRepository) SetActive(ctx context.Context, id string, active bool) error {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE subjects SET active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now())
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
