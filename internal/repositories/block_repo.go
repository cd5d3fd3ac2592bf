package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/models"
)

const blockColumns = `id, subject, kind, reason, triggering_failure_count, active, created_at, expires_at`

// BlockRepository handles database operations for lockout blocks.
type BlockRepository struct {
	db *database.DB
}

// NewBlockRepository creates a new BlockRepository
func NewBlockRepository(db *database.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

func scanBlock(row pgx.Row) (*models.Block, error) {
	b := &models.Block{}
	err := row.Scan(&b.ID, &b.Subject, &b.Kind, &b.Reason, &b.TriggeringFailureCount,
		&b.Active, &b.CreatedAt, &b.ExpiresAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return b, nil
}

// ActiveBlocks returns all rows still flagged active for a subject,
// newest first, expired or not. The service layer applies lazy expiry and
// the duplicate-active self-heal on top of this.
func (r *BlockRepository) ActiveBlocks(ctx context.Context, subject string) ([]*models.Block, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		WHERE subject = $1 AND active
		ORDER BY created_at DESC
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, query, subject)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var blocks []*models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return blocks, nil
}

// Create atomically deactivates any prior active block of the same kind
// and inserts the new one. The partial unique index on (subject, kind)
// WHERE active makes the swap safe even if two processes race: the loser
// hits a unique violation and surfaces ErrConflict.
func (r *BlockRepository) Create(ctx context.Context, spec *models.BlockSpec, expiresAt time.Time) (*models.Block, error) {
	var block *models.Block

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE blocks SET active = false WHERE subject = $1 AND kind = $2 AND active`,
			spec.Subject, spec.Kind)
		if err != nil {
			return database.MapPostgresError(err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO blocks (subject, kind, reason, triggering_failure_count, active, expires_at)
			VALUES ($1, $2, $3, $4, true, $5)
			RETURNING `+blockColumns,
			spec.Subject, spec.Kind, spec.Reason, spec.FailureCount, expiresAt)

		block, err = scanBlock(row)
		return err
	})
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return block, nil
}

// Refresh updates reason and failure count on an existing active block
// without touching its expiry. Continued failures while blocked must not
// postpone the unblock time.
func (r *BlockRepository) Refresh(ctx context.Context, id, reason string, failureCount int) error {
	query := `
		UPDATE blocks
		SET reason = $2, triggering_failure_count = $3
		WHERE id = $1 AND active
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, query, id, reason, failureCount)
	return database.MapPostgresError(err)
}

// Deactivate clears active blocks for a subject. With kind == "" all
// kinds are cleared. Returns the number of rows deactivated.
func (r *BlockRepository) Deactivate(ctx context.Context, subject, kind string) (int64, error) {
	query := `UPDATE blocks SET active = false WHERE subject = $1 AND active`
	args := []interface{}{subject}

	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeactivateByID clears a single block row, used by the duplicate-active
// self-heal.
func (r *BlockRepository) DeactivateByID(ctx context.Context, id string) error {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `UPDATE blocks SET active = false WHERE id = $1`, id)
	return database.MapPostgresError(err)
}

// ListActive returns every block currently in effect across all subjects,
// for the admin console.
func (r *BlockRepository) ListActive(ctx context.Context) ([]*models.Block, error) {
	query := `
		SELECT ` + blockColumns + `
		FROM blocks
		WHERE active AND expires_at > NOW()
		ORDER BY created_at DESC
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var blocks []*models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return blocks, nil
}

// DeactivateExpired flips stale active rows for storage hygiene. Lazy
// expiry on read remains authoritative; this only keeps the table tidy.
func (r *BlockRepository) DeactivateExpired(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	result, err := r.db.Pool.Exec(ctx,
		`UPDATE blocks SET active = false WHERE active AND expires_at <= NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}
