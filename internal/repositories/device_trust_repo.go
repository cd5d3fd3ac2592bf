package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/matchwell/gatekeeper/internal/database"
	"github.com/matchwell/gatekeeper/internal/models"
)

// DeviceTrustRepository handles database operations for device trust records.
type DeviceTrustRepository struct {
	db *database.DB
}

// NewDeviceTrustRepository creates a new DeviceTrustRepository
func NewDeviceTrustRepository(db *database.DB) *DeviceTrustRepository {
	return &DeviceTrustRepository{db: db}
}

// Find returns the newest trust record for (subject, fingerprint), or
// ErrNotFound. Expired records are returned as well; the service decides
// what "trusted" means.
func (r *DeviceTrustRepository) Find(ctx context.Context, subject, fingerprint string) (*models.DeviceTrustRecord, error) {
	query := `
		SELECT id, subject, fingerprint, ip_address, client_signature, trusted_until, created_at, last_used_at
		FROM device_trust
		WHERE subject = $1 AND fingerprint = $2
		ORDER BY trusted_until DESC
		LIMIT 1
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	rec := &models.DeviceTrustRecord{}
	err := r.db.Pool.QueryRow(ctx, query, subject, fingerprint).Scan(
		&rec.ID, &rec.Subject, &rec.Fingerprint, &rec.IPAddress, &rec.ClientSignature,
		&rec.TrustedUntil, &rec.CreatedAt, &rec.LastUsedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return rec, nil
}

// Insert creates a fresh trust record. Always a new row and a new window;
// existing records are never extended.
func (r *DeviceTrustRepository) Insert(ctx context.Context, rec *models.DeviceTrustRecord) error {
	query := `
		INSERT INTO device_trust (subject, fingerprint, ip_address, client_signature, trusted_until)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, last_used_at
	`

	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, query,
		rec.Subject, rec.Fingerprint, rec.IPAddress, rec.ClientSignature, rec.TrustedUntil,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.LastUsedAt)

	return database.MapPostgresError(err)
}

// TouchLastUsed bumps last_used_at on a recognized record. trusted_until
// is deliberately untouched.
func (r *DeviceTrustRepository) TouchLastUsed(ctx context.Context, id string, usedAt time.Time) error {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx,
		`UPDATE device_trust SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	return database.MapPostgresError(err)
}

// Revoke deletes all trust records for (subject, fingerprint). Returns
// how many rows were removed; revoking an unknown device is not an error.
func (r *DeviceTrustRepository) Revoke(ctx context.Context, subject, fingerprint string) (int64, error) {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM device_trust WHERE subject = $1 AND fingerprint = $2`, subject, fingerprint)
	if err != nil {
		mapped := database.MapPostgresError(err)
		if errors.Is(mapped, models.ErrNotFound) {
			return 0, nil
		}
		return 0, mapped
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes trust records whose window has passed.
func (r *DeviceTrustRepository) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.WithQueryTimeout(ctx)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM device_trust WHERE trusted_until <= NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
