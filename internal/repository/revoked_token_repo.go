package repository

import (
	"context"
	"fmt"
	"time"

	"familyledger/internal/database"
)

// RevokedTokenRepository stores blacklisted token IDs until they expire
type RevokedTokenRepository struct {
	db database.DBTX
}

// NewRevokedTokenRepository creates a new revoked token repository
func NewRevokedTokenRepository(db database.DBTX) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

// Revoke records jti as revoked. Revoking the same jti twice is not an error.
func (r *RevokedTokenRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	query := `INSERT INTO revoked_tokens (jti, expires_at, revoked_at) VALUES (?, ?, ?)`
	if _, err := r.db.Exec(ctx, query, jti, expiresAt.UTC(), now()); err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked
func (r *RevokedTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?", jti).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}
	return count > 0, nil
}

// PruneExpired deletes revocation records for tokens that have expired anyway
func (r *RevokedTokenRepository) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, "DELETE FROM revoked_tokens WHERE expires_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune revoked tokens: %w", err)
	}
	return result.RowsAffected()
}
