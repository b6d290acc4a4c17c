package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"familyledger/internal/database"
	"familyledger/internal/models"
)

const userColumns = `id, email, name, password_hash, is_email_verified,
	COALESCE(email_verification_token, ''), email_verification_expires_at,
	COALESCE(password_reset_token, ''), password_reset_expires_at,
	family_id, role_in_family, is_active,
	COALESCE(oauth_provider, ''), COALESCE(oauth_subject, ''),
	last_login_at, created_at, updated_at`

// UserRepository handles database operations for users
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *UserRepository) WithTx(tx *database.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var verificationExpires, resetExpires, lastLogin sql.NullTime
	var familyID sql.NullInt64
	var role string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsEmailVerified,
		&user.EmailVerificationToken,
		&verificationExpires,
		&user.PasswordResetToken,
		&resetExpires,
		&familyID,
		&role,
		&user.IsActive,
		&user.OAuthProvider,
		&user.OAuthSubject,
		&lastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.EmailVerificationExpiresAt = timePtr(verificationExpires)
	user.PasswordResetExpiresAt = timePtr(resetExpires)
	user.FamilyID = int64Ptr(familyID)
	user.RoleInFamily = models.Role(role)
	user.LastLoginAt = timePtr(lastLogin)
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, args ...interface{}) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE " + where
	user, err := scanUser(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Create inserts a new user. Email must already be in canonical form.
// Returns ErrDuplicate when the email or OAuth identity is taken.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	ts := now()
	if user.RoleInFamily == "" {
		user.RoleInFamily = models.RoleMember
	}

	query := `
		INSERT INTO users (email, name, password_hash, is_email_verified, family_id, role_in_family,
			is_active, oauth_provider, oauth_subject, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query,
		user.Email, user.Name, user.PasswordHash, user.IsEmailVerified, nullInt64(user.FamilyID),
		string(user.RoleInFamily), true, nullString(user.OAuthProvider), nullString(user.OAuthSubject), ts, ts)
	if err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user.ID = id
	user.IsActive = true
	user.CreatedAt = ts
	user.UpdatedAt = ts
	return user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByEmail retrieves a user by canonical email address
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email = ?", email)
}

// GetByOAuth retrieves a user linked to an external identity
func (r *UserRepository) GetByOAuth(ctx context.Context, provider, subject string) (*models.User, error) {
	return r.getOne(ctx, "oauth_provider = ? AND oauth_subject = ?", provider, subject)
}

// ListByFamily returns the active members of a family, owner first
func (r *UserRepository) ListByFamily(ctx context.Context, familyID int64) ([]models.User, error) {
	query := "SELECT " + userColumns + ` FROM users
		WHERE family_id = ? AND is_active = ?
		ORDER BY CASE role_in_family WHEN 'OWNER' THEN 0 WHEN 'ADMIN' THEN 1 ELSE 2 END, id`
	return r.list(ctx, query, familyID, true)
}

// ListAll returns every user ordered by id
func (r *UserRepository) ListAll(ctx context.Context) ([]models.User, error) {
	return r.list(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
}

func (r *UserRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// SetEmailVerificationToken stores the digest of a newly issued verification token
func (r *UserRepository) SetEmailVerificationToken(ctx context.Context, userID int64, digest string, expiresAt time.Time) error {
	query := `UPDATE users SET email_verification_token = ?, email_verification_expires_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(ctx, query, digest, expiresAt.UTC(), now(), userID); err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}
	return nil
}

// MarkEmailVerified verifies the account if digest matches the stored token,
// clearing the token fields. It reports whether a row changed.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID int64, digest string) (bool, error) {
	query := `
		UPDATE users
		SET is_email_verified = ?, email_verification_token = NULL, email_verification_expires_at = NULL, updated_at = ?
		WHERE id = ? AND email_verification_token = ?
	`
	result, err := r.db.Exec(ctx, query, true, now(), userID, digest)
	if err != nil {
		return false, fmt.Errorf("failed to verify email: %w", err)
	}
	return affected(result)
}

// SetPasswordResetToken stores the digest of a newly issued reset token,
// replacing any earlier one
func (r *UserRepository) SetPasswordResetToken(ctx context.Context, userID int64, digest string, expiresAt time.Time) error {
	query := `UPDATE users SET password_reset_token = ?, password_reset_expires_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(ctx, query, digest, expiresAt.UTC(), now(), userID); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

// ResetPassword replaces the password hash if digest matches the stored reset
// token and clears the reset fields. It reports whether a row changed.
func (r *UserRepository) ResetPassword(ctx context.Context, userID int64, digest, passwordHash string) (bool, error) {
	query := `
		UPDATE users
		SET password_hash = ?, password_reset_token = NULL, password_reset_expires_at = NULL, updated_at = ?
		WHERE id = ? AND password_reset_token = ? AND is_active = ?
	`
	result, err := r.db.Exec(ctx, query, passwordHash, now(), userID, digest, true)
	if err != nil {
		return false, fmt.Errorf("failed to reset password: %w", err)
	}
	return affected(result)
}

// UpdatePassword sets a new password hash
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	query := `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(ctx, query, passwordHash, now(), userID); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// SetEmailChangeToken stores the digest of the only email change token that
// may be confirmed. Issuing a new one replaces it.
func (r *UserRepository) SetEmailChangeToken(ctx context.Context, userID int64, digest string, expiresAt time.Time) error {
	query := `UPDATE users SET email_change_token = ?, email_change_expires_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(ctx, query, digest, expiresAt.UTC(), now(), userID); err != nil {
		return fmt.Errorf("failed to store email change token: %w", err)
	}
	return nil
}

// ChangeEmail moves the account from currentEmail to newEmail, marks it
// verified and consumes the email change token. Nothing changes when the
// stored email is no longer currentEmail or digest is not the stored token.
func (r *UserRepository) ChangeEmail(ctx context.Context, userID int64, currentEmail, newEmail, digest string) (bool, error) {
	query := `
		UPDATE users
		SET email = ?, is_email_verified = ?, email_verification_token = NULL, email_verification_expires_at = NULL,
			email_change_token = NULL, email_change_expires_at = NULL, updated_at = ?
		WHERE id = ? AND email = ? AND email_change_token = ?
	`
	result, err := r.db.Exec(ctx, query, newEmail, true, now(), userID, currentEmail, digest)
	if err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return false, ErrDuplicate
		}
		return false, fmt.Errorf("failed to change email: %w", err)
	}
	return affected(result)
}

// RecordLogin stamps last_login_at
func (r *UserRepository) RecordLogin(ctx context.Context, userID int64, at time.Time) error {
	query := `UPDATE users SET last_login_at = ? WHERE id = ?`
	if _, err := r.db.Exec(ctx, query, at.UTC(), userID); err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// LinkOAuth attaches an external identity to an existing account
func (r *UserRepository) LinkOAuth(ctx context.Context, userID int64, provider, subject string) error {
	query := `UPDATE users SET oauth_provider = ?, oauth_subject = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(ctx, query, provider, subject, now(), userID); err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to link oauth identity: %w", err)
	}
	return nil
}

// AssignFamily attaches a user without a family to familyID with role.
// It reports false when the user already belongs to a family or is inactive.
func (r *UserRepository) AssignFamily(ctx context.Context, userID, familyID int64, role models.Role) (bool, error) {
	query := `
		UPDATE users SET family_id = ?, role_in_family = ?, updated_at = ?
		WHERE id = ? AND family_id IS NULL AND is_active = ?
	`
	result, err := r.db.Exec(ctx, query, familyID, string(role), now(), userID, true)
	if err != nil {
		return false, fmt.Errorf("failed to assign family: %w", err)
	}
	return affected(result)
}

// ClearFamily detaches a non-owner member from familyID
func (r *UserRepository) ClearFamily(ctx context.Context, userID, familyID int64) (bool, error) {
	query := `
		UPDATE users SET family_id = NULL, role_in_family = ?, updated_at = ?
		WHERE id = ? AND family_id = ? AND role_in_family <> ?
	`
	result, err := r.db.Exec(ctx, query, string(models.RoleMember), now(), userID, familyID, string(models.RoleOwner))
	if err != nil {
		return false, fmt.Errorf("failed to clear family: %w", err)
	}
	return affected(result)
}

// SetRole changes the role of a member of familyID
func (r *UserRepository) SetRole(ctx context.Context, userID, familyID int64, role models.Role) (bool, error) {
	query := `UPDATE users SET role_in_family = ?, updated_at = ? WHERE id = ? AND family_id = ?`
	result, err := r.db.Exec(ctx, query, string(role), now(), userID, familyID)
	if err != nil {
		return false, fmt.Errorf("failed to set role: %w", err)
	}
	return affected(result)
}

// Deactivate soft-deletes an account and drops its single-use tokens
func (r *UserRepository) Deactivate(ctx context.Context, userID int64) error {
	query := `
		UPDATE users
		SET is_active = ?, email_verification_token = NULL, email_verification_expires_at = NULL,
			password_reset_token = NULL, password_reset_expires_at = NULL,
			email_change_token = NULL, email_change_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`
	if _, err := r.db.Exec(ctx, query, false, now(), userID); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	return nil
}

// ClearExpiredTokens removes single-use token digests whose expiry has passed
func (r *UserRepository) ClearExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	queries := []string{
		`UPDATE users SET email_verification_token = NULL, email_verification_expires_at = NULL
		 WHERE email_verification_expires_at IS NOT NULL AND email_verification_expires_at < ?`,
		`UPDATE users SET password_reset_token = NULL, password_reset_expires_at = NULL
		 WHERE password_reset_expires_at IS NOT NULL AND password_reset_expires_at < ?`,
		`UPDATE users SET email_change_token = NULL, email_change_expires_at = NULL
		 WHERE email_change_expires_at IS NOT NULL AND email_change_expires_at < ?`,
	}
	for _, query := range queries {
		result, err := r.db.Exec(ctx, query, before.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to clear expired tokens: %w", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}
