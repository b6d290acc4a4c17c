package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"familyledger/internal/database"
	"familyledger/internal/models"
)

// Families whose owner_id is still NULL are mid-creation and never returned.
const familyColumns = `id, name, description, owner_id, is_active, COALESCE(invite_code, ''), created_at, updated_at`

// FamilyRepository handles database operations for families
type FamilyRepository struct {
	db database.DBTX
}

// NewFamilyRepository creates a new family repository
func NewFamilyRepository(db database.DBTX) *FamilyRepository {
	return &FamilyRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *FamilyRepository) WithTx(tx *database.Tx) *FamilyRepository {
	return &FamilyRepository{db: tx}
}

func scanFamily(row rowScanner) (*models.Family, error) {
	family := &models.Family{}
	var ownerID sql.NullInt64
	err := row.Scan(
		&family.ID,
		&family.Name,
		&family.Description,
		&ownerID,
		&family.IsActive,
		&family.InviteCode,
		&family.CreatedAt,
		&family.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	family.OwnerID = ownerID.Int64
	return family, nil
}

// CreateWithoutOwner inserts a family whose owner is set later with SetOwner,
// inside the same transaction that creates the owning membership.
func (r *FamilyRepository) CreateWithoutOwner(ctx context.Context, name, description, inviteCode string) (*models.Family, error) {
	ts := now()
	query := `
		INSERT INTO families (name, description, owner_id, is_active, invite_code, created_at, updated_at)
		VALUES (?, ?, NULL, ?, ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, name, description, true, nullString(inviteCode), ts, ts)
	if err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create family: %w", err)
	}

	return &models.Family{
		ID:          id,
		Name:        name,
		Description: description,
		IsActive:    true,
		InviteCode:  inviteCode,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}, nil
}

// SetOwner points the family at its owning member
func (r *FamilyRepository) SetOwner(ctx context.Context, familyID, ownerID int64) error {
	query := `UPDATE families SET owner_id = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(ctx, query, ownerID, now(), familyID)
	if err != nil {
		return fmt.Errorf("failed to set family owner: %w", err)
	}
	ok, err := affected(result)
	if err != nil {
		return fmt.Errorf("failed to set family owner: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to set family owner: family %d not found", familyID)
	}
	return nil
}

// GetByID retrieves an owned family by ID, active or not
func (r *FamilyRepository) GetByID(ctx context.Context, familyID int64) (*models.Family, error) {
	return r.getOne(ctx, "id = ? AND owner_id IS NOT NULL", familyID)
}

// GetActiveByID retrieves an owned, active family by ID
func (r *FamilyRepository) GetActiveByID(ctx context.Context, familyID int64) (*models.Family, error) {
	return r.getOne(ctx, "id = ? AND owner_id IS NOT NULL AND is_active = ?", familyID, true)
}

// GetByInviteCode retrieves an owned, active family by its invite code
func (r *FamilyRepository) GetByInviteCode(ctx context.Context, code string) (*models.Family, error) {
	return r.getOne(ctx, "invite_code = ? AND owner_id IS NOT NULL AND is_active = ?", code, true)
}

func (r *FamilyRepository) getOne(ctx context.Context, where string, args ...interface{}) (*models.Family, error) {
	query := "SELECT " + familyColumns + " FROM families WHERE " + where
	family, err := scanFamily(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	return family, nil
}

// Search returns active families whose name contains term, case-insensitively
func (r *FamilyRepository) Search(ctx context.Context, term string, limit int) ([]models.Family, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(term))) + "%"
	query := "SELECT " + familyColumns + ` FROM families
		WHERE owner_id IS NOT NULL AND is_active = ? AND LOWER(name) LIKE ? ESCAPE '!'
		ORDER BY name, id
		LIMIT ?`
	return r.list(ctx, query, true, pattern, limit)
}

// ListAll returns every owned family ordered by id
func (r *FamilyRepository) ListAll(ctx context.Context) ([]models.Family, error) {
	return r.list(ctx, "SELECT "+familyColumns+" FROM families WHERE owner_id IS NOT NULL ORDER BY id")
}

func (r *FamilyRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.Family, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query families: %w", err)
	}
	defer rows.Close()

	var families []models.Family
	for rows.Next() {
		family, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan family: %w", err)
		}
		families = append(families, *family)
	}
	return families, rows.Err()
}

// Update changes a family's name and description
func (r *FamilyRepository) Update(ctx context.Context, familyID int64, name, description string) error {
	query := `UPDATE families SET name = ?, description = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.Exec(ctx, query, name, description, now(), familyID); err != nil {
		return fmt.Errorf("failed to update family: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}
