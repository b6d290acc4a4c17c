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

const joinRequestSelect = `
	SELECT jr.id, jr.user_id, jr.family_id, jr.owner_id, jr.status, jr.message, jr.response_message,
		jr.requested_at, jr.responded_at, jr.is_active, u.name, u.email, f.name
	FROM family_join_requests jr
	INNER JOIN users u ON jr.user_id = u.id
	INNER JOIN families f ON jr.family_id = f.id
`

// JoinRequestRepository handles database operations for family join requests
type JoinRequestRepository struct {
	db database.DBTX
}

// NewJoinRequestRepository creates a new join request repository
func NewJoinRequestRepository(db database.DBTX) *JoinRequestRepository {
	return &JoinRequestRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *JoinRequestRepository) WithTx(tx *database.Tx) *JoinRequestRepository {
	return &JoinRequestRepository{db: tx}
}

func scanJoinRequest(row rowScanner) (*models.FamilyJoinRequest, error) {
	req := &models.FamilyJoinRequest{}
	var status string
	var respondedAt sql.NullTime
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.FamilyID,
		&req.OwnerID,
		&status,
		&req.Message,
		&req.ResponseMessage,
		&req.RequestedAt,
		&respondedAt,
		&req.IsActive,
		&req.UserName,
		&req.UserEmail,
		&req.FamilyName,
	)
	if err != nil {
		return nil, err
	}
	req.Status = models.JoinRequestStatus(status)
	req.RespondedAt = timePtr(respondedAt)
	return req, nil
}

// CreatePending inserts a PENDING request. The unique pending_key makes a
// second pending request for the same (user, family) fail with ErrDuplicate.
func (r *JoinRequestRepository) CreatePending(ctx context.Context, userID, familyID, ownerID int64, message string) (*models.FamilyJoinRequest, error) {
	ts := now()
	query := `
		INSERT INTO family_join_requests
			(user_id, family_id, owner_id, status, message, response_message, requested_at, is_active, pending_key)
		VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)
	`
	id, err := r.db.ExecReturningID(ctx, query, userID, familyID, ownerID, string(models.JoinRequestPending),
		message, ts, true, models.PendingKey(userID, familyID))
	if err != nil {
		if r.db.GetDialect().IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create join request: %w", err)
	}

	return &models.FamilyJoinRequest{
		ID:          id,
		UserID:      userID,
		FamilyID:    familyID,
		OwnerID:     ownerID,
		Status:      models.JoinRequestPending,
		Message:     message,
		RequestedAt: ts,
		IsActive:    true,
	}, nil
}

// GetByID retrieves a join request by ID
func (r *JoinRequestRepository) GetByID(ctx context.Context, id int64) (*models.FamilyJoinRequest, error) {
	req, err := scanJoinRequest(r.db.QueryRow(ctx, joinRequestSelect+" WHERE jr.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get join request: %w", err)
	}
	return req, nil
}

// ListPendingForFamily returns pending requests for a family, oldest first
func (r *JoinRequestRepository) ListPendingForFamily(ctx context.Context, familyID int64) ([]models.FamilyJoinRequest, error) {
	return r.list(ctx, joinRequestSelect+" WHERE jr.family_id = ? AND jr.status = ? AND jr.is_active = ? ORDER BY jr.requested_at, jr.id",
		familyID, string(models.JoinRequestPending), true)
}

// ListByUser returns a user's requests, newest first
func (r *JoinRequestRepository) ListByUser(ctx context.Context, userID int64) ([]models.FamilyJoinRequest, error) {
	return r.list(ctx, joinRequestSelect+" WHERE jr.user_id = ? AND jr.is_active = ? ORDER BY jr.requested_at DESC, jr.id DESC",
		userID, true)
}

// ListAll returns every join request ordered by id
func (r *JoinRequestRepository) ListAll(ctx context.Context) ([]models.FamilyJoinRequest, error) {
	return r.list(ctx, joinRequestSelect+" ORDER BY jr.id")
}

func (r *JoinRequestRepository) list(ctx context.Context, query string, args ...interface{}) ([]models.FamilyJoinRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query join requests: %w", err)
	}
	defer rows.Close()

	var requests []models.FamilyJoinRequest
	for rows.Next() {
		req, err := scanJoinRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan join request: %w", err)
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// Respond moves an active PENDING request to a terminal status. Only one
// caller can win: it reports false when the request was no longer PENDING.
func (r *JoinRequestRepository) Respond(ctx context.Context, id int64, status models.JoinRequestStatus, responseMessage string, at time.Time) (bool, error) {
	query := `
		UPDATE family_join_requests
		SET status = ?, response_message = ?, responded_at = ?, pending_key = NULL
		WHERE id = ? AND status = ? AND is_active = ?
	`
	result, err := r.db.Exec(ctx, query, string(status), responseMessage, at.UTC(), id, string(models.JoinRequestPending), true)
	if err != nil {
		return false, fmt.Errorf("failed to respond to join request: %w", err)
	}
	return affected(result)
}

// Cancel withdraws a PENDING request owned by userID
func (r *JoinRequestRepository) Cancel(ctx context.Context, id, userID int64) (bool, error) {
	query := `
		UPDATE family_join_requests
		SET is_active = ?, pending_key = NULL
		WHERE id = ? AND user_id = ? AND status = ? AND is_active = ?
	`
	result, err := r.db.Exec(ctx, query, false, id, userID, string(models.JoinRequestPending), true)
	if err != nil {
		return false, fmt.Errorf("failed to cancel join request: %w", err)
	}
	return affected(result)
}

// DeactivatePendingForUser withdraws every pending request a user holds.
// Used once the user joins a family by another route.
func (r *JoinRequestRepository) DeactivatePendingForUser(ctx context.Context, userID int64) error {
	query := `
		UPDATE family_join_requests
		SET is_active = ?, pending_key = NULL
		WHERE user_id = ? AND status = ? AND is_active = ?
	`
	if _, err := r.db.Exec(ctx, query, false, userID, string(models.JoinRequestPending), true); err != nil {
		return fmt.Errorf("failed to withdraw pending requests: %w", err)
	}
	return nil
}

// ReassignOwner updates the denormalized owner on a family's pending requests
func (r *JoinRequestRepository) ReassignOwner(ctx context.Context, familyID, ownerID int64) error {
	query := `UPDATE family_join_requests SET owner_id = ? WHERE family_id = ? AND status = ?`
	if _, err := r.db.Exec(ctx, query, ownerID, familyID, string(models.JoinRequestPending)); err != nil {
		return fmt.Errorf("failed to reassign request owner: %w", err)
	}
	return nil
}
