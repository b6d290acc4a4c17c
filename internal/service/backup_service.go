package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"familyledger/internal/database"
	"familyledger/internal/models"
	"familyledger/internal/repository"
)

// BackupData represents the exported state of the identity tables
type BackupData struct {
	Version      string              `json:"version"`
	ExportedAt   time.Time           `json:"exported_at"`
	DatabaseType string              `json:"database_type"`
	Users        []UserBackup        `json:"users"`
	Families     []FamilyBackup      `json:"families"`
	JoinRequests []JoinRequestBackup `json:"join_requests"`
}

// UserBackup represents a user record for backup. Password hashes and
// single-use token digests are never exported.
type UserBackup struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	IsEmailVerified bool       `json:"is_email_verified"`
	FamilyID        *int64     `json:"family_id,omitempty"`
	RoleInFamily    string     `json:"role_in_family"`
	IsActive        bool       `json:"is_active"`
	OAuthProvider   string     `json:"oauth_provider,omitempty"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FamilyBackup represents a family record for backup
type FamilyBackup struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     int64     `json:"owner_id"`
	IsActive    bool      `json:"is_active"`
	InviteCode  string    `json:"invite_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JoinRequestBackup represents a join request record for backup
type JoinRequestBackup struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	FamilyID        int64      `json:"family_id"`
	OwnerID         int64      `json:"owner_id"`
	Status          string     `json:"status"`
	Message         string     `json:"message,omitempty"`
	ResponseMessage string     `json:"response_message,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	IsActive        bool       `json:"is_active"`
}

// PruneResult reports what Prune removed
type PruneResult struct {
	RevokedTokens int64
	UserTokens    int64
}

// BackupService handles export and housekeeping of the identity tables
type BackupService struct {
	db       *database.DB
	users    *repository.UserRepository
	families *repository.FamilyRepository
	requests *repository.JoinRequestRepository
	revoked  *repository.RevokedTokenRepository
	settings *repository.SettingsRepository
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB) *BackupService {
	return &BackupService{
		db:       db,
		users:    repository.NewUserRepository(db),
		families: repository.NewFamilyRepository(db),
		requests: repository.NewJoinRequestRepository(db),
		revoked:  repository.NewRevokedTokenRepository(db),
		settings: repository.NewSettingsRepository(db),
	}
}

// Export writes a backup of the database to a file
func (s *BackupService) Export(ctx context.Context, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := s.ExportToWriter(ctx, file); err != nil {
		return err
	}

	log.Printf("Database exported successfully to %s", outputPath)
	return nil
}

// ExportToWriter writes a backup of the database as indented JSON
func (s *BackupService) ExportToWriter(ctx context.Context, w io.Writer) error {
	log.Println("Starting database export...")

	backup, err := s.collect(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}

	log.Printf("Exported: %d users, %d families, %d join requests",
		len(backup.Users), len(backup.Families), len(backup.JoinRequests))
	return nil
}

func (s *BackupService) collect(ctx context.Context) (*BackupData, error) {
	backup := &BackupData{
		Version:      "1.0",
		ExportedAt:   time.Now().UTC(),
		DatabaseType: s.db.Dialect.DriverName(),
		Users:        []UserBackup{},
		Families:     []FamilyBackup{},
		JoinRequests: []JoinRequestBackup{},
	}

	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export users: %w", err)
	}
	for _, u := range users {
		backup.Users = append(backup.Users, userBackup(u))
	}

	families, err := s.families.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export families: %w", err)
	}
	for _, f := range families {
		backup.Families = append(backup.Families, FamilyBackup{
			ID:          f.ID,
			Name:        f.Name,
			Description: f.Description,
			OwnerID:     f.OwnerID,
			IsActive:    f.IsActive,
			InviteCode:  f.InviteCode,
			CreatedAt:   f.CreatedAt,
			UpdatedAt:   f.UpdatedAt,
		})
	}

	requests, err := s.requests.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export join requests: %w", err)
	}
	for _, r := range requests {
		backup.JoinRequests = append(backup.JoinRequests, JoinRequestBackup{
			ID:              r.ID,
			UserID:          r.UserID,
			FamilyID:        r.FamilyID,
			OwnerID:         r.OwnerID,
			Status:          string(r.Status),
			Message:         r.Message,
			ResponseMessage: r.ResponseMessage,
			RequestedAt:     r.RequestedAt,
			RespondedAt:     r.RespondedAt,
			IsActive:        r.IsActive,
		})
	}

	return backup, nil
}

func userBackup(u models.User) UserBackup {
	return UserBackup{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		IsEmailVerified: u.IsEmailVerified,
		FamilyID:        u.FamilyID,
		RoleInFamily:    string(u.RoleInFamily),
		IsActive:        u.IsActive,
		OAuthProvider:   u.OAuthProvider,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// Prune removes revocation records and single-use token digests that
// expired before now
func (s *BackupService) Prune(ctx context.Context, now time.Time) (*PruneResult, error) {
	revoked, err := s.revoked.PruneExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	cleared, err := s.users.ClearExpiredTokens(ctx, now)
	if err != nil {
		return nil, err
	}

	log.Printf("Pruned %d revoked tokens, cleared %d expired user tokens", revoked, cleared)
	return &PruneResult{RevokedTokens: revoked, UserTokens: cleared}, nil
}

// SetInviteOnlyMode toggles whether registration requires an invite code
func (s *BackupService) SetInviteOnlyMode(ctx context.Context, enabled bool) error {
	return s.settings.SetInviteOnlyMode(ctx, enabled)
}

// InviteOnlyMode reports whether registration requires an invite code
func (s *BackupService) InviteOnlyMode(ctx context.Context) bool {
	return s.settings.IsInviteOnlyMode(ctx)
}
