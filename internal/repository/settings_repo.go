package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"familyledger/internal/database"
)

const inviteOnlyModeKey = "invite_only_mode"

type SettingsRepository struct {
	db database.DBTX
}

func NewSettingsRepository(db database.DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetSetting retrieves a setting value by key. A missing key returns "" and no error.
func (r *SettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	query := `SELECT setting_value FROM settings WHERE setting_key = ?`
	err := r.db.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting updates or inserts a setting
func (r *SettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	query := r.db.GetDialect().UpsertSettingQuery()
	if _, err := r.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// IsInviteOnlyMode checks if invite-only mode is enabled
func (r *SettingsRepository) IsInviteOnlyMode(ctx context.Context) bool {
	value, err := r.GetSetting(ctx, inviteOnlyModeKey)
	if err != nil {
		return false // Default to open registration
	}
	return value == "true"
}

// SetInviteOnlyMode enables or disables invite-only mode
func (r *SettingsRepository) SetInviteOnlyMode(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return r.SetSetting(ctx, inviteOnlyModeKey, value)
}
