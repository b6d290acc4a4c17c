package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"familyledger/internal/repository"
)

func TestBackupExport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	alice := env.register(t, "alice@example.com", "")
	if _, err := env.family.RequestJoinFamily(ctx, alice.ID, *owner.FamilyID, "hello"); err != nil {
		t.Fatalf("RequestJoinFamily() error = %v", err)
	}

	var buf bytes.Buffer
	if err := env.backup.ExportToWriter(ctx, &buf); err != nil {
		t.Fatalf("ExportToWriter() error = %v", err)
	}
	if strings.Contains(buf.String(), "password_hash") || strings.Contains(buf.String(), "$2a$") {
		t.Error("export must not contain password hashes")
	}

	var backup BackupData
	if err := json.Unmarshal(buf.Bytes(), &backup); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(backup.Users) != 2 || len(backup.Families) != 1 || len(backup.JoinRequests) != 1 {
		t.Errorf("exported %d users, %d families, %d requests", len(backup.Users), len(backup.Families), len(backup.JoinRequests))
	}
	if backup.DatabaseType != "sqlite3" {
		t.Errorf("DatabaseType = %q", backup.DatabaseType)
	}
}

func TestBackupPrune(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.register(t, "alice@example.com", "")

	revoked := repository.NewRevokedTokenRepository(env.db)
	if err := revoked.Revoke(ctx, "old-jti", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if err := revoked.Revoke(ctx, "live-jti", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	// The verification token expires in 24h, so pruning two days ahead clears it.
	result, err := env.backup.Prune(ctx, time.Now().Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if result.RevokedTokens != 2 || result.UserTokens != 1 {
		t.Errorf("Prune() = %+v, want 2 revoked and 1 user token", result)
	}
	if env.reload(t, user.ID).EmailVerificationToken != "" {
		t.Error("expired verification digest should be cleared")
	}

	if env.backup.InviteOnlyMode(ctx) {
		t.Error("invite-only mode should default to off")
	}
	if err := env.backup.SetInviteOnlyMode(ctx, true); err != nil || !env.backup.InviteOnlyMode(ctx) {
		t.Errorf("SetInviteOnlyMode(true) = %v, mode = %v", err, env.backup.InviteOnlyMode(ctx))
	}
}
