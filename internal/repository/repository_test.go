package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"familyledger/internal/database"
	"familyledger/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(context.Background(), "../../migrations"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func createUser(t *testing.T, repo *UserRepository, email string) *models.User {
	t.Helper()
	user, err := repo.Create(context.Background(), &models.User{Email: email, Name: "Test User", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", email, err)
	}
	return user
}

// createFamily performs the two-phase owner assignment the services use.
func createFamily(t *testing.T, db *database.DB, owner *models.User, name string) *models.Family {
	t.Helper()
	ctx := context.Background()
	var family *models.Family
	err := db.WithTx(ctx, func(tx *database.Tx) error {
		var err error
		family, err = NewFamilyRepository(tx).CreateWithoutOwner(ctx, name, "", "")
		if err != nil {
			return err
		}
		if ok, err := NewUserRepository(tx).AssignFamily(ctx, owner.ID, family.ID, models.RoleOwner); err != nil || !ok {
			return errors.Join(err, errors.New("assign failed"))
		}
		return NewFamilyRepository(tx).SetOwner(ctx, family.ID, owner.ID)
	})
	if err != nil {
		t.Fatalf("createFamily error = %v", err)
	}
	family.OwnerID = owner.ID
	return family
}

func TestUserRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := createUser(t, repo, "alice@example.com")

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.Create(ctx, &models.User{Email: "alice@example.com", Name: "Other"})
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("Create() error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("get by email", func(t *testing.T) {
		got, err := repo.GetByEmail(ctx, "alice@example.com")
		if err != nil || got == nil {
			t.Fatalf("GetByEmail() = %v, %v", got, err)
		}
		if got.ID != user.ID || !got.IsActive || got.HasFamily() || got.IsEmailVerified {
			t.Errorf("unexpected user state: %+v", got)
		}
	})

	t.Run("unknown email returns nil", func(t *testing.T) {
		got, err := repo.GetByEmail(ctx, "nobody@example.com")
		if err != nil || got != nil {
			t.Errorf("GetByEmail() = %v, %v, want nil, nil", got, err)
		}
	})

	t.Run("verification token must match", func(t *testing.T) {
		if err := repo.SetEmailVerificationToken(ctx, user.ID, "digest-1", time.Now().Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		ok, err := repo.MarkEmailVerified(ctx, user.ID, "other-digest")
		if err != nil || ok {
			t.Fatalf("MarkEmailVerified(wrong) = %v, %v", ok, err)
		}
		ok, err = repo.MarkEmailVerified(ctx, user.ID, "digest-1")
		if err != nil || !ok {
			t.Fatalf("MarkEmailVerified(right) = %v, %v", ok, err)
		}
		ok, _ = repo.MarkEmailVerified(ctx, user.ID, "digest-1")
		if ok {
			t.Error("token should be single-use")
		}
		got, _ := repo.GetByID(ctx, user.ID)
		if !got.IsEmailVerified || got.EmailVerificationToken != "" || got.EmailVerificationExpiresAt != nil {
			t.Errorf("verification fields not cleared: %+v", got)
		}
	})

	t.Run("reset password is single-use", func(t *testing.T) {
		if err := repo.SetPasswordResetToken(ctx, user.ID, "reset-digest", time.Now().Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
		ok, err := repo.ResetPassword(ctx, user.ID, "reset-digest", "new-hash")
		if err != nil || !ok {
			t.Fatalf("ResetPassword() = %v, %v", ok, err)
		}
		ok, _ = repo.ResetPassword(ctx, user.ID, "reset-digest", "another-hash")
		if ok {
			t.Error("reset token should be single-use")
		}
		got, _ := repo.GetByID(ctx, user.ID)
		if got.PasswordHash != "new-hash" || got.PasswordResetToken != "" {
			t.Errorf("unexpected state after reset: %+v", got)
		}
	})

	t.Run("change email is conditional and single-use", func(t *testing.T) {
		createUser(t, repo, "taken@example.com")
		if err := repo.SetEmailChangeToken(ctx, user.ID, "change-digest", time.Now().Add(time.Hour)); err != nil {
			t.Fatal(err)
		}

		if _, err := repo.ChangeEmail(ctx, user.ID, "alice@example.com", "taken@example.com", "change-digest"); !errors.Is(err, ErrDuplicate) {
			t.Errorf("ChangeEmail(taken) error = %v, want ErrDuplicate", err)
		}
		ok, err := repo.ChangeEmail(ctx, user.ID, "stale@example.com", "new@example.com", "change-digest")
		if err != nil || ok {
			t.Errorf("ChangeEmail(stale) = %v, %v, want false", ok, err)
		}
		ok, err = repo.ChangeEmail(ctx, user.ID, "alice@example.com", "new@example.com", "wrong-digest")
		if err != nil || ok {
			t.Errorf("ChangeEmail(wrong digest) = %v, %v, want false", ok, err)
		}
		ok, err = repo.ChangeEmail(ctx, user.ID, "alice@example.com", "alice2@example.com", "change-digest")
		if err != nil || !ok {
			t.Errorf("ChangeEmail() = %v, %v", ok, err)
		}
		ok, err = repo.ChangeEmail(ctx, user.ID, "alice2@example.com", "alice@example.com", "change-digest")
		if err != nil || ok {
			t.Errorf("ChangeEmail(reused digest) = %v, %v, want false", ok, err)
		}
		if _, err := repo.ChangeEmail(ctx, user.ID, "alice2@example.com", "alice@example.com", ""); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.GetByID(ctx, user.ID)
		if got.Email != "alice2@example.com" {
			t.Errorf("Email = %q, want alice2@example.com", got.Email)
		}
	})

	t.Run("record login", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		if err := repo.RecordLogin(ctx, user.ID, at); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.GetByID(ctx, user.ID)
		if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
			t.Errorf("LastLoginAt = %v, want %v", got.LastLoginAt, at)
		}
	})

	t.Run("clear expired tokens", func(t *testing.T) {
		if err := repo.SetPasswordResetToken(ctx, user.ID, "old", time.Now().Add(-time.Hour)); err != nil {
			t.Fatal(err)
		}
		n, err := repo.ClearExpiredTokens(ctx, time.Now())
		if err != nil || n < 1 {
			t.Errorf("ClearExpiredTokens() = %d, %v", n, err)
		}
	})
}

func TestFamilyRepository(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db)
	families := NewFamilyRepository(db)
	ctx := context.Background()

	owner := createUser(t, users, "owner@example.com")

	t.Run("ownerless family is invisible", func(t *testing.T) {
		pending, err := families.CreateWithoutOwner(ctx, "Ghost Family", "", "")
		if err != nil {
			t.Fatal(err)
		}
		got, err := families.GetByID(ctx, pending.ID)
		if err != nil || got != nil {
			t.Errorf("GetByID(ownerless) = %v, %v, want nil", got, err)
		}
		found, _ := families.Search(ctx, "ghost", 10)
		if len(found) != 0 {
			t.Errorf("Search returned ownerless family: %v", found)
		}
	})

	family := createFamily(t, db, owner, "Doe Family")

	t.Run("owner assigned", func(t *testing.T) {
		got, err := families.GetActiveByID(ctx, family.ID)
		if err != nil || got == nil {
			t.Fatalf("GetActiveByID() = %v, %v", got, err)
		}
		if got.OwnerID != owner.ID {
			t.Errorf("OwnerID = %d, want %d", got.OwnerID, owner.ID)
		}
		u, _ := users.GetByID(ctx, owner.ID)
		if !u.InFamily(family.ID) || u.RoleInFamily != models.RoleOwner {
			t.Errorf("owner membership wrong: %+v", u)
		}
	})

	t.Run("search escapes wildcards", func(t *testing.T) {
		found, err := families.Search(ctx, "doe", 10)
		if err != nil || len(found) != 1 {
			t.Fatalf("Search(doe) = %v, %v", found, err)
		}
		found, _ = families.Search(ctx, "%", 10)
		if len(found) != 0 {
			t.Errorf("Search(%%) should match literally, got %v", found)
		}
	})

	t.Run("members and clear family", func(t *testing.T) {
		member := createUser(t, users, "member@example.com")
		if ok, err := users.AssignFamily(ctx, member.ID, family.ID, models.RoleMember); err != nil || !ok {
			t.Fatalf("AssignFamily() = %v, %v", ok, err)
		}
		if ok, _ := users.AssignFamily(ctx, member.ID, family.ID, models.RoleMember); ok {
			t.Error("AssignFamily should refuse a user who already has a family")
		}

		members, err := users.ListByFamily(ctx, family.ID)
		if err != nil || len(members) != 2 || members[0].ID != owner.ID {
			t.Fatalf("ListByFamily() = %v, %v", members, err)
		}

		if ok, _ := users.ClearFamily(ctx, owner.ID, family.ID); ok {
			t.Error("ClearFamily must never detach the owner")
		}
		if ok, err := users.ClearFamily(ctx, member.ID, family.ID); err != nil || !ok {
			t.Errorf("ClearFamily(member) = %v, %v", ok, err)
		}
	})
}

func TestJoinRequestRepository(t *testing.T) {
	db := newTestDB(t)
	users := NewUserRepository(db)
	requests := NewJoinRequestRepository(db)
	ctx := context.Background()

	owner := createUser(t, users, "owner@example.com")
	family := createFamily(t, db, owner, "Smiths")
	joiner := createUser(t, users, "joiner@example.com")

	req, err := requests.CreatePending(ctx, joiner.ID, family.ID, owner.ID, "hi")
	if err != nil {
		t.Fatalf("CreatePending() error = %v", err)
	}

	t.Run("duplicate pending", func(t *testing.T) {
		_, err := requests.CreatePending(ctx, joiner.ID, family.ID, owner.ID, "again")
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("CreatePending() error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("joined fields", func(t *testing.T) {
		got, err := requests.GetByID(ctx, req.ID)
		if err != nil || got == nil {
			t.Fatalf("GetByID() = %v, %v", got, err)
		}
		if got.UserEmail != "joiner@example.com" || got.FamilyName != "Smiths" || got.Status != models.JoinRequestPending {
			t.Errorf("unexpected request: %+v", got)
		}
		pending, _ := requests.ListPendingForFamily(ctx, family.ID)
		if len(pending) != 1 {
			t.Errorf("ListPendingForFamily() = %d requests, want 1", len(pending))
		}
	})

	t.Run("concurrent respond has one winner", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make(chan bool, 2)
		for _, status := range []models.JoinRequestStatus{models.JoinRequestApproved, models.JoinRequestRejected} {
			wg.Add(1)
			go func(status models.JoinRequestStatus) {
				defer wg.Done()
				ok, err := requests.Respond(ctx, req.ID, status, "", time.Now())
				if err != nil {
					t.Errorf("Respond() error = %v", err)
				}
				results <- ok
			}(status)
		}
		wg.Wait()
		close(results)

		winners := 0
		for ok := range results {
			if ok {
				winners++
			}
		}
		if winners != 1 {
			t.Errorf("winners = %d, want 1", winners)
		}

		got, _ := requests.GetByID(ctx, req.ID)
		if !got.Status.IsTerminal() || got.RespondedAt == nil {
			t.Errorf("request not terminal: %+v", got)
		}
	})

	t.Run("new request allowed after terminal", func(t *testing.T) {
		again, err := requests.CreatePending(ctx, joiner.ID, family.ID, owner.ID, "")
		if err != nil {
			t.Fatalf("CreatePending() after terminal error = %v", err)
		}
		if ok, _ := requests.Cancel(ctx, again.ID, owner.ID); ok {
			t.Error("only the requester may cancel")
		}
		if ok, err := requests.Cancel(ctx, again.ID, joiner.ID); err != nil || !ok {
			t.Errorf("Cancel() = %v, %v", ok, err)
		}
		mine, _ := requests.ListByUser(ctx, joiner.ID)
		if len(mine) != 1 {
			t.Errorf("ListByUser() = %d, want 1 active request", len(mine))
		}
	})
}

func TestRevokedTokenRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewRevokedTokenRepository(db)
	ctx := context.Background()

	if revoked, err := repo.IsRevoked(ctx, "jti-1"); err != nil || revoked {
		t.Fatalf("IsRevoked() = %v, %v, want false", revoked, err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("Revoke() #%d error = %v", i+1, err)
		}
	}
	if revoked, _ := repo.IsRevoked(ctx, "jti-1"); !revoked {
		t.Error("jti-1 should be revoked")
	}

	if err := repo.Revoke(ctx, "jti-old", time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	n, err := repo.PruneExpired(ctx, time.Now())
	if err != nil || n != 1 {
		t.Errorf("PruneExpired() = %d, %v, want 1", n, err)
	}
}

func TestSettingsRepository(t *testing.T) {
	db := newTestDB(t)
	repo := NewSettingsRepository(db)
	ctx := context.Background()

	if repo.IsInviteOnlyMode(ctx) {
		t.Error("invite-only mode should default to off")
	}
	if err := repo.SetInviteOnlyMode(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !repo.IsInviteOnlyMode(ctx) {
		t.Error("invite-only mode should be on")
	}
	if err := repo.SetInviteOnlyMode(ctx, false); err != nil {
		t.Fatal(err)
	}
	if repo.IsInviteOnlyMode(ctx) {
		t.Error("invite-only mode should be off again")
	}
}
