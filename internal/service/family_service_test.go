package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"familyledger/internal/mail"
	"familyledger/internal/models"
	"familyledger/internal/repository"
	"familyledger/internal/token"
)

func TestCreateFamily(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	user := env.register(t, "user@example.com", "")

	if _, err := env.family.CreateFamily(ctx, owner.ID, "Second", ""); !errors.Is(err, ErrAlreadyInFamily) {
		t.Errorf("CreateFamily() for member error = %v, want ErrAlreadyInFamily", err)
	}

	if _, err := env.family.RequestJoinFamily(ctx, user.ID, *owner.FamilyID, "hi"); err != nil {
		t.Fatalf("RequestJoinFamily() error = %v", err)
	}

	family, err := env.family.CreateFamily(ctx, user.ID, "  Smith Family ", "our ledger")
	if err != nil {
		t.Fatalf("CreateFamily() error = %v", err)
	}
	if family.Name != "Smith Family" || family.OwnerID != user.ID || family.InviteCode == "" {
		t.Errorf("family = %+v", family)
	}
	if stored := env.reload(t, user.ID); !stored.IsFamilyOwner() || !stored.InFamily(family.ID) {
		t.Errorf("creator = %+v, want OWNER of %d", stored, family.ID)
	}

	pending, err := env.family.ListPendingRequests(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListPendingRequests() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending requests = %d, want withdrawn after creating a family", len(pending))
	}
}

func TestUpdateAndGetFamily(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	member := env.addMember(t, owner, "member@example.com")

	if _, err := env.family.UpdateFamily(ctx, member.ID, *owner.FamilyID, "Hijack", ""); !errors.Is(err, ErrNotOwner) {
		t.Errorf("UpdateFamily(member) error = %v, want ErrNotOwner", err)
	}
	updated, err := env.family.UpdateFamily(ctx, owner.ID, *owner.FamilyID, "The Does", "shared costs")
	if err != nil {
		t.Fatalf("UpdateFamily() error = %v", err)
	}
	if updated.Name != "The Does" || updated.Description != "shared costs" {
		t.Errorf("UpdateFamily() = %+v", updated)
	}

	view, err := env.family.GetFamily(ctx, member.ID)
	if err != nil {
		t.Fatalf("GetFamily() error = %v", err)
	}
	if view.Family.Name != "The Does" || len(view.Members) != 2 {
		t.Errorf("GetFamily() = %+v", view)
	}
	if o := view.Owner(); o == nil || o.ID != owner.ID {
		t.Errorf("Owner() = %+v, want %d", o, owner.ID)
	}

	loner := env.register(t, "loner@example.com", "")
	if _, err := env.family.GetFamily(ctx, loner.ID); !errors.Is(err, ErrNotInFamily) {
		t.Errorf("GetFamily(no family) error = %v, want ErrNotInFamily", err)
	}

	results, err := env.family.SearchFamilies(ctx, "does")
	if err != nil || len(results) != 1 {
		t.Errorf("SearchFamilies() = %v, %v", results, err)
	}
	if _, err := env.family.SearchFamilies(ctx, "d"); err == nil {
		t.Error("SearchFamilies() with one character should fail validation")
	}
}

func TestInviteToFamily(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	member := env.addMember(t, owner, "member@example.com")
	env.register(t, "other@example.com", "Other Family")

	tests := []struct {
		name     string
		callerID int64
		email    string
		role     models.Role
		wantErr  error
	}{
		{"owner role by owner", owner.ID, "new@example.com", models.RoleOwner, ErrOwnerRoleNotAssignable},
		{"owner role by member", member.ID, "new@example.com", models.RoleOwner, ErrOwnerRoleNotAssignable},
		{"unknown role", owner.ID, "new@example.com", models.Role("SUPERUSER"), ErrInvalidRole},
		{"member cannot invite", member.ID, "new@example.com", models.RoleMember, ErrInsufficientRole},
		{"already member", owner.ID, "member@example.com", models.RoleMember, ErrAlreadyMember},
		{"in another family", owner.ID, "other@example.com", models.RoleMember, ErrAlreadyElsewhere},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.family.InviteToFamily(ctx, tt.callerID, tt.email, tt.role, ""); !errors.Is(err, tt.wantErr) {
				t.Errorf("InviteToFamily() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	inv, err := env.family.InviteToFamily(ctx, owner.ID, "New@Example.com", models.RoleAdmin, "join us")
	if err != nil {
		t.Fatalf("InviteToFamily() error = %v", err)
	}
	if !inv.Sent || inv.Email != "new@example.com" || inv.Role != models.RoleAdmin {
		t.Errorf("invitation = %+v", inv)
	}

	env.gateway.setFail(true)
	inv, err = env.family.InviteToFamily(ctx, owner.ID, "late@example.com", "", "")
	if err != nil {
		t.Fatalf("InviteToFamily() with failing mail error = %v", err)
	}
	if inv.Sent || inv.Role != models.RoleMember {
		t.Errorf("invitation = %+v, want unsent MEMBER invitation", inv)
	}
}

func TestAcceptInvitation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	invitee := env.register(t, "new@example.com", "")
	stranger := env.register(t, "stranger@example.com", "")

	if _, err := env.family.InviteToFamily(ctx, owner.ID, invitee.Email, models.RoleAdmin, ""); err != nil {
		t.Fatalf("InviteToFamily() error = %v", err)
	}
	raw := env.gateway.lastToken(t, mail.KindFamilyInvitation, invitee.Email)

	if _, err := env.family.AcceptInvitation(ctx, stranger.ID, raw); !errors.Is(err, ErrInvitationMismatch) {
		t.Errorf("AcceptInvitation(stranger) error = %v, want ErrInvitationMismatch", err)
	}
	family, err := env.family.AcceptInvitation(ctx, invitee.ID, raw)
	if err != nil {
		t.Fatalf("AcceptInvitation() error = %v", err)
	}
	stored := env.reload(t, invitee.ID)
	if !stored.InFamily(family.ID) || stored.RoleInFamily != models.RoleAdmin {
		t.Errorf("invitee = %+v, want ADMIN of %d", stored, family.ID)
	}

	_, err = env.family.AcceptInvitation(ctx, invitee.ID, raw)
	if !errors.Is(err, ErrInvalidOrExpiredToken) || !errors.Is(err, token.ErrTokenRevoked) {
		t.Errorf("AcceptInvitation() reuse error = %v, want revoked token", err)
	}

	pair := env.login(t, stranger.Email)
	if _, err := env.family.AcceptInvitation(ctx, stranger.ID, pair.AccessToken); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Errorf("AcceptInvitation(access token) error = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestJoinByCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	family, _ := repository.NewFamilyRepository(env.db).GetByID(ctx, *owner.FamilyID)
	user := env.register(t, "user@example.com", "")

	if _, err := env.family.JoinByCode(ctx, user.ID, "WRONG123"); !errors.Is(err, ErrInvalidInviteCode) {
		t.Errorf("JoinByCode(wrong) error = %v, want ErrInvalidInviteCode", err)
	}
	joined, err := env.family.JoinByCode(ctx, user.ID, " "+family.InviteCode+" ")
	if err != nil {
		t.Fatalf("JoinByCode() error = %v", err)
	}
	if joined.ID != family.ID {
		t.Errorf("joined family %d, want %d", joined.ID, family.ID)
	}
	if _, err := env.family.JoinByCode(ctx, user.ID, family.InviteCode); !errors.Is(err, ErrAlreadyInFamily) {
		t.Errorf("JoinByCode() again error = %v, want ErrAlreadyInFamily", err)
	}
}

func TestJoinRequestWorkflow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	familyID := *owner.FamilyID
	member := env.addMember(t, owner, "member@example.com")
	alice := env.register(t, "alice@example.com", "")
	bob := env.register(t, "bob@example.com", "")

	if _, err := env.family.RequestJoinFamily(ctx, member.ID, familyID, ""); !errors.Is(err, ErrAlreadyInFamily) {
		t.Errorf("RequestJoinFamily(member) error = %v, want ErrAlreadyInFamily", err)
	}
	if _, err := env.family.RequestJoinFamily(ctx, alice.ID, 9999, ""); !errors.Is(err, ErrFamilyNotFound) {
		t.Errorf("RequestJoinFamily(missing family) error = %v, want ErrFamilyNotFound", err)
	}

	aliceReq, err := env.family.RequestJoinFamily(ctx, alice.ID, familyID, "please")
	if err != nil {
		t.Fatalf("RequestJoinFamily() error = %v", err)
	}
	if aliceReq.Status != models.JoinRequestPending || aliceReq.OwnerID != owner.ID {
		t.Errorf("request = %+v", aliceReq)
	}
	if got := len(env.gateway.sent(mail.KindJoinRequestReceived, owner.Email)); got != 1 {
		t.Errorf("owner notifications = %d, want 1", got)
	}
	if _, err := env.family.RequestJoinFamily(ctx, alice.ID, familyID, "again"); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("RequestJoinFamily() duplicate error = %v, want ErrDuplicateRequest", err)
	}
	bobReq, err := env.family.RequestJoinFamily(ctx, bob.ID, familyID, "")
	if err != nil {
		t.Fatalf("RequestJoinFamily(bob) error = %v", err)
	}

	if _, err := env.family.ListPendingRequests(ctx, member.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("ListPendingRequests(member) error = %v, want ErrNotOwner", err)
	}
	pending, err := env.family.ListPendingRequests(ctx, owner.ID)
	if err != nil || len(pending) != 2 {
		t.Fatalf("ListPendingRequests() = %d, %v; want 2", len(pending), err)
	}

	if _, err := env.family.RespondToJoinRequest(ctx, member.ID, aliceReq.ID, models.JoinResponseApprove, ""); !errors.Is(err, ErrNotOwner) {
		t.Errorf("RespondToJoinRequest(member) error = %v, want ErrNotOwner", err)
	}
	if _, err := env.family.RespondToJoinRequest(ctx, owner.ID, aliceReq.ID, "MAYBE", ""); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("RespondToJoinRequest(MAYBE) error = %v, want ErrInvalidResponse", err)
	}

	approved, err := env.family.RespondToJoinRequest(ctx, owner.ID, aliceReq.ID, models.JoinResponseApprove, "welcome")
	if err != nil {
		t.Fatalf("RespondToJoinRequest(approve) error = %v", err)
	}
	if approved.Status != models.JoinRequestApproved || approved.RespondedAt == nil {
		t.Errorf("approved = %+v", approved)
	}
	if stored := env.reload(t, alice.ID); !stored.InFamily(familyID) || stored.RoleInFamily != models.RoleMember {
		t.Errorf("alice = %+v, want MEMBER of %d", stored, familyID)
	}
	if got := len(env.gateway.sent(mail.KindJoinRequestApproved, alice.Email)); got != 1 {
		t.Errorf("approval emails = %d, want 1", got)
	}
	if _, err := env.family.RespondToJoinRequest(ctx, owner.ID, aliceReq.ID, models.JoinResponseReject, ""); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("RespondToJoinRequest() again error = %v, want ErrAlreadyProcessed", err)
	}

	rejected, err := env.family.RespondToJoinRequest(ctx, owner.ID, bobReq.ID, models.JoinResponseReject, "sorry")
	if err != nil {
		t.Fatalf("RespondToJoinRequest(reject) error = %v", err)
	}
	if rejected.Status != models.JoinRequestRejected || env.reload(t, bob.ID).HasFamily() {
		t.Errorf("rejected = %+v", rejected)
	}

	// A rejected user may ask again.
	if _, err := env.family.RequestJoinFamily(ctx, bob.ID, familyID, "second try"); err != nil {
		t.Errorf("RequestJoinFamily() after rejection error = %v", err)
	}
	mine, err := env.family.ListMyRequests(ctx, bob.ID)
	if err != nil || len(mine) != 2 {
		t.Errorf("ListMyRequests() = %d, %v; want 2", len(mine), err)
	}
}

func TestRespondToJoinRequestConcurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	alice := env.register(t, "alice@example.com", "")
	req, err := env.family.RequestJoinFamily(ctx, alice.ID, *owner.FamilyID, "")
	if err != nil {
		t.Fatalf("RequestJoinFamily() error = %v", err)
	}

	const responders = 8
	var wg sync.WaitGroup
	errs := make(chan error, responders)
	for i := 0; i < responders; i++ {
		response := models.JoinResponseApprove
		if i%2 == 1 {
			response = models.JoinResponseReject
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.family.RespondToJoinRequest(ctx, owner.ID, req.ID, response, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyProcessed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful responses = %d, want exactly 1", wins)
	}

	stored, err := repository.NewJoinRequestRepository(env.db).GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	inFamily := env.reload(t, alice.ID).HasFamily()
	if (stored.Status == models.JoinRequestApproved) != inFamily {
		t.Errorf("status %s disagrees with membership %v", stored.Status, inFamily)
	}
}

func TestRequestJoinFamilyConcurrent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	alice := env.register(t, "alice@example.com", "")

	const requesters = 8
	var wg sync.WaitGroup
	errs := make(chan error, requesters)
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.family.RequestJoinFamily(ctx, alice.ID, *owner.FamilyID, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicateRequest):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful requests = %d, want exactly 1", wins)
	}

	mine, err := env.family.ListMyRequests(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListMyRequests() error = %v", err)
	}
	var pending int
	for _, jr := range mine {
		if jr.Status == models.JoinRequestPending {
			pending++
		}
	}
	if pending != 1 {
		t.Errorf("pending requests = %d, want 1", pending)
	}
}

func TestApprovalAfterRequesterJoinedElsewhere(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	other := env.register(t, "other@example.com", "Other Family")
	otherFamily, _ := repository.NewFamilyRepository(env.db).GetByID(ctx, *other.FamilyID)
	alice := env.register(t, "alice@example.com", "")

	req, err := env.family.RequestJoinFamily(ctx, alice.ID, *owner.FamilyID, "")
	if err != nil {
		t.Fatalf("RequestJoinFamily() error = %v", err)
	}
	if _, err := env.family.JoinByCode(ctx, alice.ID, otherFamily.InviteCode); err != nil {
		t.Fatalf("JoinByCode() error = %v", err)
	}

	if _, err := env.family.RespondToJoinRequest(ctx, owner.ID, req.ID, models.JoinResponseApprove, ""); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("RespondToJoinRequest() error = %v, want ErrAlreadyProcessed for a withdrawn request", err)
	}
	if !env.reload(t, alice.ID).InFamily(otherFamily.ID) {
		t.Error("requester should remain in the family joined by code")
	}
}

func TestCancelJoinRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	alice := env.register(t, "alice@example.com", "")
	bob := env.register(t, "bob@example.com", "")

	req, err := env.family.RequestJoinFamily(ctx, alice.ID, *owner.FamilyID, "")
	if err != nil {
		t.Fatalf("RequestJoinFamily() error = %v", err)
	}
	if err := env.family.CancelJoinRequest(ctx, bob.ID, req.ID); !errors.Is(err, ErrJoinRequestNotFound) {
		t.Errorf("CancelJoinRequest(other user) error = %v, want ErrJoinRequestNotFound", err)
	}
	if err := env.family.CancelJoinRequest(ctx, alice.ID, req.ID); err != nil {
		t.Fatalf("CancelJoinRequest() error = %v", err)
	}
	if err := env.family.CancelJoinRequest(ctx, alice.ID, req.ID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("CancelJoinRequest() again error = %v, want ErrAlreadyProcessed", err)
	}
	if _, err := env.family.RequestJoinFamily(ctx, alice.ID, *owner.FamilyID, ""); err != nil {
		t.Errorf("RequestJoinFamily() after cancel error = %v", err)
	}
}

func TestRemoveFamilyMember(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	member := env.addMember(t, owner, "member@example.com")
	other := env.register(t, "other@example.com", "Other Family")

	tests := []struct {
		name     string
		callerID int64
		memberID int64
		wantErr  error
	}{
		{"owner removes self", owner.ID, owner.ID, ErrCannotRemoveOwner},
		{"member removes owner", member.ID, owner.ID, ErrNotOwner},
		{"member of another family", owner.ID, other.ID, ErrMemberNotFound},
		{"unknown user", owner.ID, 9999, ErrMemberNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.family.RemoveFamilyMember(ctx, tt.callerID, tt.memberID); !errors.Is(err, tt.wantErr) {
				t.Errorf("RemoveFamilyMember() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := env.family.RemoveFamilyMember(ctx, owner.ID, member.ID); err != nil {
		t.Fatalf("RemoveFamilyMember() error = %v", err)
	}
	if env.reload(t, member.ID).HasFamily() {
		t.Error("removed member still has a family")
	}
	if stored := env.reload(t, owner.ID); !stored.IsFamilyOwner() {
		t.Error("owner lost ownership")
	}
}

func TestMemberRolesAndOwnershipTransfer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.register(t, "owner@example.com", "Doe Family")
	familyID := *owner.FamilyID
	member := env.addMember(t, owner, "member@example.com")

	if err := env.family.UpdateMemberRole(ctx, owner.ID, member.ID, models.RoleOwner); !errors.Is(err, ErrOwnerRoleNotAssignable) {
		t.Errorf("UpdateMemberRole(OWNER) error = %v, want ErrOwnerRoleNotAssignable", err)
	}
	if err := env.family.UpdateMemberRole(ctx, member.ID, owner.ID, models.RoleMember); !errors.Is(err, ErrNotOwner) {
		t.Errorf("UpdateMemberRole(by member) error = %v, want ErrNotOwner", err)
	}
	if err := env.family.UpdateMemberRole(ctx, owner.ID, member.ID, models.RoleAdmin); err != nil {
		t.Fatalf("UpdateMemberRole() error = %v", err)
	}
	if env.reload(t, member.ID).RoleInFamily != models.RoleAdmin {
		t.Error("member should be ADMIN")
	}

	if err := env.family.LeaveFamily(ctx, owner.ID); !errors.Is(err, ErrOwnerMustTransfer) {
		t.Errorf("LeaveFamily(owner) error = %v, want ErrOwnerMustTransfer", err)
	}
	if err := env.family.TransferOwnership(ctx, owner.ID, owner.ID); !errors.Is(err, ErrInvalidTransfer) {
		t.Errorf("TransferOwnership(self) error = %v, want ErrInvalidTransfer", err)
	}
	if err := env.family.TransferOwnership(ctx, owner.ID, member.ID); err != nil {
		t.Fatalf("TransferOwnership() error = %v", err)
	}

	family, err := repository.NewFamilyRepository(env.db).GetByID(ctx, familyID)
	if err != nil || family.OwnerID != member.ID {
		t.Fatalf("family owner = %v, %v; want %d", family, err, member.ID)
	}
	if env.reload(t, member.ID).RoleInFamily != models.RoleOwner || env.reload(t, owner.ID).RoleInFamily != models.RoleAdmin {
		t.Error("roles were not swapped")
	}

	if err := env.family.LeaveFamily(ctx, owner.ID); err != nil {
		t.Fatalf("LeaveFamily() error = %v", err)
	}
	if env.reload(t, owner.ID).HasFamily() {
		t.Error("former owner should have left")
	}
	if err := env.family.LeaveFamily(ctx, owner.ID); !errors.Is(err, ErrNotInFamily) {
		t.Errorf("LeaveFamily() again error = %v, want ErrNotInFamily", err)
	}
}
