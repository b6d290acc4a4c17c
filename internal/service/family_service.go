package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"familyledger/internal/database"
	"familyledger/internal/mail"
	"familyledger/internal/models"
	"familyledger/internal/repository"
	"familyledger/internal/token"
	"familyledger/internal/validation"
)

const familySearchLimit = 20

// FamilyService handles family membership: creation, invitations, join
// requests and member administration. A family always has exactly one
// OWNER; only CreateFamily and TransferOwnership assign that role.
type FamilyService struct {
	db     *database.DB
	repos  repos
	tokens *token.Service
	mailer *mail.Dispatcher
	debug  bool
}

// NewFamilyService creates a new family service
func NewFamilyService(deps Deps) *FamilyService {
	return &FamilyService{
		db:     deps.DB,
		repos:  newRepos(deps.DB),
		tokens: deps.Tokens,
		mailer: deps.Mailer,
		debug:  deps.Debug,
	}
}

func (s *FamilyService) activeUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repos.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ownedFamily returns the family the caller owns
func (s *FamilyService) ownedFamily(ctx context.Context, callerID int64) (*models.User, *models.Family, error) {
	caller, err := s.activeUser(ctx, callerID)
	if err != nil {
		return nil, nil, err
	}
	if !caller.HasFamily() {
		return nil, nil, ErrNotInFamily
	}
	family, err := s.repos.families.GetByID(ctx, *caller.FamilyID)
	if err != nil {
		return nil, nil, err
	}
	if family == nil {
		return nil, nil, ErrFamilyNotFound
	}
	if family.OwnerID != caller.ID {
		return nil, nil, ErrNotOwner
	}
	return caller, family, nil
}

// CreateFamily creates a family with the caller as its OWNER
func (s *FamilyService) CreateFamily(ctx context.Context, userID int64, name, description string) (*models.Family, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := validation.ValidateFamilyName(name); err != nil {
		return nil, err
	}
	if err := validation.ValidateDescription(description); err != nil {
		return nil, err
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.HasFamily() {
		return nil, ErrAlreadyInFamily
	}

	code, err := generateInviteCode()
	if err != nil {
		return nil, err
	}

	var family *models.Family
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		r := s.repos.withTx(tx)
		created, err := r.families.CreateWithoutOwner(ctx, name, description, code)
		if err != nil {
			return err
		}
		assigned, err := r.users.AssignFamily(ctx, user.ID, created.ID, models.RoleOwner)
		if err != nil {
			return err
		}
		if !assigned {
			return ErrAlreadyInFamily
		}
		if err := r.families.SetOwner(ctx, created.ID, user.ID); err != nil {
			return err
		}
		if err := r.requests.DeactivatePendingForUser(ctx, user.ID); err != nil {
			return err
		}
		created.OwnerID = user.ID
		family = created
		return nil
	})
	if errors.Is(err, ErrAlreadyInFamily) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create family: %w", err)
	}

	if s.debug {
		log.Printf("[DEBUG] user %d created family %d", user.ID, family.ID)
	}
	return family, nil
}

// UpdateFamily changes the name and description. OWNER only.
func (s *FamilyService) UpdateFamily(ctx context.Context, userID, familyID int64, name, description string) (*models.Family, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if err := validation.ValidateFamilyName(name); err != nil {
		return nil, err
	}
	if err := validation.ValidateDescription(description); err != nil {
		return nil, err
	}

	_, family, err := s.ownedFamily(ctx, userID)
	if err != nil {
		return nil, err
	}
	if family.ID != familyID {
		return nil, ErrNotOwner
	}

	if err := s.repos.families.Update(ctx, family.ID, name, description); err != nil {
		return nil, err
	}
	family.Name = name
	family.Description = description
	family.UpdatedAt = time.Now().UTC()
	return family, nil
}

// GetFamily returns the caller's family and its active members
func (s *FamilyService) GetFamily(ctx context.Context, userID int64) (*models.FamilyWithMembers, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasFamily() {
		return nil, ErrNotInFamily
	}

	family, err := s.repos.families.GetByID(ctx, *user.FamilyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	members, err := s.repos.users.ListByFamily(ctx, family.ID)
	if err != nil {
		return nil, err
	}
	return &models.FamilyWithMembers{Family: *family, Members: members}, nil
}

// SearchFamilies finds active families by name
func (s *FamilyService) SearchFamilies(ctx context.Context, query string) ([]models.Family, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < 2 {
		return nil, validation.ValidationError{Field: "query", Message: "search term must be at least 2 characters"}
	}
	return s.repos.families.Search(ctx, query, familySearchLimit)
}

// InviteToFamily mails a family_invitation token to email. Callers must be
// OWNER or ADMIN; the OWNER role can never be granted by invitation.
func (s *FamilyService) InviteToFamily(ctx context.Context, callerID int64, email string, role models.Role, message string) (*models.Invitation, error) {
	if role == "" {
		role = models.RoleMember
	}
	if role == models.RoleOwner {
		return nil, ErrOwnerRoleNotAssignable
	}
	if _, ok := models.ParseRole(string(role)); !ok {
		return nil, ErrInvalidRole
	}

	email = validation.NormalizeEmail(email)
	message = strings.TrimSpace(message)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidateMessage(message); err != nil {
		return nil, err
	}

	caller, err := s.activeUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if !caller.HasFamily() {
		return nil, ErrNotInFamily
	}
	if !caller.RoleInFamily.CanInvite() {
		return nil, ErrInsufficientRole
	}

	family, err := s.repos.families.GetActiveByID(ctx, *caller.FamilyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	invitee, err := s.repos.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check invitee: %w", err)
	}
	if invitee != nil && invitee.HasFamily() {
		if invitee.InFamily(family.ID) {
			return nil, ErrAlreadyMember
		}
		return nil, ErrAlreadyElsewhere
	}

	raw, expiresAt, err := s.tokens.IssueDefault(token.FamilyInvitation, token.Claims{
		Email:      email,
		FamilyID:   family.ID,
		FamilyName: family.Name,
		Role:       string(role),
		InvitedBy:  caller.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue invitation token: %w", err)
	}

	result := s.mailer.SendBestEffort(ctx, mail.Message{
		Kind: mail.KindFamilyInvitation,
		To:   email,
		Vars: map[string]string{
			mail.VarFamilyName:  family.Name,
			mail.VarInviterName: caller.Name,
			mail.VarRole:        string(role),
			mail.VarMessage:     message,
			mail.VarToken:       raw,
		},
	})

	return &models.Invitation{
		Email:     email,
		FamilyID:  family.ID,
		Role:      role,
		InvitedBy: caller.ID,
		ExpiresAt: expiresAt,
		Sent:      result.OK(),
	}, nil
}

// AcceptInvitation joins the family named by a family_invitation token.
// The token must have been issued to the caller's email.
func (s *FamilyService) AcceptInvitation(ctx context.Context, userID int64, rawToken string) (*models.Family, error) {
	claims, err := s.tokens.Verify(ctx, rawToken, token.FamilyInvitation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, err)
	}

	role, ok := models.ParseRole(claims.Role)
	if !ok {
		return nil, ErrInvalidOrExpiredToken
	}
	if role == models.RoleOwner {
		return nil, ErrOwnerRoleNotAssignable
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Email != claims.Email {
		return nil, ErrInvitationMismatch
	}
	if user.HasFamily() {
		return nil, ErrAlreadyInFamily
	}

	family, err := s.repos.families.GetActiveByID(ctx, claims.FamilyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	if err := s.join(ctx, user.ID, family.ID, role); err != nil {
		return nil, err
	}
	revokeBestEffort(ctx, s.tokens, rawToken)
	return family, nil
}

// JoinByCode joins the family with the given invite code as a MEMBER
func (s *FamilyService) JoinByCode(ctx context.Context, userID int64, code string) (*models.Family, error) {
	code = normalizeInviteCode(code)
	if code == "" {
		return nil, validation.ValidationError{Field: "code", Message: "invite code is required"}
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.HasFamily() {
		return nil, ErrAlreadyInFamily
	}

	family, err := s.repos.families.GetByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrInvalidInviteCode
	}

	if err := s.join(ctx, user.ID, family.ID, models.RoleMember); err != nil {
		return nil, err
	}
	return family, nil
}

// join assigns a family-less user and withdraws their other pending requests
func (s *FamilyService) join(ctx context.Context, userID, familyID int64, role models.Role) error {
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		r := s.repos.withTx(tx)
		assigned, err := r.users.AssignFamily(ctx, userID, familyID, role)
		if err != nil {
			return err
		}
		if !assigned {
			return ErrAlreadyInFamily
		}
		return r.requests.DeactivatePendingForUser(ctx, userID)
	})
	if errors.Is(err, ErrAlreadyInFamily) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to join family: %w", err)
	}
	return nil
}

// RequestJoinFamily files a PENDING request and notifies the family owner
func (s *FamilyService) RequestJoinFamily(ctx context.Context, userID, familyID int64, message string) (*models.FamilyJoinRequest, error) {
	message = strings.TrimSpace(message)
	if err := validation.ValidateMessage(message); err != nil {
		return nil, err
	}

	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.HasFamily() {
		return nil, ErrAlreadyInFamily
	}

	family, err := s.repos.families.GetActiveByID(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}

	req, err := s.repos.requests.CreatePending(ctx, user.ID, family.ID, family.OwnerID, message)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrDuplicateRequest
	}
	if err != nil {
		return nil, err
	}
	req.UserName = user.Name
	req.UserEmail = user.Email
	req.FamilyName = family.Name

	owner, err := s.repos.users.GetByID(ctx, family.OwnerID)
	if err != nil {
		log.Printf("failed to load owner of family %d: %v", family.ID, err)
	} else if owner != nil {
		_ = s.mailer.SendBestEffort(ctx, mail.Message{
			Kind: mail.KindJoinRequestReceived,
			To:   owner.Email,
			Vars: map[string]string{
				mail.VarName:           owner.Name,
				mail.VarFamilyName:     family.Name,
				mail.VarRequesterName:  user.Name,
				mail.VarRequesterEmail: user.Email,
				mail.VarMessage:        message,
			},
		})
	}
	return req, nil
}

// CancelJoinRequest withdraws one of the caller's pending requests
func (s *FamilyService) CancelJoinRequest(ctx context.Context, userID, requestID int64) error {
	cancelled, err := s.repos.requests.Cancel(ctx, requestID, userID)
	if err != nil {
		return err
	}
	if cancelled {
		return nil
	}

	req, err := s.repos.requests.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil || req.UserID != userID {
		return ErrJoinRequestNotFound
	}
	return ErrAlreadyProcessed
}

// ListPendingRequests returns the pending requests for the caller's family.
// OWNER only.
func (s *FamilyService) ListPendingRequests(ctx context.Context, ownerID int64) ([]models.FamilyJoinRequest, error) {
	_, family, err := s.ownedFamily(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.repos.requests.ListPendingForFamily(ctx, family.ID)
}

// ListMyRequests returns the caller's own requests, newest first
func (s *FamilyService) ListMyRequests(ctx context.Context, userID int64) ([]models.FamilyJoinRequest, error) {
	return s.repos.requests.ListByUser(ctx, userID)
}

// RespondToJoinRequest approves or rejects a pending request. The status
// change and the membership write commit together; of two concurrent
// responders exactly one succeeds and the other gets ErrAlreadyProcessed.
func (s *FamilyService) RespondToJoinRequest(ctx context.Context, callerID, requestID int64, response models.JoinResponse, message string) (*models.FamilyJoinRequest, error) {
	status, ok := response.Status()
	if !ok {
		return nil, ErrInvalidResponse
	}
	message = strings.TrimSpace(message)
	if err := validation.ValidateMessage(message); err != nil {
		return nil, err
	}

	req, err := s.repos.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrJoinRequestNotFound
	}

	family, err := s.repos.families.GetByID(ctx, req.FamilyID)
	if err != nil {
		return nil, err
	}
	if family == nil {
		return nil, ErrFamilyNotFound
	}
	if family.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if req.Status.IsTerminal() || !req.IsActive {
		return nil, ErrAlreadyProcessed
	}

	respondedAt := time.Now().UTC()
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		r := s.repos.withTx(tx)
		won, err := r.requests.Respond(ctx, req.ID, status, message, respondedAt)
		if err != nil {
			return err
		}
		if !won {
			return ErrAlreadyProcessed
		}
		if status != models.JoinRequestApproved {
			return nil
		}

		assigned, err := r.users.AssignFamily(ctx, req.UserID, family.ID, models.RoleMember)
		if err != nil {
			return err
		}
		if !assigned {
			return ErrAlreadyInFamily
		}
		return r.requests.DeactivatePendingForUser(ctx, req.UserID)
	})
	if errors.Is(err, ErrAlreadyProcessed) || errors.Is(err, ErrAlreadyInFamily) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to respond to join request: %w", err)
	}

	req.Status = status
	req.ResponseMessage = message
	req.RespondedAt = &respondedAt

	kind := mail.KindJoinRequestRejected
	if status == models.JoinRequestApproved {
		kind = mail.KindJoinRequestApproved
	}
	_ = s.mailer.SendBestEffort(ctx, mail.Message{
		Kind: kind,
		To:   req.UserEmail,
		Vars: map[string]string{
			mail.VarName:            req.UserName,
			mail.VarFamilyName:      family.Name,
			mail.VarResponseMessage: message,
		},
	})
	return req, nil
}

// RemoveFamilyMember detaches a member from the caller's family. OWNER only;
// the owner cannot remove themselves.
func (s *FamilyService) RemoveFamilyMember(ctx context.Context, callerID, memberID int64) error {
	_, family, err := s.ownedFamily(ctx, callerID)
	if err != nil {
		return err
	}
	if memberID == family.OwnerID {
		return ErrCannotRemoveOwner
	}

	removed, err := s.repos.users.ClearFamily(ctx, memberID, family.ID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrMemberNotFound
	}
	return nil
}

// UpdateMemberRole switches a member between ADMIN and MEMBER. OWNER only.
func (s *FamilyService) UpdateMemberRole(ctx context.Context, ownerID, memberID int64, role models.Role) error {
	if role == models.RoleOwner {
		return ErrOwnerRoleNotAssignable
	}
	if _, ok := models.ParseRole(string(role)); !ok {
		return ErrInvalidRole
	}

	_, family, err := s.ownedFamily(ctx, ownerID)
	if err != nil {
		return err
	}
	if memberID == family.OwnerID {
		return ErrOwnerRoleNotAssignable
	}

	updated, err := s.repos.users.SetRole(ctx, memberID, family.ID, role)
	if err != nil {
		return err
	}
	if !updated {
		return ErrMemberNotFound
	}
	return nil
}

// TransferOwnership hands the family to another member. The previous owner
// stays in the family as ADMIN.
func (s *FamilyService) TransferOwnership(ctx context.Context, ownerID, newOwnerID int64) error {
	_, family, err := s.ownedFamily(ctx, ownerID)
	if err != nil {
		return err
	}
	if newOwnerID == ownerID {
		return ErrInvalidTransfer
	}

	target, err := s.repos.users.GetByID(ctx, newOwnerID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if target == nil || !target.IsActive || !target.InFamily(family.ID) {
		return ErrMemberNotFound
	}

	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		r := s.repos.withTx(tx)
		if ok, err := r.users.SetRole(ctx, ownerID, family.ID, models.RoleAdmin); err != nil {
			return err
		} else if !ok {
			return ErrNotOwner
		}
		if ok, err := r.users.SetRole(ctx, newOwnerID, family.ID, models.RoleOwner); err != nil {
			return err
		} else if !ok {
			return ErrMemberNotFound
		}
		if err := r.families.SetOwner(ctx, family.ID, newOwnerID); err != nil {
			return err
		}
		return r.requests.ReassignOwner(ctx, family.ID, newOwnerID)
	})
	if errors.Is(err, ErrNotOwner) || errors.Is(err, ErrMemberNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to transfer ownership: %w", err)
	}
	return nil
}

// LeaveFamily removes the caller from their family. Owners must transfer
// ownership first.
func (s *FamilyService) LeaveFamily(ctx context.Context, userID int64) error {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasFamily() {
		return ErrNotInFamily
	}
	if user.IsFamilyOwner() {
		return ErrOwnerMustTransfer
	}

	left, err := s.repos.users.ClearFamily(ctx, user.ID, *user.FamilyID)
	if err != nil {
		return err
	}
	if !left {
		return ErrNotInFamily
	}
	return nil
}
