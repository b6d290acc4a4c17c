package service

import "errors"

// Auth workflow errors
var (
	ErrUserExists            = errors.New("user already exists")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidInviteCode     = errors.New("invalid invite code")
	ErrInviteOnly            = errors.New("registration requires an invite code")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrInvalidToken          = errors.New("invalid session token")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAlreadyVerified       = errors.New("email already verified")
	ErrSameEmail             = errors.New("new email matches current email")
	ErrEmailTaken            = errors.New("email already taken")
	ErrStaleToken            = errors.New("email change token no longer matches account")
	ErrOwnerMustTransfer     = errors.New("family owner must transfer ownership first")
)

// Family membership errors
var (
	ErrFamilyNotFound         = errors.New("family not found")
	ErrNotInFamily            = errors.New("user is not in a family")
	ErrAlreadyInFamily        = errors.New("user already belongs to a family")
	ErrNotOwner               = errors.New("only the family owner can do this")
	ErrInsufficientRole       = errors.New("role does not allow this action")
	ErrOwnerRoleNotAssignable = errors.New("owner role cannot be assigned")
	ErrInvalidRole            = errors.New("invalid role")
	ErrAlreadyMember          = errors.New("user is already a member of this family")
	ErrAlreadyElsewhere       = errors.New("user already belongs to another family")
	ErrDuplicateRequest       = errors.New("a pending join request already exists")
	ErrJoinRequestNotFound    = errors.New("join request not found")
	ErrAlreadyProcessed       = errors.New("join request already processed")
	ErrInvalidResponse        = errors.New("invalid join request response")
	ErrCannotRemoveOwner      = errors.New("the family owner cannot be removed")
	ErrMemberNotFound         = errors.New("member not found in family")
	ErrInvitationMismatch     = errors.New("invitation was issued for a different email")
	ErrInvalidTransfer        = errors.New("ownership can only move to another member")
)
