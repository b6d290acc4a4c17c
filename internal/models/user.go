package models

import "time"

// Role is a member's role within a family
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// ParseRole converts a client-supplied role name into a Role
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleOwner, RoleAdmin, RoleMember:
		return r, true
	}
	return "", false
}

// CanInvite reports whether the role may send family invitations
func (r Role) CanInvite() bool {
	return r == RoleOwner || r == RoleAdmin
}

// User is the identity and membership aggregate
type User struct {
	ID              int64
	Email           string
	Name            string
	PasswordHash    string
	IsEmailVerified bool

	// Single-use token fields hold a digest of the issued token, never the token itself.
	EmailVerificationToken     string
	EmailVerificationExpiresAt *time.Time
	PasswordResetToken         string
	PasswordResetExpiresAt     *time.Time

	FamilyID      *int64
	RoleInFamily  Role
	IsActive      bool
	OAuthProvider string
	OAuthSubject  string
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasFamily reports whether the user currently belongs to a family
func (u *User) HasFamily() bool {
	return u.FamilyID != nil
}

// InFamily reports whether the user belongs to the given family
func (u *User) InFamily(familyID int64) bool {
	return u.FamilyID != nil && *u.FamilyID == familyID
}

// IsFamilyOwner reports whether the user owns the family they belong to
func (u *User) IsFamilyOwner() bool {
	return u.HasFamily() && u.RoleInFamily == RoleOwner
}

// Role returns the user's role, or "" when the user has no family
func (u *User) Role() Role {
	if !u.HasFamily() {
		return ""
	}
	return u.RoleInFamily
}

// HasPassword is false for accounts created through OAuth only
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}
