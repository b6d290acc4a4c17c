package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Type tags a token with the purpose it was minted for
type Type string

const (
	Access            Type = "access"
	Refresh           Type = "refresh"
	EmailVerification Type = "email_verification"
	PasswordReset     Type = "password_reset"
	EmailChange       Type = "email_change"
	FamilyInvitation  Type = "family_invitation"
)

// IsSession reports whether the type belongs to the session class
// (signed with the session secret) rather than the email class.
func (t Type) IsSession() bool {
	return t == Access || t == Refresh
}

// Valid reports whether t is a known token type
func (t Type) Valid() bool {
	switch t {
	case Access, Refresh, EmailVerification, PasswordReset, EmailChange, FamilyInvitation:
		return true
	}
	return false
}

// Claims is the payload carried by every token. Only the fields relevant
// to the token's Type are set.
type Claims struct {
	Type   Type   `json:"type"`
	UserID int64  `json:"uid,omitempty"`
	Email  string `json:"email,omitempty"`

	// email_change
	CurrentEmail string `json:"current_email,omitempty"`
	NewEmail     string `json:"new_email,omitempty"`

	// family_invitation
	FamilyID   int64  `json:"fid,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Role       string `json:"role,omitempty"`
	InvitedBy  int64  `json:"invited_by,omitempty"`

	jwt.RegisteredClaims
}

// Expiry returns the expiration time, or the zero time if none is set
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
