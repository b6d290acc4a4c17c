package models

import (
	"fmt"
	"time"
)

// Family is a group of users sharing a ledger. OwnerID always refers to a
// member whose role is OWNER.
type Family struct {
	ID          int64
	Name        string
	Description string
	OwnerID     int64
	IsActive    bool
	InviteCode  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FamilyWithMembers combines a family with its member information
type FamilyWithMembers struct {
	Family  Family
	Members []User
}

// Owner returns the owning member, if present in Members
func (f *FamilyWithMembers) Owner() *User {
	for i := range f.Members {
		if f.Members[i].ID == f.Family.OwnerID {
			return &f.Members[i]
		}
	}
	return nil
}

// JoinRequestStatus is the state of a FamilyJoinRequest
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "PENDING"
	JoinRequestApproved JoinRequestStatus = "APPROVED"
	JoinRequestRejected JoinRequestStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is allowed
func (s JoinRequestStatus) IsTerminal() bool {
	return s == JoinRequestApproved || s == JoinRequestRejected
}

// JoinResponse is the owner's decision on a pending request
type JoinResponse string

const (
	JoinResponseApprove JoinResponse = "APPROVE"
	JoinResponseReject  JoinResponse = "REJECT"
)

// Status maps a response to the terminal status it produces
func (r JoinResponse) Status() (JoinRequestStatus, bool) {
	switch r {
	case JoinResponseApprove:
		return JoinRequestApproved, true
	case JoinResponseReject:
		return JoinRequestRejected, true
	}
	return "", false
}

// FamilyJoinRequest is a user's request to be admitted to a family
type FamilyJoinRequest struct {
	ID              int64
	UserID          int64
	FamilyID        int64
	OwnerID         int64
	Status          JoinRequestStatus
	Message         string
	ResponseMessage string
	RequestedAt     time.Time
	RespondedAt     *time.Time
	IsActive        bool

	// Populated via JOIN
	UserName   string
	UserEmail  string
	FamilyName string
}

// PendingKey is the value stored in the unique pending_key column while a
// request is PENDING. At most one row per (user, family) can hold it.
func PendingKey(userID, familyID int64) string {
	return fmt.Sprintf("%d:%d", userID, familyID)
}

// Invitation describes a family_invitation token that was issued and mailed
type Invitation struct {
	Email     string
	FamilyID  int64
	Role      Role
	InvitedBy int64
	ExpiresAt time.Time
	// Sent is false when the email could not be delivered; the token is still valid.
	Sent bool
}
