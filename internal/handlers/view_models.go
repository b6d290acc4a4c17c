package handlers

import (
	"time"

	"familyledger/internal/models"
	"familyledger/internal/service"
)

type UserView struct {
	ID              int64       `json:"id"`
	Email           string      `json:"email"`
	Name            string      `json:"name"`
	IsEmailVerified bool        `json:"isEmailVerified"`
	FamilyID        *int64      `json:"familyId"`
	Role            models.Role `json:"role,omitempty"`
	HasPassword     bool        `json:"hasPassword"`
	OAuthProvider   string      `json:"oauthProvider,omitempty"`
	LastLoginAt     *time.Time  `json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

func newUserView(u *models.User) UserView {
	return UserView{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		IsEmailVerified: u.IsEmailVerified,
		FamilyID:        u.FamilyID,
		Role:            u.Role(),
		HasPassword:     u.HasPassword(),
		OAuthProvider:   u.OAuthProvider,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
	}
}

type TokenPairView struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newTokenPairView(p *service.TokenPair) TokenPairView {
	return TokenPairView{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// SessionView is returned by login, refresh and the OAuth callback
type SessionView struct {
	Tokens TokenPairView `json:"tokens"`
	User   *UserView     `json:"user,omitempty"`
}

type FamilyView struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     int64     `json:"ownerId"`
	InviteCode  string    `json:"inviteCode,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newFamilyView(f *models.Family, withCode bool) FamilyView {
	view := FamilyView{
		ID:          f.ID,
		Name:        f.Name,
		Description: f.Description,
		OwnerID:     f.OwnerID,
		CreatedAt:   f.CreatedAt,
	}
	if withCode {
		view.InviteCode = f.InviteCode
	}
	return view
}

type MemberView struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

type FamilyWithMembersView struct {
	FamilyView
	Members []MemberView `json:"members"`
}

// newFamilyWithMembersView shows the invite code to members who may invite
func newFamilyWithMembersView(f *models.FamilyWithMembers, viewer *models.User) FamilyWithMembersView {
	view := FamilyWithMembersView{
		FamilyView: newFamilyView(&f.Family, viewer.Role().CanInvite()),
		Members:    make([]MemberView, 0, len(f.Members)),
	}
	for _, m := range f.Members {
		view.Members = append(view.Members, MemberView{ID: m.ID, Name: m.Name, Email: m.Email, Role: m.RoleInFamily})
	}
	return view
}

type JoinRequestView struct {
	ID              int64                    `json:"id"`
	UserID          int64                    `json:"userId"`
	FamilyID        int64                    `json:"familyId"`
	Status          models.JoinRequestStatus `json:"status"`
	Message         string                   `json:"message,omitempty"`
	ResponseMessage string                   `json:"responseMessage,omitempty"`
	RequestedAt     time.Time                `json:"requestedAt"`
	RespondedAt     *time.Time               `json:"respondedAt,omitempty"`
	IsActive        bool                     `json:"isActive"`
	UserName        string                   `json:"userName,omitempty"`
	UserEmail       string                   `json:"userEmail,omitempty"`
	FamilyName      string                   `json:"familyName,omitempty"`
}

func newJoinRequestView(req *models.FamilyJoinRequest) JoinRequestView {
	return JoinRequestView{
		ID:              req.ID,
		UserID:          req.UserID,
		FamilyID:        req.FamilyID,
		Status:          req.Status,
		Message:         req.Message,
		ResponseMessage: req.ResponseMessage,
		RequestedAt:     req.RequestedAt,
		RespondedAt:     req.RespondedAt,
		IsActive:        req.IsActive,
		UserName:        req.UserName,
		UserEmail:       req.UserEmail,
		FamilyName:      req.FamilyName,
	}
}

func newJoinRequestViews(reqs []models.FamilyJoinRequest) []JoinRequestView {
	views := make([]JoinRequestView, 0, len(reqs))
	for i := range reqs {
		views = append(views, newJoinRequestView(&reqs[i]))
	}
	return views
}

type InvitationView struct {
	Email     string      `json:"email"`
	FamilyID  int64       `json:"familyId"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Sent      bool        `json:"sent"`
}
