package handlers

import (
	"net/http"

	"familyledger/internal/apperr"
	"familyledger/internal/models"
	"familyledger/internal/service"
)

// FamilyHandler serves family membership endpoints. Every route is behind
// RequireAuth.
type FamilyHandler struct {
	familyService *service.FamilyService
}

// NewFamilyHandler creates a new family handler
func NewFamilyHandler(familyService *service.FamilyService) *FamilyHandler {
	return &FamilyHandler{familyService: familyService}
}

type familyRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateFamily creates a family owned by the caller
func (h *FamilyHandler) CreateFamily(w http.ResponseWriter, r *http.Request) {
	var req familyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	family, err := h.familyService.CreateFamily(r.Context(), user.ID, req.Name, req.Description)
	if err != nil {
		respondWithError(w, apperr.OpFamily, "create family failed", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newFamilyView(family, true))
}

// GetMyFamily returns the caller's family with its members
func (h *FamilyHandler) GetMyFamily(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	family, err := h.familyService.GetFamily(r.Context(), user.ID)
	if err != nil {
		respondWithError(w, apperr.OpFamily, "get family failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newFamilyWithMembersView(family, user))
}

// UpdateFamily renames the caller's family
func (h *FamilyHandler) UpdateFamily(w http.ResponseWriter, r *http.Request) {
	familyID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}
	var req familyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	family, err := h.familyService.UpdateFamily(r.Context(), user.ID, familyID, req.Name, req.Description)
	if err != nil {
		respondWithError(w, apperr.OpFamily, "update family failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newFamilyView(family, true))
}

// SearchFamilies finds families by name for join requests
func (h *FamilyHandler) SearchFamilies(w http.ResponseWriter, r *http.Request) {
	families, err := h.familyService.SearchFamilies(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondWithError(w, apperr.OpFamily, "search families failed", err)
		return
	}

	views := make([]FamilyView, 0, len(families))
	for i := range families {
		views = append(views, newFamilyView(&families[i], false))
	}
	respondWithJSON(w, http.StatusOK, views)
}

type joinByCodeRequest struct {
	InviteCode string `json:"inviteCode"`
}

// JoinByCode joins the family with the given invite code as a MEMBER
func (h *FamilyHandler) JoinByCode(w http.ResponseWriter, r *http.Request) {
	var req joinByCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	family, err := h.familyService.JoinByCode(r.Context(), user.ID, req.InviteCode)
	if err != nil {
		respondWithError(w, apperr.OpFamily, "join by code failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newFamilyView(family, false))
}

// LeaveFamily removes the caller from their family
func (h *FamilyHandler) LeaveFamily(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if err := h.familyService.LeaveFamily(r.Context(), user.ID); err != nil {
		respondWithError(w, apperr.OpFamily, "leave family failed", err)
		return
	}
	respondOK(w)
}

type inviteRequest struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Invite emails a family invitation
func (h *FamilyHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpInvite, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	inv, err := h.familyService.InviteToFamily(r.Context(), user.ID, req.Email, models.Role(req.Role), req.Message)
	if err != nil {
		respondWithError(w, apperr.OpInvite, "invite failed", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, InvitationView{
		Email:     inv.Email,
		FamilyID:  inv.FamilyID,
		Role:      inv.Role,
		ExpiresAt: inv.ExpiresAt,
		Sent:      inv.Sent,
	})
}

// AcceptInvitation joins the family named in an invitation token
func (h *FamilyHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpInvite, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	family, err := h.familyService.AcceptInvitation(r.Context(), user.ID, req.Token)
	if err != nil {
		respondWithError(w, apperr.OpInvite, "accept invitation failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newFamilyView(family, false))
}

type joinRequestRequest struct {
	Message string `json:"message"`
}

// RequestJoin asks the owner of a family for admission
func (h *FamilyHandler) RequestJoin(w http.ResponseWriter, r *http.Request) {
	familyID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, apperr.OpJoinRequest, "", err)
		return
	}
	var req joinRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpJoinRequest, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	jr, err := h.familyService.RequestJoinFamily(r.Context(), user.ID, familyID, req.Message)
	if err != nil {
		respondWithError(w, apperr.OpJoinRequest, "join request failed", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newJoinRequestView(jr))
}

// ListPendingRequests lists requests awaiting the caller's decision
func (h *FamilyHandler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	reqs, err := h.familyService.ListPendingRequests(r.Context(), user.ID)
	if err != nil {
		respondWithError(w, apperr.OpJoinRequest, "list join requests failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newJoinRequestViews(reqs))
}

// ListMyRequests lists the caller's own join requests
func (h *FamilyHandler) ListMyRequests(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	reqs, err := h.familyService.ListMyRequests(r.Context(), user.ID)
	if err != nil {
		respondWithError(w, apperr.OpJoinRequest, "list my join requests failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newJoinRequestViews(reqs))
}

type respondRequest struct {
	Response string `json:"response"`
	Message  string `json:"message"`
}

// RespondToJoinRequest approves or rejects a pending request
func (h *FamilyHandler) RespondToJoinRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, apperr.OpJoinRequest, "", err)
		return
	}
	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpJoinRequest, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	jr, err := h.familyService.RespondToJoinRequest(r.Context(), user.ID, requestID, models.JoinResponse(req.Response), req.Message)
	if err != nil {
		respondWithError(w, apperr.OpJoinRequest, "respond to join request failed", err)
		return
	}
	respondWithJSON(w, http.StatusOK, newJoinRequestView(jr))
}

// CancelJoinRequest withdraws one of the caller's pending requests
func (h *FamilyHandler) CancelJoinRequest(w http.ResponseWriter, r *http.Request) {
	requestID, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, apperr.OpJoinRequest, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	if err := h.familyService.CancelJoinRequest(r.Context(), user.ID, requestID); err != nil {
		respondWithError(w, apperr.OpJoinRequest, "cancel join request failed", err)
		return
	}
	respondOK(w)
}

// RemoveMember removes a member from the caller's family
func (h *FamilyHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "userId")
	if err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	if err := h.familyService.RemoveFamilyMember(r.Context(), user.ID, memberID); err != nil {
		respondWithError(w, apperr.OpFamily, "remove member failed", err)
		return
	}
	respondOK(w)
}

type roleRequest struct {
	Role string `json:"role"`
}

// UpdateMemberRole sets a member's role to ADMIN or MEMBER
func (h *FamilyHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "userId")
	if err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}
	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	if err := h.familyService.UpdateMemberRole(r.Context(), user.ID, memberID, models.Role(req.Role)); err != nil {
		respondWithError(w, apperr.OpFamily, "update member role failed", err)
		return
	}
	respondOK(w)
}

type transferRequest struct {
	NewOwnerID int64 `json:"newOwnerId"`
}

// TransferOwnership hands the family to another member
func (h *FamilyHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpFamily, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	if err := h.familyService.TransferOwnership(r.Context(), user.ID, req.NewOwnerID); err != nil {
		respondWithError(w, apperr.OpFamily, "transfer ownership failed", err)
		return
	}
	respondOK(w)
}
