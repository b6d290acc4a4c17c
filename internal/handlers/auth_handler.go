package handlers

import (
	"net/http"

	"familyledger/internal/apperr"
	"familyledger/internal/security"
	"familyledger/internal/service"
)

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	authService          *service.AuthService
	oauthProviders       map[string]OAuthProvider
	oauthRedirectBaseURL string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, oauthProviders map[string]OAuthProvider, oauthRedirectBaseURL string) *AuthHandler {
	return &AuthHandler{
		authService:          authService,
		oauthProviders:       oauthProviders,
		oauthRedirectBaseURL: oauthRedirectBaseURL,
	}
}

type registerRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	FamilyName string `json:"familyName"`
	InviteCode string `json:"inviteCode"`
}

// Register creates an account and sends the verification email
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpRegister, "", err)
		return
	}

	user, err := h.authService.Register(r.Context(), service.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		FamilyName: req.FamilyName,
		InviteCode: req.InviteCode,
	})
	if err != nil {
		respondWithError(w, apperr.OpRegister, "registration failed", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, newUserView(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpLogin, "", err)
		return
	}

	pair, user, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithError(w, apperr.OpLogin, "login failed", err)
		return
	}

	view := newUserView(user)
	respondWithJSON(w, http.StatusOK, SessionView{Tokens: newTokenPairView(pair), User: &view})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the refresh token in the body and the bearer access token
// when one is presented. Expired or invalid tokens are ignored, so a client
// whose access token has lapsed can still end its session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpAuthenticate, "", err)
		return
	}

	h.authService.Logout(r.Context(), security.BearerToken(r), req.RefreshToken)
	respondOK(w)
}

// Refresh issues a new access token for a valid refresh token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpRefresh, "", err)
		return
	}

	pair, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondWithError(w, apperr.OpRefresh, "refresh rejected", err)
		return
	}

	respondWithJSON(w, http.StatusOK, SessionView{Tokens: newTokenPairView(pair)})
}

// Me returns the authenticated user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	respondWithJSON(w, http.StatusOK, newUserView(user))
}

type tokenRequest struct {
	Token string `json:"token"`
}

// VerifyEmail consumes an email verification token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpVerifyEmail, "", err)
		return
	}

	if err := h.authService.VerifyEmail(r.Context(), req.Token); err != nil {
		respondWithError(w, apperr.OpVerifyEmail, "email verification failed", err)
		return
	}
	respondOK(w)
}

// ResendVerification sends a fresh verification email to the caller
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	if err := h.authService.ResendVerification(r.Context(), user.ID); err != nil {
		respondWithError(w, apperr.OpVerifyEmail, "resend verification failed", err)
		return
	}
	respondOK(w)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword always reports success
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpResetPassword, "", err)
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse{
		Success: h.authService.RequestPasswordReset(r.Context(), req.Email),
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ResetPassword sets a new password from a reset token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpResetPassword, "", err)
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		respondWithError(w, apperr.OpResetPassword, "password reset failed", err)
		return
	}
	respondOK(w)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword replaces the caller's password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpChangePassword, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	if err := h.authService.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
		respondWithError(w, apperr.OpChangePassword, "password change failed", err)
		return
	}
	respondOK(w)
}

type emailChangeRequest struct {
	NewEmail        string `json:"newEmail"`
	CurrentPassword string `json:"currentPassword"`
}

// RequestEmailChange mails a confirmation link to the new address
func (h *AuthHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpEmailChange, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	if err := h.authService.RequestEmailChange(r.Context(), user.ID, req.NewEmail, req.CurrentPassword); err != nil {
		respondWithError(w, apperr.OpEmailChange, "email change request failed", err)
		return
	}
	respondOK(w)
}

// ConfirmEmailChange applies an email change. The link may be opened
// without a session; a bearer token, when present, is revoked afterwards.
func (h *AuthHandler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpEmailChange, "", err)
		return
	}

	if err := h.authService.ConfirmEmailChange(r.Context(), req.Token, security.BearerToken(r)); err != nil {
		respondWithError(w, apperr.OpEmailChange, "email change confirmation failed", err)
		return
	}
	respondOK(w)
}

type deactivateRequest struct {
	Password string `json:"password"`
}

// Deactivate soft-deletes the caller's account and ends the session
func (h *AuthHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, apperr.OpDeactivate, "", err)
		return
	}

	user := GetUserFromContext(r.Context())
	if err := h.authService.DeactivateAccount(r.Context(), user.ID, req.Password); err != nil {
		respondWithError(w, apperr.OpDeactivate, "account deactivation failed", err)
		return
	}

	h.authService.Logout(r.Context(), accessTokenFromContext(r.Context()), "")
	respondOK(w)
}
