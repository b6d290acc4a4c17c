package handlers

import "net/http"

// RegisterRoutes mounts the JSON API on mux
func RegisterRoutes(mux *http.ServeMux, authHandler *AuthHandler, familyHandler *FamilyHandler, middleware *Middleware, status *StartupStatus) {
	mux.HandleFunc("GET /healthz", status.Healthz)
	mux.HandleFunc("GET /readyz", status.Readyz)

	mux.HandleFunc("POST /api/auth/register", middleware.RateLimit(authHandler.Register))
	mux.HandleFunc("POST /api/auth/login", middleware.RateLimit(authHandler.Login))
	mux.HandleFunc("POST /api/auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/auth/verify-email", authHandler.VerifyEmail)
	mux.HandleFunc("POST /api/auth/resend-verification", middleware.RequireAuth(authHandler.ResendVerification))
	mux.HandleFunc("POST /api/auth/forgot-password", middleware.RateLimit(authHandler.ForgotPassword))
	mux.HandleFunc("POST /api/auth/reset-password", authHandler.ResetPassword)
	mux.HandleFunc("POST /api/auth/change-password", middleware.RequireAuth(authHandler.ChangePassword))
	mux.HandleFunc("POST /api/auth/email-change", middleware.RequireAuth(authHandler.RequestEmailChange))
	mux.HandleFunc("POST /api/auth/email-change/confirm", authHandler.ConfirmEmailChange)
	mux.HandleFunc("POST /api/auth/deactivate", middleware.RequireAuth(authHandler.Deactivate))
	mux.HandleFunc("GET /api/auth/me", middleware.RequireAuth(authHandler.Me))
	mux.HandleFunc("GET /auth/{provider}/start", authHandler.StartOAuth)
	mux.HandleFunc("GET /auth/{provider}/callback", authHandler.OAuthCallback)

	mux.HandleFunc("POST /api/families", middleware.RequireAuth(familyHandler.CreateFamily))
	mux.HandleFunc("GET /api/families/mine", middleware.RequireAuth(familyHandler.GetMyFamily))
	mux.HandleFunc("PUT /api/families/{id}", middleware.RequireAuth(familyHandler.UpdateFamily))
	mux.HandleFunc("GET /api/families/search", middleware.RequireAuth(familyHandler.SearchFamilies))
	mux.HandleFunc("POST /api/families/join", middleware.RequireAuth(familyHandler.JoinByCode))
	mux.HandleFunc("POST /api/families/leave", middleware.RequireAuth(familyHandler.LeaveFamily))
	mux.HandleFunc("POST /api/families/invitations", middleware.RequireAuth(familyHandler.Invite))
	mux.HandleFunc("POST /api/families/invitations/accept", middleware.RequireAuth(familyHandler.AcceptInvitation))
	mux.HandleFunc("POST /api/families/{id}/join-requests", middleware.RequireAuth(familyHandler.RequestJoin))
	mux.HandleFunc("GET /api/join-requests", middleware.RequireAuth(familyHandler.ListPendingRequests))
	mux.HandleFunc("GET /api/join-requests/mine", middleware.RequireAuth(familyHandler.ListMyRequests))
	mux.HandleFunc("POST /api/join-requests/{id}/respond", middleware.RequireAuth(familyHandler.RespondToJoinRequest))
	mux.HandleFunc("POST /api/join-requests/{id}/cancel", middleware.RequireAuth(familyHandler.CancelJoinRequest))
	mux.HandleFunc("DELETE /api/families/members/{userId}", middleware.RequireAuth(familyHandler.RemoveMember))
	mux.HandleFunc("PUT /api/families/members/{userId}/role", middleware.RequireAuth(familyHandler.UpdateMemberRole))
	mux.HandleFunc("POST /api/families/transfer-ownership", middleware.RequireAuth(familyHandler.TransferOwnership))
}
