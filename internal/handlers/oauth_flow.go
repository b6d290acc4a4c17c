package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"familyledger/internal/apperr"
	"familyledger/internal/security"
)

// OAuthProvider defines provider configuration and metadata
type OAuthProvider struct {
	Name        string
	Label       string
	Config      *oauth2.Config
	UserInfoURL string
	AuthParams  map[string]string
}

func (p OAuthProvider) configured() bool {
	return p.Config != nil && p.Config.ClientID != "" && p.Config.ClientSecret != ""
}

type oauthUserInfo struct {
	Subject string
	Email   string
	Name    string
}

var (
	errOAuthNotConfigured = apperr.New(apperr.CodeNotFound, "OAuth provider not configured")
	errOAuthState         = apperr.New(apperr.CodeLoginFailed, "Invalid OAuth state")
	errOAuthCode          = apperr.New(apperr.CodeLoginFailed, "Missing authorization code")
)

func (h *AuthHandler) provider(r *http.Request) (string, OAuthProvider, bool) {
	key := r.PathValue("provider")
	provider, ok := h.oauthProviders[key]
	if !ok || !provider.configured() {
		return key, OAuthProvider{}, false
	}
	return key, provider, true
}

// StartOAuth initiates the OAuth flow for a provider
func (h *AuthHandler) StartOAuth(w http.ResponseWriter, r *http.Request) {
	providerKey, provider, ok := h.provider(r)
	if !ok {
		respondWithError(w, apperr.OpLogin, "", errOAuthNotConfigured)
		return
	}

	state := security.GenerateStateValue()
	expires := time.Now().Add(oauthCookieTTL)
	http.SetCookie(w, security.CreateStateCookie(r, oauthStateCookie, state, expires))
	http.SetCookie(w, security.CreateStateCookie(r, oauthProviderCookie, providerKey, expires))

	config := *provider.Config
	config.RedirectURL = h.oauthRedirectURL(r, providerKey)

	options := []oauth2.AuthCodeOption{oauth2.AccessTypeOnline}
	for key, value := range provider.AuthParams {
		options = append(options, oauth2.SetAuthURLParam(key, value))
	}

	http.Redirect(w, r, config.AuthCodeURL(state, options...), http.StatusFound)
}

// OAuthCallback completes the provider flow and returns a session
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	providerKey, provider, ok := h.provider(r)
	if !ok {
		respondWithError(w, apperr.OpLogin, "", errOAuthNotConfigured)
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if code == "" {
		respondWithError(w, apperr.OpLogin, "", errOAuthCode)
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != state {
		respondWithError(w, apperr.OpLogin, "", errOAuthState)
		return
	}
	if providerCookie, err := r.Cookie(oauthProviderCookie); err == nil && providerCookie.Value != providerKey {
		respondWithError(w, apperr.OpLogin, "", errOAuthState)
		return
	}

	http.SetCookie(w, security.CreateDeleteCookie(r, oauthStateCookie))
	http.SetCookie(w, security.CreateDeleteCookie(r, oauthProviderCookie))

	ctx, cancel := context.WithTimeout(r.Context(), oauthExchangeTimeout)
	defer cancel()

	config := *provider.Config
	config.RedirectURL = h.oauthRedirectURL(r, providerKey)

	tok, err := config.Exchange(ctx, code)
	if err != nil {
		respondWithError(w, apperr.OpLogin, "oauth code exchange failed",
			apperr.Wrap(apperr.CodeLoginFailed, apperr.MsgGeneric, err))
		return
	}

	info, err := fetchOAuthUserInfo(ctx, provider, tok)
	if err != nil {
		respondWithError(w, apperr.OpLogin, "oauth user info failed",
			apperr.Wrap(apperr.CodeLoginFailed, apperr.MsgGeneric, err))
		return
	}

	pair, user, err := h.authService.OAuthLogin(r.Context(), providerKey, info.Subject, info.Email, info.Name)
	if err != nil {
		respondWithError(w, apperr.OpLogin, "oauth login failed", err)
		return
	}

	view := newUserView(user)
	respondWithJSON(w, http.StatusOK, SessionView{Tokens: newTokenPairView(pair), User: &view})
}

// fetchOAuthUserInfo reads the profile endpoint. Google and Facebook both
// answer with id, email and name fields.
func fetchOAuthUserInfo(ctx context.Context, provider OAuthProvider, tok *oauth2.Token) (oauthUserInfo, error) {
	if provider.UserInfoURL == "" {
		return oauthUserInfo{}, errors.New("provider has no user info endpoint")
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	resp, err := client.Get(provider.UserInfoURL)
	if err != nil {
		return oauthUserInfo{}, fmt.Errorf("failed to fetch %s user info: %w", provider.Label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oauthUserInfo{}, fmt.Errorf("failed to fetch %s user info: status %d", provider.Label, resp.StatusCode)
	}

	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return oauthUserInfo{}, fmt.Errorf("failed to parse %s user info: %w", provider.Label, err)
	}
	if payload.ID == "" || payload.Email == "" {
		return oauthUserInfo{}, fmt.Errorf("%s did not return an id and email", provider.Label)
	}

	return oauthUserInfo{Subject: payload.ID, Email: payload.Email, Name: payload.Name}, nil
}

func (h *AuthHandler) oauthRedirectURL(r *http.Request, providerKey string) string {
	baseURL := strings.TrimSpace(h.oauthRedirectBaseURL)
	if baseURL == "" {
		scheme := "http"
		if security.IsSecureRequest(r) {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return fmt.Sprintf("%s/auth/%s/callback", strings.TrimRight(baseURL, "/"), providerKey)
}
