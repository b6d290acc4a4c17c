package handlers

import "time"

const (
	oauthStateCookie    = "oauth_state"
	oauthProviderCookie = "oauth_provider"

	oauthCookieTTL       = 10 * time.Minute
	oauthExchangeTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
)
