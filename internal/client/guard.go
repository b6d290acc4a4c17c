package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"familyledger/internal/apperr"
)

const (
	DefaultRedirectDelay = 1500 * time.Millisecond
	DefaultLoginPath     = "/login"
)

// Navigator is the front end's router
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// GuardConfig wires a Guard to the component that owns session state
type GuardConfig struct {
	Tokens TokenStore
	// OnLogout is called once per forced logout. It may be nil.
	OnLogout func()
	// Notify shows a toast. It may be nil.
	Notify    func(Toast)
	Navigator Navigator
	// RedirectDelay lets the logout toast render before navigating away
	RedirectDelay time.Duration
	LoginPath     string
	// AuthPaths are pages where a forced logout does not redirect
	AuthPaths []string
}

// Guard injects credentials into outgoing requests and reacts to error
// responses. A forced logout happens at most once until Reset is called.
type Guard struct {
	cfg GuardConfig

	mu        sync.Mutex
	loggedOut bool
	redirect  *time.Timer
	closed    bool
}

// NewGuard creates a guard. Tokens defaults to an in-memory store.
func NewGuard(cfg GuardConfig) *Guard {
	if cfg.Tokens == nil {
		cfg.Tokens = NewMemoryTokenStore()
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = DefaultRedirectDelay
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if len(cfg.AuthPaths) == 0 {
		cfg.AuthPaths = []string{cfg.LoginPath, "/register", "/forgot-password", "/reset-password", "/verify-email"}
	}
	return &Guard{cfg: cfg}
}

// Tokens returns the store the guard reads access tokens from
func (g *Guard) Tokens() TokenStore {
	return g.cfg.Tokens
}

// RoundTripper wraps next so every request carries the current access token
// and every error response is classified
func (g *Guard) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &guardTransport{guard: g, next: next}
}

type guardTransport struct {
	guard *Guard
	next  http.RoundTripper
}

func (t *guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if access := t.guard.cfg.Tokens.AccessToken(); access != "" && req.Header.Get("Authorization") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			t.guard.notify(toastFor(ClassRetryable, "", ""))
		}
		return nil, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	apiErr := peekAPIError(resp)
	t.guard.Handle(apiErr.Status, apiErr.Code, apiErr.Message)
	return resp, nil
}

// peekAPIError decodes the error envelope and restores the body for the
// caller
func peekAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return apiErr
	}

	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// Handle reacts to an error response and returns its class
func (g *Guard) Handle(status int, code apperr.Code, message string) Class {
	class := Classify(status, code)
	switch class {
	case ClassNone:
	case ClassAuth:
		g.ForceLogout()
	default:
		g.notify(toastFor(class, code, message))
	}
	return class
}

// ForceLogout clears the session, calls the logout handler, shows a toast
// and schedules a redirect to the login page. It reports whether this call
// performed the logout; calls made while a logout is in effect do nothing.
func (g *Guard) ForceLogout() bool {
	g.mu.Lock()
	if g.loggedOut || g.closed {
		g.mu.Unlock()
		return false
	}
	g.loggedOut = true
	if nav := g.cfg.Navigator; nav != nil && !g.onAuthPath(nav.CurrentPath()) {
		loginPath := g.cfg.LoginPath
		g.redirect = time.AfterFunc(g.cfg.RedirectDelay, func() {
			nav.Navigate(loginPath)
		})
	}
	g.mu.Unlock()

	if err := g.cfg.Tokens.Clear(); err != nil {
		log.Printf("failed to clear session tokens: %v", err)
	}
	if g.cfg.OnLogout != nil {
		g.cfg.OnLogout()
	}
	g.notify(toastFor(ClassAuth, apperr.CodeUnauthenticated, ""))
	return true
}

// LoggedOut reports whether a forced logout is in effect
func (g *Guard) LoggedOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loggedOut
}

// Reset re-arms the guard after a new login and cancels a pending redirect
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopRedirect()
	g.loggedOut = false
}

// Close cancels any pending redirect. A closed guard never logs out.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopRedirect()
	g.closed = true
}

func (g *Guard) stopRedirect() {
	if g.redirect != nil {
		g.redirect.Stop()
		g.redirect = nil
	}
}

func (g *Guard) onAuthPath(path string) bool {
	for _, p := range g.cfg.AuthPaths {
		if path == p || strings.HasPrefix(path, p+"/") || strings.HasPrefix(path, p+"?") {
			return true
		}
	}
	return false
}

func (g *Guard) notify(t Toast) {
	if g.cfg.Notify != nil {
		g.cfg.Notify(t)
	}
}
