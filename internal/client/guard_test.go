package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"familyledger/internal/apperr"
)

type fakeNavigator struct {
	mu      sync.Mutex
	current string
	visits  []string
}

func (n *fakeNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

func (n *fakeNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visits = append(n.visits, path)
}

func (n *fakeNavigator) visitCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.visits)
}

type toastRecorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *toastRecorder) notify(t Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *toastRecorder) all() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}

type guardHarness struct {
	guard   *Guard
	nav     *fakeNavigator
	toasts  *toastRecorder
	tokens  *MemoryTokenStore
	logouts *atomic.Int32
}

func newGuardHarness(t *testing.T, currentPath string, delay time.Duration) *guardHarness {
	t.Helper()
	h := &guardHarness{
		nav:     &fakeNavigator{current: currentPath},
		toasts:  &toastRecorder{},
		tokens:  NewMemoryTokenStore(),
		logouts: &atomic.Int32{},
	}
	h.tokens.SetTokens("access-token", "refresh-token")
	h.guard = NewGuard(GuardConfig{
		Tokens:        h.tokens,
		OnLogout:      func() { h.logouts.Add(1) },
		Notify:        h.toasts.notify,
		Navigator:     h.nav,
		RedirectDelay: delay,
	})
	t.Cleanup(h.guard.Close)
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   apperr.Code
		want   Class
	}{
		{"ok", http.StatusOK, "", ClassNone},
		{"unauthenticated code", http.StatusBadRequest, apperr.CodeUnauthenticated, ClassAuth},
		{"401 without body", http.StatusUnauthorized, "", ClassAuth},
		{"forbidden code", http.StatusForbidden, apperr.CodeForbidden, ClassForbidden},
		{"403 without body", http.StatusForbidden, "", ClassForbidden},
		{"rate limited", http.StatusTooManyRequests, apperr.CodeRateLimited, ClassRateLimited},
		{"internal", http.StatusInternalServerError, apperr.CodeInternal, ClassRetryable},
		{"bad gateway", http.StatusBadGateway, "", ClassRetryable},
		{"validation", http.StatusBadRequest, apperr.CodeValidation, ClassError},
		{"operation failure", http.StatusBadRequest, apperr.CodeJoinRequestFailed, ClassError},
		{"conflict", http.StatusConflict, apperr.CodeConflict, ClassError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status, tt.code); got != tt.want {
				t.Errorf("Classify(%d, %q) = %q, want %q", tt.status, tt.code, got, tt.want)
			}
		})
	}
}

func TestRoundTripperInjectsBearer(t *testing.T) {
	var gotAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
	}))
	defer server.Close()

	h := newGuardHarness(t, "/dashboard", time.Millisecond)
	httpClient := &http.Client{Transport: h.guard.RoundTripper(nil)}

	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if got := gotAuth.Load(); got != "Bearer access-token" {
		t.Errorf("Authorization = %v", got)
	}

	h.tokens.Clear()
	resp, err = httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() without token error = %v", err)
	}
	resp.Body.Close()
	if got := gotAuth.Load(); got != "" {
		t.Errorf("expected no Authorization header, got %v", got)
	}
}

func TestUnauthenticatedForcesSingleLogout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"code":"UNAUTHENTICATED","message":"Authentication required"}}`)
	}))
	defer server.Close()

	h := newGuardHarness(t, "/dashboard", 20*time.Millisecond)
	httpClient := &http.Client{Transport: h.guard.RoundTripper(nil)}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := httpClient.Get(server.URL)
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	if got := h.logouts.Load(); got != 1 {
		t.Errorf("logout handler called %d times, want 1", got)
	}
	if h.tokens.AccessToken() != "" || h.tokens.RefreshToken() != "" {
		t.Error("tokens should be cleared")
	}

	waitFor(t, func() bool { return h.nav.visitCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := h.nav.visitCount(); got != 1 {
		t.Errorf("navigated %d times, want 1", got)
	}
	if h.nav.visits[0] != DefaultLoginPath {
		t.Errorf("navigated to %q", h.nav.visits[0])
	}

	toasts := h.toasts.all()
	if len(toasts) != 1 || toasts[0].Class != ClassAuth {
		t.Errorf("expected one auth toast, got %+v", toasts)
	}
}

func TestForceLogoutIsIdempotent(t *testing.T) {
	h := newGuardHarness(t, "/dashboard", 20*time.Millisecond)

	if !h.guard.ForceLogout() {
		t.Fatal("first ForceLogout should log out")
	}
	if h.guard.ForceLogout() {
		t.Fatal("second ForceLogout should be a no-op")
	}

	waitFor(t, func() bool { return h.nav.visitCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := h.nav.visitCount(); got != 1 {
		t.Errorf("redirect scheduled %d times, want 1", got)
	}
	if got := h.logouts.Load(); got != 1 {
		t.Errorf("logout handler called %d times, want 1", got)
	}
}

func TestForceLogoutWithoutHandlers(t *testing.T) {
	guard := NewGuard(GuardConfig{})
	defer guard.Close()

	if !guard.ForceLogout() {
		t.Fatal("ForceLogout should succeed with no handlers registered")
	}
	if !guard.LoggedOut() {
		t.Error("guard should report the logout")
	}
}

func TestNoRedirectOnAuthPage(t *testing.T) {
	h := newGuardHarness(t, "/login", time.Millisecond)

	h.guard.ForceLogout()
	time.Sleep(30 * time.Millisecond)
	if got := h.nav.visitCount(); got != 0 {
		t.Errorf("should not redirect from an auth page, navigated %d times", got)
	}
	if got := h.logouts.Load(); got != 1 {
		t.Errorf("logout handler called %d times, want 1", got)
	}
}

func TestResetRearmsAndCancelsRedirect(t *testing.T) {
	h := newGuardHarness(t, "/dashboard", 50*time.Millisecond)

	h.guard.ForceLogout()
	h.guard.Reset()
	time.Sleep(100 * time.Millisecond)
	if got := h.nav.visitCount(); got != 0 {
		t.Errorf("Reset should cancel the pending redirect, navigated %d times", got)
	}

	if !h.guard.ForceLogout() {
		t.Error("ForceLogout after Reset should log out again")
	}
	if got := h.logouts.Load(); got != 2 {
		t.Errorf("logout handler called %d times, want 2", got)
	}
}

func TestCloseCancelsRedirect(t *testing.T) {
	h := newGuardHarness(t, "/dashboard", 50*time.Millisecond)

	h.guard.ForceLogout()
	h.guard.Close()
	time.Sleep(100 * time.Millisecond)
	if got := h.nav.visitCount(); got != 0 {
		t.Errorf("Close should cancel the pending redirect, navigated %d times", got)
	}
}

func TestNonAuthErrorsKeepSession(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantClass Class
		wantRetry bool
	}{
		{
			name:      "forbidden",
			status:    http.StatusForbidden,
			body:      `{"error":{"code":"FORBIDDEN","message":"Only the family owner can do this"}}`,
			wantClass: ClassForbidden,
		},
		{
			name:      "server error",
			status:    http.StatusServiceUnavailable,
			body:      `upstream unavailable`,
			wantClass: ClassRetryable,
			wantRetry: true,
		},
		{
			name:      "validation",
			status:    http.StatusBadRequest,
			body:      `{"error":{"code":"VALIDATION_ERROR","message":"invalid email format"}}`,
			wantClass: ClassError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			h := newGuardHarness(t, "/dashboard", time.Millisecond)
			c := New(server.URL, h.guard)

			_, err := c.Me(context.Background())
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Fatalf("Me() error = %v, want APIError with status %d", err, tt.status)
			}

			if got := h.logouts.Load(); got != 0 {
				t.Errorf("logout handler called %d times, want 0", got)
			}
			if h.tokens.AccessToken() == "" {
				t.Error("session should be kept")
			}
			toasts := h.toasts.all()
			if len(toasts) != 1 || toasts[0].Class != tt.wantClass || toasts[0].Retryable != tt.wantRetry {
				t.Errorf("unexpected toasts %+v", toasts)
			}
		})
	}
}

func TestValidationToastShowsServerMessage(t *testing.T) {
	toast := toastFor(ClassError, apperr.CodeValidation, "invalid email format")
	if toast.Message != "invalid email format" {
		t.Errorf("Message = %q", toast.Message)
	}
	if generic := toastFor(ClassError, apperr.CodeRegisterFailed, ""); generic.Message != apperr.MsgGeneric {
		t.Errorf("Message = %q, want generic", generic.Message)
	}
}

func TestNetworkErrorShowsRetryableToast(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	h := newGuardHarness(t, "/dashboard", time.Millisecond)
	c := New(url, h.guard)

	if _, err := c.Me(context.Background()); err == nil {
		t.Fatal("expected a network error")
	}
	toasts := h.toasts.all()
	if len(toasts) != 1 || !toasts[0].Retryable {
		t.Errorf("expected one retryable toast, got %+v", toasts)
	}
	if h.guard.LoggedOut() {
		t.Error("a network error must not log out")
	}
}

func TestClientLoginStoresTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tokens":{"accessToken":"new-access","refreshToken":"new-refresh"},"user":{"id":7,"email":"alice@example.com"}}`)
	}))
	defer server.Close()

	h := newGuardHarness(t, "/dashboard", time.Millisecond)
	h.guard.ForceLogout()

	c := New(server.URL, h.guard)
	session, err := c.Login(context.Background(), "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if session.User.ID != 7 {
		t.Errorf("unexpected user %+v", session.User)
	}
	if h.tokens.AccessToken() != "new-access" || h.tokens.RefreshToken() != "new-refresh" {
		t.Error("Login should store the new tokens")
	}
	if h.guard.LoggedOut() {
		t.Error("Login should re-arm the guard")
	}
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	store, err := NewFileTokenStore(path)
	if err != nil {
		t.Fatalf("NewFileTokenStore() error = %v", err)
	}
	if store.AccessToken() != "" {
		t.Error("a missing file should be an empty session")
	}
	if err := store.SetTokens("a", "r"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	reloaded, err := NewFileTokenStore(path)
	if err != nil {
		t.Fatalf("NewFileTokenStore() reload error = %v", err)
	}
	if reloaded.AccessToken() != "a" || reloaded.RefreshToken() != "r" {
		t.Errorf("reloaded tokens = %q, %q", reloaded.AccessToken(), reloaded.RefreshToken())
	}

	if err := reloaded.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := reloaded.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	empty, _ := NewFileTokenStore(path)
	if empty.AccessToken() != "" {
		t.Error("Clear should remove the session file")
	}
}
