package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"familyledger/internal/apperr"
	"familyledger/internal/models"
	"familyledger/internal/security"
	"familyledger/internal/service"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	UserContextKey        ContextKey = "user"
	AccessTokenContextKey ContextKey = "access_token"
)

// Limiter decides whether a request identified by key may proceed.
// security.RateLimiter and cache.RedisRateLimiter implement it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Middleware holds dependencies for middleware functions
type Middleware struct {
	authService *service.AuthService
	limiter     Limiter
}

// NewMiddleware creates a new middleware instance. A nil limiter disables
// rate limiting.
func NewMiddleware(authService *service.AuthService, limiter Limiter) *Middleware {
	return &Middleware{
		authService: authService,
		limiter:     limiter,
	}
}

// RequireAuth is middleware that requires a valid bearer access token
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := security.BearerToken(r)
		if raw == "" {
			respondWithError(w, apperr.OpAuthenticate, "", apperr.Unauthenticated(nil))
			return
		}

		user, _, err := m.authService.Authenticate(r.Context(), raw)
		if err != nil {
			respondWithError(w, apperr.OpAuthenticate, "rejected access token", err)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		ctx = context.WithValue(ctx, AccessTokenContextKey, raw)
		next(w, r.WithContext(ctx))
	}
}

// RateLimit limits requests per client IP and route. A limiter that fails
// lets the request through.
func (m *Middleware) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil {
			next(w, r)
			return
		}

		key := r.URL.Path + ":" + security.GetClientIP(r)
		allowed, err := m.limiter.Allow(r.Context(), key)
		if err != nil {
			log.Printf("rate limiter unavailable: %v", err)
			next(w, r)
			return
		}
		if !allowed {
			respondWithError(w, apperr.OpLogin, "", apperr.RateLimited())
			return
		}
		next(w, r)
	}
}

// Logging middleware logs HTTP requests
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Call next handler
		next.ServeHTTP(w, r)

		// Log request
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

func accessTokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(AccessTokenContextKey).(string)
	return raw
}
