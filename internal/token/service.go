package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "familyledger"

// Config holds the signing secrets and default lifetimes per token type
type Config struct {
	SessionSecret []byte
	EmailSecret   []byte
	TTLs          map[Type]time.Duration
}

// Service issues, verifies and revokes typed tokens
type Service struct {
	sessionSecret []byte
	emailSecret   []byte
	ttls          map[Type]time.Duration
	blacklist     Blacklist
	now           func() time.Time
}

// NewService creates a token service. blacklist may be nil, in which case
// revocation is a no-op.
func NewService(cfg Config, blacklist Blacklist) (*Service, error) {
	if len(cfg.SessionSecret) == 0 || len(cfg.EmailSecret) == 0 {
		return nil, errors.New("token secrets must not be empty")
	}
	if string(cfg.SessionSecret) == string(cfg.EmailSecret) {
		return nil, errors.New("session and email secrets must differ")
	}

	ttls := make(map[Type]time.Duration, len(cfg.TTLs))
	for typ, ttl := range cfg.TTLs {
		ttls[typ] = ttl
	}

	return &Service{
		sessionSecret: cfg.SessionSecret,
		emailSecret:   cfg.EmailSecret,
		ttls:          ttls,
		blacklist:     blacklist,
		now:           time.Now,
	}, nil
}

func (s *Service) secretFor(typ Type) []byte {
	if typ.IsSession() {
		return s.sessionSecret
	}
	return s.emailSecret
}

// TTL returns the configured lifetime for typ
func (s *Service) TTL(typ Type) time.Duration {
	return s.ttls[typ]
}

// Issue signs a token of type typ that expires after ttl. The Type,
// timestamps and ID of claims are overwritten.
func (s *Service) Issue(typ Type, claims Claims, ttl time.Duration) (string, time.Time, error) {
	if !typ.Valid() {
		return "", time.Time{}, fmt.Errorf("unknown token type %q", typ)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("no lifetime configured for %s tokens", typ)
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims.Type = typ
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Issuer:    issuer,
		Subject:   fmt.Sprintf("%d", claims.UserID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretFor(typ))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, expiresAt, nil
}

// IssueDefault signs a token using the configured lifetime for typ
func (s *Service) IssueDefault(typ Type, claims Claims) (string, time.Time, error) {
	return s.Issue(typ, claims, s.ttls[typ])
}

func (s *Service) parse(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return claims, err
}

// Verify checks the signature, expiry, type and revocation status of raw.
// A token minted for one purpose never verifies as another.
func (s *Service) Verify(ctx context.Context, raw string, expected Type) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}

	claims, err := s.parse(raw, s.secretFor(expected))
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		// The signature checked out, so the payload can be trusted for the type check.
		if claims.Type != expected {
			return nil, ErrWrongTokenType
		}
		return nil, ErrTokenExpired
	default:
		return nil, ErrInvalidToken
	}

	if claims.Type != expected {
		return nil, ErrWrongTokenType
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}

	if s.blacklist != nil {
		revoked, err := s.blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			// Revocation is best-effort; an unavailable store does not lock users out.
			log.Printf("token blacklist lookup failed: %v", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// Blacklist revokes raw until its expiry. It is idempotent, and expired or
// unparsable tokens are ignored.
func (s *Service) Blacklist(ctx context.Context, raw string) error {
	if s.blacklist == nil {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	claims, err := s.parse(raw, s.sessionSecret)
	if err != nil {
		claims, err = s.parse(raw, s.emailSecret)
	}
	if err != nil || claims.ID == "" {
		return nil
	}

	return s.blacklist.Revoke(ctx, claims.ID, claims.Expiry())
}
