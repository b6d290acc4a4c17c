package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Blacklist stores revoked token IDs. Implementations keep an entry at least
// until expiresAt, after which the token would be rejected anyway.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Chain combines several stores. Revocations are written to all of them and
// a token counts as revoked if any store says so.
func Chain(stores ...Blacklist) Blacklist {
	return chain(stores)
}

type chain []Blacklist

func (c chain) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	var errs []error
	for _, store := range c {
		if err := store.Revoke(ctx, jti, expiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c chain) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var errs []error
	for _, store := range c {
		revoked, err := store.IsRevoked(ctx, jti)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if revoked {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// Digest returns the hex SHA-256 of a raw token. Single-use tokens are
// persisted as digests so a database leak does not yield usable tokens.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
