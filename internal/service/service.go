package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"strings"

	"familyledger/internal/database"
	"familyledger/internal/mail"
	"familyledger/internal/repository"
	"familyledger/internal/security"
	"familyledger/internal/token"
)

// Deps holds the collaborators shared by the auth and family services
type Deps struct {
	DB     *database.DB
	Tokens *token.Service
	Hasher *security.PasswordHasher
	Mailer *mail.Dispatcher
	Debug  bool
}

type repos struct {
	users    *repository.UserRepository
	families *repository.FamilyRepository
	requests *repository.JoinRequestRepository
}

func newRepos(db database.DBTX) repos {
	return repos{
		users:    repository.NewUserRepository(db),
		families: repository.NewFamilyRepository(db),
		requests: repository.NewJoinRequestRepository(db),
	}
}

func (r repos) withTx(tx *database.Tx) repos {
	return repos{
		users:    r.users.WithTx(tx),
		families: r.families.WithTx(tx),
		requests: r.requests.WithTx(tx),
	}
}

// inviteCodeAlphabet omits characters that are easy to misread (0/O, 1/I/L)
const inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const inviteCodeLength = 8

// generateInviteCode returns a random family invite code
func generateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	code := make([]byte, inviteCodeLength)
	for i, b := range buf {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(code), nil
}

// normalizeInviteCode canonicalises a user-typed invite code
func normalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// revokeBestEffort blacklists raw, logging instead of failing
func revokeBestEffort(ctx context.Context, tokens *token.Service, raw string) {
	if raw == "" {
		return
	}
	if err := tokens.Blacklist(ctx, raw); err != nil {
		log.Printf("failed to blacklist token: %v", err)
	}
}
