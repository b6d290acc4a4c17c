package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"familyledger/internal/database"
	"familyledger/internal/mail"
	"familyledger/internal/models"
	"familyledger/internal/repository"
	"familyledger/internal/security"
	"familyledger/internal/token"
)

const testPassword = "password123"

type fakeGateway struct {
	mu       sync.Mutex
	messages []mail.Message
	fail     bool
}

func (g *fakeGateway) Send(_ context.Context, msg mail.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return errors.New("smtp unavailable")
	}
	g.messages = append(g.messages, msg)
	return nil
}

func (g *fakeGateway) setFail(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = fail
}

func (g *fakeGateway) sent(kind mail.Kind, to string) []mail.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []mail.Message
	for _, msg := range g.messages {
		if msg.Kind == kind && msg.To == to {
			out = append(out, msg)
		}
	}
	return out
}

// lastToken returns the token carried by the most recent email of kind to to
func (g *fakeGateway) lastToken(t *testing.T, kind mail.Kind, to string) string {
	t.Helper()
	msgs := g.sent(kind, to)
	if len(msgs) == 0 {
		t.Fatalf("no %s email sent to %s", kind, to)
	}
	return msgs[len(msgs)-1].Vars[mail.VarToken]
}

type testEnv struct {
	db      *database.DB
	auth    *AuthService
	family  *FamilyService
	backup  *BackupService
	tokens  *token.Service
	mailer  *mail.Dispatcher
	gateway *fakeGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(context.Background(), "../../migrations"); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	tokens, err := token.NewService(token.Config{
		SessionSecret: []byte("test-session-secret"),
		EmailSecret:   []byte("test-email-secret"),
		TTLs: map[token.Type]time.Duration{
			token.Access:            15 * time.Minute,
			token.Refresh:           7 * 24 * time.Hour,
			token.EmailVerification: 24 * time.Hour,
			token.PasswordReset:     time.Hour,
			token.EmailChange:       time.Hour,
			token.FamilyInvitation:  24 * time.Hour,
		},
	}, repository.NewRevokedTokenRepository(db))
	if err != nil {
		t.Fatalf("token.NewService() error = %v", err)
	}

	gateway := &fakeGateway{}
	mailer := mail.NewDispatcher(gateway, time.Second)
	deps := Deps{
		DB:     db,
		Tokens: tokens,
		Hasher: security.NewPasswordHasher(4),
		Mailer: mailer,
	}
	return &testEnv{
		db:      db,
		auth:    NewAuthService(deps),
		family:  NewFamilyService(deps),
		backup:  NewBackupService(db),
		tokens:  tokens,
		mailer:  mailer,
		gateway: gateway,
	}
}

func (e *testEnv) register(t *testing.T, email, familyName string) *models.User {
	t.Helper()
	user, err := e.auth.Register(context.Background(), RegisterInput{
		Email:      email,
		Password:   testPassword,
		Name:       "Test User",
		FamilyName: familyName,
	})
	if err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	return user
}

func (e *testEnv) login(t *testing.T, email string) *TokenPair {
	t.Helper()
	pair, _, err := e.auth.Login(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Login(%s) error = %v", email, err)
	}
	return pair
}

func (e *testEnv) reload(t *testing.T, userID int64) *models.User {
	t.Helper()
	user, err := repository.NewUserRepository(e.db).GetByID(context.Background(), userID)
	if err != nil || user == nil {
		t.Fatalf("GetByID(%d) = %v, %v", userID, user, err)
	}
	return user
}

// addMember registers a user and joins them to owner's family by invite code
func (e *testEnv) addMember(t *testing.T, owner *models.User, email string) *models.User {
	t.Helper()
	ctx := context.Background()
	family, err := repository.NewFamilyRepository(e.db).GetByID(ctx, *owner.FamilyID)
	if err != nil || family == nil {
		t.Fatalf("GetByID(family) = %v, %v", family, err)
	}
	member := e.register(t, email, "")
	if _, err := e.family.JoinByCode(ctx, member.ID, family.InviteCode); err != nil {
		t.Fatalf("JoinByCode() error = %v", err)
	}
	return e.reload(t, member.ID)
}
