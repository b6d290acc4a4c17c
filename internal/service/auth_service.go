package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"familyledger/internal/database"
	"familyledger/internal/mail"
	"familyledger/internal/models"
	"familyledger/internal/repository"
	"familyledger/internal/security"
	"familyledger/internal/token"
	"familyledger/internal/validation"
)

// RegisterInput carries the fields accepted by Register. At most one of
// FamilyName and InviteCode may be set.
type RegisterInput struct {
	Email      string
	Password   string
	Name       string
	FamilyName string
	InviteCode string
}

// TokenPair is the session handed to a client after login
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AuthService handles registration, login and credential workflows
type AuthService struct {
	db       *database.DB
	repos    repos
	settings *repository.SettingsRepository
	tokens   *token.Service
	hasher   *security.PasswordHasher
	mailer   *mail.Dispatcher
	debug    bool
}

// NewAuthService creates a new auth service
func NewAuthService(deps Deps) *AuthService {
	return &AuthService{
		db:       deps.DB,
		repos:    newRepos(deps.DB),
		settings: repository.NewSettingsRepository(deps.DB),
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		mailer:   deps.Mailer,
		debug:    deps.Debug,
	}
}

// Register creates a new account, optionally creating a family (as its
// owner) or joining one by invite code. The account exists once this
// returns nil; the verification email is best-effort.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := validation.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	familyName := strings.TrimSpace(in.FamilyName)
	inviteCode := normalizeInviteCode(in.InviteCode)

	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	if familyName != "" && inviteCode != "" {
		return nil, validation.ValidationError{Field: "familyName", Message: "provide either a family name or an invite code, not both"}
	}
	if familyName != "" {
		if err := validation.ValidateFamilyName(familyName); err != nil {
			return nil, err
		}
	}

	if inviteCode == "" && s.settings.IsInviteOnlyMode(ctx) {
		return nil, ErrInviteOnly
	}

	existing, err := s.repos.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var user *models.User
	var verifyToken string
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		r := s.repos.withTx(tx)
		newUser := &models.User{
			Email:        email,
			Name:         name,
			PasswordHash: passwordHash,
			RoleInFamily: models.RoleMember,
		}

		var ownedFamilyID int64
		switch {
		case familyName != "":
			code, err := generateInviteCode()
			if err != nil {
				return err
			}
			family, err := r.families.CreateWithoutOwner(ctx, familyName, "", code)
			if err != nil {
				return err
			}
			newUser.FamilyID = &family.ID
			newUser.RoleInFamily = models.RoleOwner
			ownedFamilyID = family.ID
		case inviteCode != "":
			family, err := r.families.GetByInviteCode(ctx, inviteCode)
			if err != nil {
				return err
			}
			if family == nil {
				return ErrInvalidInviteCode
			}
			newUser.FamilyID = &family.ID
		}

		created, err := r.users.Create(ctx, newUser)
		if err != nil {
			return err
		}
		user = created
		if ownedFamilyID != 0 {
			if err := r.families.SetOwner(ctx, ownedFamilyID, user.ID); err != nil {
				return err
			}
		}

		raw, expiresAt, err := s.tokens.IssueDefault(token.EmailVerification, token.Claims{UserID: user.ID, Email: user.Email})
		if err != nil {
			return err
		}
		if err := r.users.SetEmailVerificationToken(ctx, user.ID, token.Digest(raw), expiresAt); err != nil {
			return err
		}
		user.EmailVerificationToken = token.Digest(raw)
		user.EmailVerificationExpiresAt = &expiresAt
		verifyToken = raw
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrUserExists
	}
	if errors.Is(err, ErrInvalidInviteCode) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	_ = s.mailer.SendBestEffort(ctx, mail.Message{
		Kind: mail.KindVerifyEmail,
		To:   user.Email,
		Vars: map[string]string{mail.VarName: user.Name, mail.VarToken: verifyToken},
	})

	if s.debug {
		log.Printf("[DEBUG] registered user %d", user.ID)
	}
	return user, nil
}

// Login authenticates with email and password. Unknown emails, wrong
// passwords and deactivated accounts all return ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, *models.User, error) {
	email = validation.NormalizeEmail(email)

	user, err := s.repos.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		s.hasher.Equalize(password)
		return nil, nil, ErrInvalidCredentials
	}
	if !s.hasher.Check(password, user.PasswordHash) {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}

	loginAt := time.Now().UTC()
	if err := s.repos.users.RecordLogin(ctx, user.ID, loginAt); err != nil {
		log.Printf("failed to record login for user %d: %v", user.ID, err)
	} else {
		user.LastLoginAt = &loginAt
	}
	return pair, user, nil
}

func (s *AuthService) issuePair(user *models.User) (*TokenPair, error) {
	access, accessExp, err := s.tokens.IssueDefault(token.Access, token.Claims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, refreshExp, err := s.tokens.IssueDefault(token.Refresh, token.Claims{UserID: user.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout blacklists both tokens. Failures are logged; logout always succeeds.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) {
	revokeBestEffort(ctx, s.tokens, accessToken)
	revokeBestEffort(ctx, s.tokens, refreshToken)
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is returned unchanged.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, token.Refresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	user, err := s.repos.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, ErrInvalidToken
	}

	access, accessExp, err := s.tokens.IssueDefault(token.Access, token.Claims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: claims.Expiry(),
	}, nil
}

// Authenticate resolves an access token to an active user
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.User, *token.Claims, error) {
	claims, err := s.tokens.Verify(ctx, accessToken, token.Access)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	user, err := s.repos.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, nil, ErrInvalidToken
	}
	return user, claims, nil
}

// GetUser returns an active user by ID
func (s *AuthService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.repos.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// VerifyEmail marks the account verified. Verifying an already verified
// account succeeds without changes.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) error {
	claims, err := s.tokens.Verify(ctx, rawToken, token.EmailVerification)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, err)
	}

	user, err := s.repos.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return ErrInvalidOrExpiredToken
	}
	if user.IsEmailVerified {
		return nil
	}
	if user.Email != claims.Email {
		return ErrInvalidOrExpiredToken
	}

	ok, err := s.repos.users.MarkEmailVerified(ctx, user.ID, token.Digest(rawToken))
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent request with the same token may have won.
		current, err := s.repos.users.GetByID(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		if current != nil && current.IsEmailVerified {
			return nil
		}
		return ErrInvalidOrExpiredToken
	}

	_ = s.mailer.SendBestEffort(ctx, mail.Message{
		Kind: mail.KindWelcome,
		To:   user.Email,
		Vars: map[string]string{mail.VarName: user.Name},
	})
	return nil
}

// ResendVerification issues a fresh verification token, replacing the old one
func (s *AuthService) ResendVerification(ctx context.Context, userID int64) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsEmailVerified {
		return ErrAlreadyVerified
	}

	raw, expiresAt, err := s.tokens.IssueDefault(token.EmailVerification, token.Claims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return fmt.Errorf("failed to issue verification token: %w", err)
	}
	if err := s.repos.users.SetEmailVerificationToken(ctx, user.ID, token.Digest(raw), expiresAt); err != nil {
		return err
	}

	_ = s.mailer.SendBestEffort(ctx, mail.Message{
		Kind: mail.KindVerifyEmail,
		To:   user.Email,
		Vars: map[string]string{mail.VarName: user.Name, mail.VarToken: raw},
	})
	return nil
}

// RequestPasswordReset starts a reset for email if an active account exists.
// It always reports true so callers cannot learn which emails are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) bool {
	email = validation.NormalizeEmail(email)

	user, err := s.repos.users.GetByEmail(ctx, email)
	if err != nil {
		log.Printf("password reset lookup failed: %v", err)
		return true
	}
	if user == nil || !user.IsActive {
		if s.debug {
			log.Printf("[DEBUG] password reset requested for unknown account")
		}
		return true
	}

	raw, expiresAt, err := s.tokens.IssueDefault(token.PasswordReset, token.Claims{UserID: user.ID, Email: user.Email})
	if err != nil {
		log.Printf("failed to issue reset token for user %d: %v", user.ID, err)
		return true
	}
	if err := s.repos.users.SetPasswordResetToken(ctx, user.ID, token.Digest(raw), expiresAt); err != nil {
		log.Printf("failed to store reset token for user %d: %v", user.ID, err)
		return true
	}

	s.mailer.SendDetached(mail.Message{
		Kind: mail.KindPasswordReset,
		To:   user.Email,
		Vars: map[string]string{mail.VarName: user.Name, mail.VarToken: raw},
	})
	return true
}

// ResetPassword sets a new password using a single-use reset token
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	claims, err := s.tokens.Verify(ctx, rawToken, token.PasswordReset)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, err)
	}
	if err := validation.ValidatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.repos.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	digest := token.Digest(rawToken)
	if user == nil || !user.IsActive || user.PasswordResetToken != digest {
		return ErrInvalidOrExpiredToken
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	ok, err := s.repos.users.ResetPassword(ctx, user.ID, digest, passwordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrExpiredToken
	}
	return nil
}

// ChangePassword replaces the password after checking the current one
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := validation.ValidatePassword(newPassword); err != nil {
		return err
	}
	if !s.hasher.Check(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.repos.users.UpdatePassword(ctx, user.ID, passwordHash)
}

// RequestEmailChange mails a confirmation token to the new address and a
// notice to the current one. Nothing changes until the token is confirmed.
func (s *AuthService) RequestEmailChange(ctx context.Context, userID int64, newEmail, currentPassword string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	newEmail = validation.NormalizeEmail(newEmail)
	if err := validation.ValidateEmail(newEmail); err != nil {
		return err
	}
	if !s.hasher.Check(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if newEmail == user.Email {
		return ErrSameEmail
	}

	holder, err := s.repos.users.GetByEmail(ctx, newEmail)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	// Deactivated accounts keep their address, so any holder blocks the change
	if holder != nil {
		return ErrEmailTaken
	}

	raw, expiresAt, err := s.tokens.IssueDefault(token.EmailChange, token.Claims{
		UserID:       user.ID,
		CurrentEmail: user.Email,
		NewEmail:     newEmail,
	})
	if err != nil {
		return fmt.Errorf("failed to issue email change token: %w", err)
	}
	if err := s.repos.users.SetEmailChangeToken(ctx, user.ID, token.Digest(raw), expiresAt); err != nil {
		return err
	}

	_ = s.mailer.SendBestEffort(ctx, mail.Message{
		Kind: mail.KindEmailChangeNotice,
		To:   user.Email,
		Vars: map[string]string{mail.VarName: user.Name, mail.VarNewEmail: newEmail},
	})
	_ = s.mailer.SendBestEffort(ctx, mail.Message{
		Kind: mail.KindEmailChangeConfirm,
		To:   newEmail,
		Vars: map[string]string{mail.VarName: user.Name, mail.VarNewEmail: newEmail, mail.VarToken: raw},
	})
	return nil
}

// ConfirmEmailChange applies a confirmed email change. The token is
// single-use, only the most recently requested one is honoured, and only
// while the account still has the email it was issued against.
// On success the presenter's access token is revoked so the client has
// to log in again with the new address.
func (s *AuthService) ConfirmEmailChange(ctx context.Context, rawToken, presenterAccessToken string) error {
	claims, err := s.tokens.Verify(ctx, rawToken, token.EmailChange)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrExpiredToken, err)
	}

	user, err := s.repos.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || !user.IsActive {
		return ErrInvalidOrExpiredToken
	}
	if user.Email != claims.CurrentEmail {
		return ErrStaleToken
	}

	holder, err := s.repos.users.GetByEmail(ctx, claims.NewEmail)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if holder != nil && holder.ID != user.ID {
		return ErrEmailTaken
	}

	ok, err := s.repos.users.ChangeEmail(ctx, user.ID, claims.CurrentEmail, claims.NewEmail, token.Digest(rawToken))
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrEmailTaken
	}
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleToken
	}

	revokeBestEffort(ctx, s.tokens, rawToken)
	revokeBestEffort(ctx, s.tokens, presenterAccessToken)
	return nil
}

// OAuthLogin signs in with an external identity, linking it to an existing
// account with the same email or creating a verified account without a family.
func (s *AuthService) OAuthLogin(ctx context.Context, provider, subject, email, name string) (*TokenPair, *models.User, error) {
	email = validation.NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if provider == "" || subject == "" {
		return nil, nil, ErrInvalidCredentials
	}

	user, err := s.repos.users.GetByOAuth(ctx, provider, subject)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get oauth user: %w", err)
	}

	if user == nil {
		if err := validation.ValidateEmail(email); err != nil {
			return nil, nil, err
		}
		user, err = s.repos.users.GetByEmail(ctx, email)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get user: %w", err)
		}

		if user != nil {
			if user.OAuthProvider != "" && (user.OAuthProvider != provider || user.OAuthSubject != subject) {
				return nil, nil, ErrEmailTaken
			}
			if err := s.repos.users.LinkOAuth(ctx, user.ID, provider, subject); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return nil, nil, ErrEmailTaken
				}
				return nil, nil, err
			}
			user.OAuthProvider, user.OAuthSubject = provider, subject
		} else {
			if name == "" {
				name = strings.SplitN(email, "@", 2)[0]
			}
			user, err = s.repos.users.Create(ctx, &models.User{
				Email:           email,
				Name:            name,
				IsEmailVerified: true,
				RoleInFamily:    models.RoleMember,
				OAuthProvider:   provider,
				OAuthSubject:    subject,
			})
			if errors.Is(err, repository.ErrDuplicate) {
				return nil, nil, ErrEmailTaken
			}
			if err != nil {
				return nil, nil, err
			}
			_ = s.mailer.SendBestEffort(ctx, mail.Message{
				Kind: mail.KindWelcome,
				To:   user.Email,
				Vars: map[string]string{mail.VarName: user.Name},
			})
		}
	}

	if !user.IsActive {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}
	loginAt := time.Now().UTC()
	if err := s.repos.users.RecordLogin(ctx, user.ID, loginAt); err != nil {
		log.Printf("failed to record login for user %d: %v", user.ID, err)
	} else {
		user.LastLoginAt = &loginAt
	}
	return pair, user, nil
}

// DeactivateAccount soft-deletes the caller's account. Family owners must
// transfer ownership first.
func (s *AuthService) DeactivateAccount(ctx context.Context, userID int64, password string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.HasPassword() && !s.hasher.Check(password, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	if user.IsFamilyOwner() {
		return ErrOwnerMustTransfer
	}

	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		r := s.repos.withTx(tx)
		if user.HasFamily() {
			if _, err := r.users.ClearFamily(ctx, user.ID, *user.FamilyID); err != nil {
				return err
			}
		}
		if err := r.requests.DeactivatePendingForUser(ctx, user.ID); err != nil {
			return err
		}
		return r.users.Deactivate(ctx, user.ID)
	})
}
