package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"familyledger/internal/cache"
	"familyledger/internal/config"
	"familyledger/internal/database"
	"familyledger/internal/handlers"
	"familyledger/internal/mail"
	"familyledger/internal/repository"
	"familyledger/internal/security"
	"familyledger/internal/service"
	"familyledger/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	startup := handlers.NewStartupStatus(handlers.StepDatabase, handlers.StepMigrations, handlers.StepServices)

	startup.SetCurrentStep(handlers.StepDatabase)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.CompleteStep(handlers.StepDatabase)

	log.Printf("Database connection established (type: %s)", cfg.DatabaseType)

	ctx := context.Background()

	startup.SetCurrentStep(handlers.StepMigrations)
	if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	startup.CompleteStep(handlers.StepMigrations)

	log.Println("Migrations completed successfully")

	startup.SetCurrentStep(handlers.StepServices)

	blacklist := token.Blacklist(repository.NewRevokedTokenRepository(db))
	var limiter handlers.Limiter
	if cfg.RedisURL != "" {
		redisClient, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		blacklist = token.Chain(cache.NewRedisBlacklist(redisClient), blacklist)
		limiter = cache.NewRedisRateLimiter(redisClient, cfg.RateLimitRequests, cfg.RateLimitWindow)
		log.Println("Using Redis for token revocation and rate limiting")
	} else {
		memoryLimiter := security.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		defer memoryLimiter.Stop()
		limiter = memoryLimiter
	}

	tokens, err := token.NewService(token.Config{
		SessionSecret: []byte(cfg.AccessTokenSecret),
		EmailSecret:   []byte(cfg.EmailTokenSecret),
		TTLs: map[token.Type]time.Duration{
			token.Access:            cfg.AccessTokenTTL,
			token.Refresh:           cfg.RefreshTokenTTL,
			token.EmailVerification: cfg.VerificationTokenTTL,
			token.PasswordReset:     cfg.PasswordResetTTL,
			token.EmailChange:       cfg.EmailChangeTTL,
			token.FamilyInvitation:  cfg.InvitationTTL,
		},
	}, blacklist)
	if err != nil {
		log.Fatalf("Failed to create token service: %v", err)
	}

	gateway, err := newMailGateway(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize email gateway: %v", err)
	}
	if closer, ok := gateway.(io.Closer); ok {
		defer closer.Close()
	}
	mailer := mail.NewDispatcher(gateway, cfg.EmailSendTimeout)

	deps := service.Deps{
		DB:     db,
		Tokens: tokens,
		Hasher: security.NewPasswordHasher(cfg.BcryptCost),
		Mailer: mailer,
		Debug:  cfg.Debug,
	}
	authService := service.NewAuthService(deps)
	familyService := service.NewFamilyService(deps)
	backupService := service.NewBackupService(db)

	oauthProviders := map[string]handlers.OAuthProvider{
		"google": {
			Name:  "google",
			Label: "Google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     google.Endpoint,
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		},
		"facebook": {
			Name:  "facebook",
			Label: "Facebook",
			Config: &oauth2.Config{
				ClientID:     cfg.FacebookClientID,
				ClientSecret: cfg.FacebookClientSecret,
				Endpoint:     facebook.Endpoint,
				Scopes:       []string{"email", "public_profile"},
			},
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		},
	}
	for name := range oauthProviders {
		if !cfg.OAuthEnabled(name) {
			delete(oauthProviders, name)
		}
	}

	middleware := handlers.NewMiddleware(authService, limiter)
	authHandler := handlers.NewAuthHandler(authService, oauthProviders, cfg.AppBaseURL)
	familyHandler := handlers.NewFamilyHandler(familyService)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, authHandler, familyHandler, middleware, startup)

	startup.CompleteStep(handlers.StepServices)
	startup.MarkReady(db)

	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:         addr,
		Handler:      handlers.Logging(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	defer stopCleanup()
	go pruneExpiredTokens(cleanupCtx, backupService)

	go func() {
		log.Printf("Server starting on http://localhost%s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := mailer.Wait(shutdownCtx); err != nil {
		log.Printf("Pending emails not flushed: %v", err)
	}
}

// newMailGateway selects the delivery backend from EMAIL_BACKEND
func newMailGateway(ctx context.Context, cfg *config.Config) (mail.Gateway, error) {
	switch cfg.EmailBackend {
	case "kafka":
		if cfg.KafkaBroker == "" {
			return nil, errors.New("KAFKA_BROKER is required for the kafka email backend")
		}
		log.Printf("Publishing email events to Kafka topic %s", cfg.KafkaTopic)
		return mail.NewKafkaGateway(mail.KafkaConfig{
			Broker:   cfg.KafkaBroker,
			Topic:    cfg.KafkaTopic,
			Username: cfg.KafkaUsername,
			Password: cfg.KafkaPassword,
		}), nil
	case "log":
		return mail.LogGateway{AppBaseURL: cfg.AppBaseURL, Debug: cfg.Debug}, nil
	default:
		return mail.NewSESGateway(ctx, mail.SESConfig{
			Region:     cfg.SESRegion,
			FromEmail:  cfg.SESFromEmail,
			FromName:   cfg.SESFromName,
			AppBaseURL: cfg.AppBaseURL,
			Debug:      cfg.Debug,
		})
	}
}

// pruneExpiredTokens periodically removes expired revocations and
// single-use token digests
func pruneExpiredTokens(ctx context.Context, backupService *service.BackupService) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := backupService.Prune(ctx, time.Now()); err != nil {
				log.Printf("Error pruning expired tokens: %v", err)
			}
		}
	}
}
