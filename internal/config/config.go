package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	ServerPort     string `env:"PORT" envDefault:"8080"`
	AppBaseURL     string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	Debug          bool   `env:"DEBUG" envDefault:"false"`
	DatabaseType   string `env:"DB_TYPE" envDefault:"sqlite"`
	DatabasePath   string `env:"DB_PATH" envDefault:"./familyledger.db"`
	DatabaseURL    string `env:"DATABASE_URL"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"./migrations"`

	// Session tokens (access, refresh) and email-class tokens are signed
	// with different secrets.
	AccessTokenSecret string `env:"JWT_SECRET"`
	EmailTokenSecret  string `env:"EMAIL_TOKEN_SECRET"`

	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	PasswordResetTTL     time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"1h"`
	EmailChangeTTL       time.Duration `env:"EMAIL_CHANGE_TTL" envDefault:"1h"`
	InvitationTTL        time.Duration `env:"INVITATION_TTL" envDefault:"24h"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`

	SESRegion        string        `env:"AWS_REGION" envDefault:"us-east-1"`
	SESFromEmail     string        `env:"SES_FROM_EMAIL"`
	SESFromName      string        `env:"SES_FROM_NAME" envDefault:"Family Ledger"`
	EmailSendTimeout time.Duration `env:"EMAIL_SEND_TIMEOUT" envDefault:"10s"`
	// EmailBackend selects the gateway: "ses", "kafka" or "log".
	EmailBackend string `env:"EMAIL_BACKEND" envDefault:"ses"`

	KafkaBroker   string `env:"KAFKA_BROKER"`
	KafkaTopic    string `env:"KAFKA_EMAIL_TOPIC" envDefault:"email.outbound"`
	KafkaGroupID  string `env:"KAFKA_GROUP_ID" envDefault:"familyledger-mailer"`
	KafkaUsername string `env:"KAFKA_USERNAME"`
	KafkaPassword string `env:"KAFKA_PASSWORD"`

	RedisURL string `env:"REDIS_URL"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"10"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	GoogleClientID       string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"GOOGLE_CLIENT_SECRET"`
	FacebookClientID     string `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `env:"FACEBOOK_CLIENT_SECRET"`
}

// Load reads an optional .env file and then parses environment variables
// with sensible defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the secrets required to sign tokens are present and distinct
func (c *Config) Validate() error {
	if c.AccessTokenSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.EmailTokenSecret == "" {
		return errors.New("EMAIL_TOKEN_SECRET is required")
	}
	if c.AccessTokenSecret == c.EmailTokenSecret {
		return errors.New("JWT_SECRET and EMAIL_TOKEN_SECRET must differ")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	return nil
}

// OAuthEnabled reports whether a provider has client credentials configured
func (c *Config) OAuthEnabled(provider string) bool {
	switch provider {
	case "google":
		return c.GoogleClientID != "" && c.GoogleClientSecret != ""
	case "facebook":
		return c.FacebookClientID != "" && c.FacebookClientSecret != ""
	}
	return false
}
