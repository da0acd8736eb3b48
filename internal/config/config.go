// Package config loads application configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	ServerPort string `mapstructure:"PORT"`

	// DatabaseType selects the dialect: sqlite, postgres or mysql.
	DatabaseType string `mapstructure:"DB_TYPE"`
	// DatabasePath is the SQLite file path.
	DatabasePath string `mapstructure:"DB_PATH"`
	// DatabaseURL is the DSN for postgres/mysql. MySQL DSNs need parseTime=true.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// AdminJWTSecret is the HS256 key used to verify administrator bearer tokens.
	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`

	// IdentityProvider is "local" (identities table) or "remote" (managed admin API).
	IdentityProvider     string `mapstructure:"IDENTITY_PROVIDER"`
	IdentityBaseURL      string `mapstructure:"IDENTITY_BASE_URL"`
	IdentityTokenURL     string `mapstructure:"IDENTITY_TOKEN_URL"`
	IdentityClientID     string `mapstructure:"IDENTITY_CLIENT_ID"`
	IdentityClientSecret string `mapstructure:"IDENTITY_CLIENT_SECRET"`
	// IdentityEmailDomain builds the recovery email stand-in for child identities.
	IdentityEmailDomain string `mapstructure:"IDENTITY_EMAIL_DOMAIN"`
	BcryptCost          int    `mapstructure:"BCRYPT_COST"`

	// EmailProvider is "log", "ses" or "sendgrid".
	EmailProvider  string `mapstructure:"EMAIL_PROVIDER"`
	AWSRegion      string `mapstructure:"AWS_REGION"`
	EmailFrom      string `mapstructure:"EMAIL_FROM"`
	EmailFromName  string `mapstructure:"EMAIL_FROM_NAME"`
	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`

	StepTimeout         time.Duration `mapstructure:"STEP_TIMEOUT"`
	UsernameMaxAttempts int           `mapstructure:"USERNAME_MAX_ATTEMPTS"`
	SecretLength        int           `mapstructure:"SECRET_LENGTH"`
	ApprovalTTL         time.Duration `mapstructure:"APPROVAL_TTL"`
	ExpirySweepInterval time.Duration `mapstructure:"EXPIRY_SWEEP_INTERVAL"`
	RateLimitPerMinute  int           `mapstructure:"RATE_LIMIT_PER_MINUTE"`
}

// Load reads .env (if present), then the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_TYPE", "sqlite")
	v.SetDefault("DB_PATH", "./eleve.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("ADMIN_JWT_SECRET", "")
	v.SetDefault("IDENTITY_PROVIDER", "local")
	v.SetDefault("IDENTITY_BASE_URL", "")
	v.SetDefault("IDENTITY_TOKEN_URL", "")
	v.SetDefault("IDENTITY_CLIENT_ID", "")
	v.SetDefault("IDENTITY_CLIENT_SECRET", "")
	v.SetDefault("IDENTITY_EMAIL_DOMAIN", "students.eleve.local")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("EMAIL_PROVIDER", "log")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("EMAIL_FROM", "")
	v.SetDefault("EMAIL_FROM_NAME", "Eleve")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("STEP_TIMEOUT", "10s")
	v.SetDefault("USERNAME_MAX_ATTEMPTS", 1000)
	v.SetDefault("SECRET_LENGTH", 10)
	v.SetDefault("APPROVAL_TTL", "720h")
	v.SetDefault("EXPIRY_SWEEP_INTERVAL", "1h")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
}

// Validate checks the fields that have no usable fallback.
func (c *Config) Validate() error {
	switch strings.ToLower(c.DatabaseType) {
	case "sqlite", "sqlite3", "":
		if c.DatabasePath == "" {
			return errors.New("config: DB_PATH must be set for sqlite")
		}
	case "postgres", "postgresql", "mysql":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL must be set for %s", c.DatabaseType)
		}
	default:
		return fmt.Errorf("config: unsupported DB_TYPE %q", c.DatabaseType)
	}

	switch c.IdentityProvider {
	case "local":
	case "remote":
		if c.IdentityBaseURL == "" || c.IdentityTokenURL == "" {
			return errors.New("config: IDENTITY_BASE_URL and IDENTITY_TOKEN_URL must be set for the remote identity provider")
		}
	default:
		return fmt.Errorf("config: unsupported IDENTITY_PROVIDER %q", c.IdentityProvider)
	}

	switch c.EmailProvider {
	case "log":
	case "ses":
		if c.EmailFrom == "" {
			return errors.New("config: EMAIL_FROM must be set for ses")
		}
	case "sendgrid":
		if c.EmailFrom == "" || c.SendGridAPIKey == "" {
			return errors.New("config: EMAIL_FROM and SENDGRID_API_KEY must be set for sendgrid")
		}
	default:
		return fmt.Errorf("config: unsupported EMAIL_PROVIDER %q", c.EmailProvider)
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.StepTimeout <= 0 {
		return errors.New("config: STEP_TIMEOUT must be positive")
	}
	if c.UsernameMaxAttempts <= 0 {
		return errors.New("config: USERNAME_MAX_ATTEMPTS must be positive")
	}
	if c.SecretLength < 8 {
		return errors.New("config: SECRET_LENGTH must be at least 8")
	}
	if c.ApprovalTTL <= 0 || c.ExpirySweepInterval <= 0 {
		return errors.New("config: APPROVAL_TTL and EXPIRY_SWEEP_INTERVAL must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("config: RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}
