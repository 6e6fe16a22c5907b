// Package config loads server settings from the environment.
//
// In development a .env file in the working directory is loaded first, so
// local secrets never need exporting by hand.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	Port        int    `envconfig:"PORT" default:"8080"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	DBPath      string `envconfig:"DB_PATH" default:"data/hive.db"`

	SessionSecret string `envconfig:"SESSION_SECRET" required:"true"`

	// OAuth App used for sign-in.
	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`

	// GitHub App installed on user and organization accounts.
	GitHubAppSlug         string `envconfig:"GITHUB_APP_SLUG"`
	GitHubAppClientID     string `envconfig:"GITHUB_APP_CLIENT_ID"`
	GitHubAppClientSecret string `envconfig:"GITHUB_APP_CLIENT_SECRET"`

	GitHubURL    string `envconfig:"GITHUB_URL" default:"https://github.com"`
	GitHubAPIURL string `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`

	// EncryptionKey is the hex-encoded 32-byte active key. Retired keys stay
	// readable through EncryptionPreviousKeys ("id:hex,id:hex").
	EncryptionKeyID        string            `envconfig:"TOKEN_ENCRYPTION_KEY_ID" default:"k1"`
	EncryptionKey          string            `envconfig:"TOKEN_ENCRYPTION_KEY" required:"true"`
	EncryptionPreviousKeys map[string]string `envconfig:"TOKEN_ENCRYPTION_PREVIOUS_KEYS"`

	PoolManagerURL string `envconfig:"POOL_MANAGER_URL" default:"http://localhost:8090"`

	// Redis holds install states when set; otherwise they live on the sessions row.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// Load reads .env (development only), processes the environment and
// validates the result.
func Load(logger *slog.Logger) (*Config, error) {
	if env := os.Getenv("ENVIRONMENT"); env == "" || env == EnvDevelopment {
		if err := godotenv.Load(); err != nil {
			logger.Debug("no .env file found")
		} else {
			logger.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once instead of stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		problems = append(problems, "ENVIRONMENT must be development or production")
	}
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, "PORT must be between 1 and 65535")
	}
	if len(c.SessionSecret) < 32 {
		problems = append(problems, "SESSION_SECRET must be at least 32 characters")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		problems = append(problems, "GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}
	if (c.GitHubAppClientID == "") != (c.GitHubAppClientSecret == "") {
		problems = append(problems, "GITHUB_APP_CLIENT_ID and GITHUB_APP_CLIENT_SECRET must be set together")
	}
	if c.GitHubAppClientID != "" && c.GitHubAppSlug == "" {
		problems = append(problems, "GITHUB_APP_SLUG is required when the GitHub App is configured")
	}
	for name, raw := range map[string]string{
		"BASE_URL":         c.BaseURL,
		"GITHUB_URL":       c.GitHubURL,
		"GITHUB_API_URL":   c.GitHubAPIURL,
		"POOL_MANAGER_URL": c.PoolManagerURL,
	} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			problems = append(problems, name+" must be a valid URL")
		}
	}
	if _, err := c.EncryptionKeys(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: environment validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// EncryptionKeys decodes the active and previous keys by id.
func (c *Config) EncryptionKeys() (map[string][]byte, error) {
	keys := make(map[string][]byte, 1+len(c.EncryptionPreviousKeys))
	add := func(id, hexKey string) error {
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("encryption key %q must be 64 hex characters", id)
		}
		keys[id] = key
		return nil
	}

	for id, hexKey := range c.EncryptionPreviousKeys {
		if err := add(id, hexKey); err != nil {
			return nil, err
		}
	}
	if c.EncryptionKeyID == "" {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY_ID must not be empty")
	}
	if err := add(c.EncryptionKeyID, c.EncryptionKey); err != nil {
		return nil, err
	}
	return keys, nil
}

func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// Addr is the listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// OAuthCallbackURL is the sign-in callback registered on the OAuth App.
func (c *Config) OAuthCallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/github/callback"
}

// AppCallbackURL is the GitHub App's "Callback URL".
func (c *Config) AppCallbackURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/github/app/callback"
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}

// MaskSecret keeps enough of a secret to recognise it in logs.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// LogValue renders the config for slog with every secret masked.
func (c *Config) LogValue() slog.Value {
	redis := "disabled"
	if c.RedisAddr != "" {
		redis = c.RedisAddr
	}
	return slog.GroupValue(
		slog.String("environment", c.Environment),
		slog.Int("port", c.Port),
		slog.String("baseURL", c.BaseURL),
		slog.String("database", c.DBPath),
		slog.String("sessionSecret", MaskSecret(c.SessionSecret)),
		slog.String("githubClientID", MaskSecret(c.GitHubClientID)),
		slog.String("githubAppSlug", c.GitHubAppSlug),
		slog.String("githubAppClientID", MaskSecret(c.GitHubAppClientID)),
		slog.String("encryptionKeyID", c.EncryptionKeyID),
		slog.Int("previousKeys", len(c.EncryptionPreviousKeys)),
		slog.String("poolManagerURL", c.PoolManagerURL),
		slog.String("redis", redis),
		slog.String("logLevel", c.LogLevel),
	)
}
