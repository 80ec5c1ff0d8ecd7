package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default allowed origins for development
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

type Config struct {
	Port        string
	DatabaseURL string
	StaticDir   string

	JWTSecret   string
	JWTIssuer   string
	CookieName  string
	ClientURL   string
	Origins     []string
	ProjectName string

	StripeSecretKey     string
	StripeWebhookSecret string
	DefaultCurrency     string

	ReconcileInterval time.Duration
	StatsBatchSize    int
}

// Load reads .env (when present) and the process environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "3000")
	v.SetDefault("COOKIE_NAME", "token")
	v.SetDefault("PROJECT_NAME", "PledgeHub")
	v.SetDefault("DEFAULT_CURRENCY", "usd")
	v.SetDefault("RECONCILE_INTERVAL", "1h")
	v.SetDefault("STATS_BATCH_SIZE", 50)

	cfg := &Config{
		Port:                v.GetString("PORT"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		StaticDir:           v.GetString("STATIC_DIR"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		JWTIssuer:           v.GetString("JWT_ISSUER"),
		CookieName:          v.GetString("COOKIE_NAME"),
		ClientURL:           strings.TrimRight(v.GetString("CLIENT_URL"), "/"),
		ProjectName:         v.GetString("PROJECT_NAME"),
		StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		DefaultCurrency:     strings.ToLower(v.GetString("DEFAULT_CURRENCY")),
		ReconcileInterval:   v.GetDuration("RECONCILE_INTERVAL"),
		StatsBatchSize:      v.GetInt("STATS_BATCH_SIZE"),
	}

	cfg.Origins = allowedOrigins(cfg.ClientURL, v.GetString("ALLOWED_ORIGINS"))

	if cfg.StatsBatchSize <= 0 {
		cfg.StatsBatchSize = 50
	}

	return cfg, nil
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return nil
}

// RedirectURL resolves a client-relative path against CLIENT_URL.
func (c *Config) RedirectURL(path string) string {
	if c.ClientURL == "" {
		return path
	}
	return c.ClientURL + "/" + strings.TrimLeft(path, "/")
}

func allowedOrigins(clientURL, extra string) []string {
	origins := make([]string, len(defaultOrigins))
	copy(origins, defaultOrigins)

	if clientURL != "" {
		origins = append(origins, clientURL)
	}

	for _, origin := range strings.Split(extra, ",") {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	return origins
}
