// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all env configuration vars for obol.
type Config struct {
	Port         string     `env:"PORT" envDefault:"3000"`
	LogLevel     slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL  string     `env:"DATABASE_URL,required,notEmpty"`
	CookieDomain string     `env:"COOKIE_DOMAIN,required,notEmpty"`
	CORSOrigin   string     `env:"CORS_ORIGIN" envDefault:"http://localhost:3000"`

	// Redis URL and password are both required; the password overrides any in the URL.
	RedisURL      string `env:"REDIS_URL,required,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD,required,notEmpty"`

	GitHub OAuthClient `envPrefix:"GITHUB_"`
	Google OAuthClient `envPrefix:"GOOGLE_"`

	// Stripe keys are read but not startup-fatal. Empty SecretKey disables billing routes.
	StripeSecretKey      string `env:"STRIPE_SECRET_KEY"`
	StripePublishableKey string `env:"STRIPE_PUBLISHABLE_KEY"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID        string `env:"STRIPE_PRICE_ID"`
	AppURL               string `env:"APP_URL" envDefault:"http://localhost:3000"`

	// Session lifetime (rolling) and OAuth state lifetime.
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	OAuthStateTTL time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`
}

// OAuthClient is one provider's client registration.
type OAuthClient struct {
	ClientID     string `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"CLIENT_SECRET,required,notEmpty"`
	RedirectURI  string `env:"REDIRECT_URI,required,notEmpty"`
}

// BillingEnabled reports whether a Stripe secret key was configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error naming every required variable that is missing or empty.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.SessionTTL <= 0 {
		slog.Warn("invalid SESSION_TTL, using default", "value", cfg.SessionTTL, "default", 24*time.Hour)
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.OAuthStateTTL <= 0 {
		slog.Warn("invalid OAUTH_STATE_TTL, using default", "value", cfg.OAuthStateTTL, "default", 10*time.Minute)
		cfg.OAuthStateTTL = 10 * time.Minute
	}

	return cfg, nil
}
