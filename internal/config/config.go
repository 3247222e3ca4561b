// Package config loads process configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Session modes. Exactly one is active per deployment.
const (
	SessionModeCookie = "cookie"
	SessionModeQuery  = "query"
)

// minSecretLength is the shortest SESSION_SECRET accepted.
const minSecretLength = 32

// Config describes the server configuration.
type Config struct {
	Port             string        `env:"PORT"               envDefault:"8080"`
	DatabaseURL      string        `env:"DATABASE_URL"       envDefault:"expenses.db"`
	PublicURL        string        `env:"PUBLIC_URL"         envDefault:"http://localhost:8080"`
	SessionSecret    string        `env:"SESSION_SECRET"`
	SessionMode      string        `env:"SESSION_MODE"       envDefault:"cookie"`
	SecureCookie     bool          `env:"SECURE_COOKIE"      envDefault:"false"`
	AppEnv           string        `env:"APP_ENV"            envDefault:"production"`
	CORSOrigin       string        `env:"CORS_ORIGIN"`
	TokenTTL         time.Duration `env:"TOKEN_TTL"          envDefault:"24h"`
	TokenIssuer      string        `env:"TOKEN_ISSUER"       envDefault:"tracspend"`
	OAuthHTTPTimeout time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`
	StaticDir        string        `env:"STATIC_DIR"         envDefault:"web/static"`

	GitHub ProviderConfig `envPrefix:"GITHUB_"`
	Google ProviderConfig `envPrefix:"GOOGLE_"`
}

// ProviderConfig holds one OAuth provider's client credentials. The endpoint
// fields are optional overrides of the provider's public endpoints.
type ProviderConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	AuthURL      string   `env:"AUTH_URL"`
	TokenURL     string   `env:"TOKEN_URL"`
	UserInfoURL  string   `env:"USERINFO_URL"`
	Scopes       []string `env:"SCOPES" envSeparator:","`
}

// Enabled reports whether both client credentials are present.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != "" && strings.TrimSpace(p.ClientSecret) != ""
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.GitHub.Scopes = trimCSV(cfg.GitHub.Scopes)
	cfg.Google.Scopes = trimCSV(cfg.Google.Scopes)
	cfg.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.SessionSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d characters long", minSecretLength))
	}
	if c.SessionMode != SessionModeCookie && c.SessionMode != SessionModeQuery {
		errs = append(errs, fmt.Errorf("SESSION_MODE must be %q or %q, got %q", SessionModeCookie, SessionModeQuery, c.SessionMode))
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_URL must be an absolute URL, got %q", c.PublicURL))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.OAuthHTTPTimeout <= 0 {
		errs = append(errs, errors.New("OAUTH_HTTP_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Development reports whether diagnostic detail may be exposed to clients.
func (c Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
