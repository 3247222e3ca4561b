package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "expenses.db", cfg.DatabaseURL)
	assert.Equal(t, "http://localhost:8080", cfg.PublicURL)
	assert.Equal(t, SessionModeCookie, cfg.SessionMode)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10*time.Second, cfg.OAuthHTTPTimeout)
	assert.Equal(t, "web/static", cfg.StaticDir)
	assert.False(t, cfg.Development())
	assert.False(t, cfg.GitHub.Enabled())
	assert.False(t, cfg.Google.Enabled())
}

func TestLoadProviders(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("PUBLIC_URL", "https://spend.example.com/")
	t.Setenv("GITHUB_CLIENT_ID", "gh-id")
	t.Setenv("GITHUB_CLIENT_SECRET", "gh-secret")
	t.Setenv("GITHUB_SCOPES", " read:user, ,user:email ")
	t.Setenv("GOOGLE_CLIENT_ID", "g-id")
	t.Setenv("GOOGLE_TOKEN_URL", "http://127.0.0.1:9999/token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://spend.example.com", cfg.PublicURL)
	assert.True(t, cfg.GitHub.Enabled())
	assert.Equal(t, []string{"read:user", "user:email"}, cfg.GitHub.Scopes)
	assert.False(t, cfg.Google.Enabled(), "google has no secret")
	assert.Equal(t, "http://127.0.0.1:9999/token", cfg.Google.TokenURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "short secret",
			env:     map[string]string{"SESSION_SECRET": "short"},
			wantErr: "SESSION_SECRET",
		},
		{
			name:    "unknown session mode",
			env:     map[string]string{"SESSION_SECRET": testSecret, "SESSION_MODE": "both"},
			wantErr: "SESSION_MODE",
		},
		{
			name:    "relative public url",
			env:     map[string]string{"SESSION_SECRET": testSecret, "PUBLIC_URL": "/app"},
			wantErr: "PUBLIC_URL",
		},
		{
			name:    "unparseable duration",
			env:     map[string]string{"SESSION_SECRET": testSecret, "TOKEN_TTL": "forever"},
			wantErr: "parse env",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDevelopment(t *testing.T) {
	assert.True(t, Config{AppEnv: "Development"}.Development())
	assert.False(t, Config{AppEnv: "production"}.Development())
}
