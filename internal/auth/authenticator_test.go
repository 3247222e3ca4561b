package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"tracspend/internal/apperr"
	"tracspend/internal/config"
	"tracspend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPublicURL = "https://spend.example.com"

// fakeProvider is an httptest-backed OAuth provider with programmable
// token and profile responses.
type fakeProvider struct {
	server       *httptest.Server
	tokenCalls   atomic.Int32
	profileCalls atomic.Int32

	tokenStatus   int
	tokenBody     any
	profileStatus int
	profileBody   any

	mu               sync.Mutex
	lastTokenHeader  http.Header
	lastTokenForm    url.Values
	lastTokenJSON    map[string]string
	lastBearer       string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{
		tokenStatus:   http.StatusOK,
		tokenBody:     map[string]any{"access_token": "tok-123", "token_type": "bearer"},
		profileStatus: http.StatusOK,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fp.tokenCalls.Add(1)
		fp.mu.Lock()
		fp.lastTokenHeader = r.Header.Clone()
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			assert.NoError(t, r.ParseForm())
			fp.lastTokenForm = r.PostForm
		} else {
			fp.lastTokenJSON = map[string]string{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&fp.lastTokenJSON))
		}
		fp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fp.tokenStatus)
		_ = json.NewEncoder(w).Encode(fp.tokenBody)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fp.profileCalls.Add(1)
		fp.mu.Lock()
		fp.lastBearer = r.Header.Get("Authorization")
		fp.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(fp.profileStatus)
		_ = json.NewEncoder(w).Encode(fp.profileBody)
	})
	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) config() config.ProviderConfig {
	return config.ProviderConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      fp.server.URL + "/authorize",
		TokenURL:     fp.server.URL + "/token",
		UserInfoURL:  fp.server.URL + "/user",
	}
}

func (fp *fakeProvider) authenticator(providers ...Provider) *Authenticator {
	return NewAuthenticator(testPublicURL, fp.server.Client(), providers...)
}

func TestAuthorizationURL(t *testing.T) {
	a := NewAuthenticator(testPublicURL+"/", nil,
		GitHub(config.ProviderConfig{ClientID: "gh-id", ClientSecret: "s"}),
		Google(config.ProviderConfig{ClientID: "g-id", ClientSecret: "s"}),
	)

	tests := []struct {
		provider string
		host     string
		clientID string
		scope    string
	}{
		{"github", "github.com", "gh-id", "read:user user:email"},
		{"google", "accounts.google.com", "g-id", "openid email profile"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			raw, err := a.AuthorizationURL(tt.provider, "state-abc")
			require.NoError(t, err)

			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.host, u.Host)

			q := u.Query()
			assert.Equal(t, tt.clientID, q.Get("client_id"))
			assert.Equal(t, testPublicURL+"/api/auth/callback/"+tt.provider, q.Get("redirect_uri"))
			assert.Equal(t, tt.scope, q.Get("scope"))
			assert.Equal(t, "state-abc", q.Get("state"))
			assert.Equal(t, "code", q.Get("response_type"))
		})
	}
}

func TestAuthorizationURLUnknownProvider(t *testing.T) {
	a := NewAuthenticator(testPublicURL, nil, GitHub(config.ProviderConfig{ClientID: "id", ClientSecret: "s"}))

	_, err := a.AuthorizationURL("gitlab", "state")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = a.AuthorizationURL("google", "state")
	assert.ErrorIs(t, err, ErrUnknownProvider, "unconfigured provider is unknown")

	_, err = a.AuthorizationURL("github", "")
	assert.Error(t, err, "empty state is refused")
}

func TestProviders(t *testing.T) {
	a := NewAuthenticator(testPublicURL, nil,
		Google(config.ProviderConfig{ClientID: "g", ClientSecret: "s"}),
		GitHub(config.ProviderConfig{ClientID: "gh", ClientSecret: "s"}),
	)
	assert.Equal(t, []models.Provider{models.ProviderGitHub, models.ProviderGoogle}, a.Providers())
}

func TestExchangeGitHub(t *testing.T) {
	fp := newFakeProvider(t)
	fp.profileBody = map[string]any{"id": 12345, "login": "octocat", "email": "octo@example.com"}
	a := fp.authenticator(GitHub(fp.config()))

	identity, err := a.Exchange(context.Background(), "github", "code-1")
	require.NoError(t, err)

	assert.Equal(t, models.Identity{
		ID:       "12345",
		Name:     "octocat",
		Email:    "octo@example.com",
		Provider: models.ProviderGitHub,
	}, identity)

	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.NotNil(t, fp.lastTokenHeader)
	assert.Equal(t, "application/json", fp.lastTokenHeader.Get("Content-Type"))
	assert.Equal(t, "application/json", fp.lastTokenHeader.Get("Accept"))
	assert.Equal(t, map[string]string{
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"code":          "code-1",
		"redirect_uri":  testPublicURL + "/api/auth/callback/github",
	}, fp.lastTokenJSON, "GitHub body carries no grant_type")
	assert.Equal(t, "Bearer tok-123", fp.lastBearer)
}

func TestExchangeGoogle(t *testing.T) {
	fp := newFakeProvider(t)
	fp.profileBody = map[string]any{"sub": "1098", "name": "Ada", "email": "ada@example.com"}
	a := fp.authenticator(Google(fp.config()))

	identity, err := a.Exchange(context.Background(), "google", "code-2")
	require.NoError(t, err)

	assert.Equal(t, models.Identity{
		ID:       "1098",
		Name:     "Ada",
		Email:    "ada@example.com",
		Provider: models.ProviderGoogle,
	}, identity)

	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.NotNil(t, fp.lastTokenForm, "Google token request must be form encoded")
	assert.Equal(t, "authorization_code", fp.lastTokenForm.Get("grant_type"))
	assert.Equal(t, "code-2", fp.lastTokenForm.Get("code"))
	assert.Equal(t, "client-id", fp.lastTokenForm.Get("client_id"))
	assert.Equal(t, "client-secret", fp.lastTokenForm.Get("client_secret"))
	assert.Equal(t, testPublicURL+"/api/auth/callback/google", fp.lastTokenForm.Get("redirect_uri"))
}

func TestExchangeTokenFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
	}{
		{"unauthorized", http.StatusUnauthorized, map[string]any{"error": "invalid_client"}},
		{"server error", http.StatusInternalServerError, map[string]any{}},
		{"error in 200 body", http.StatusOK, map[string]any{"error": "bad_verification_code"}},
		{"missing access token", http.StatusOK, map[string]any{"token_type": "bearer"}},
		{"undecodable body", http.StatusOK, "not-an-object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			fp.tokenStatus = tt.status
			fp.tokenBody = tt.body
			a := fp.authenticator(GitHub(fp.config()))

			_, err := a.Exchange(context.Background(), "github", "code")
			require.Error(t, err)
			assert.Equal(t, apperr.CodeTokenExchangeFailed, apperr.CodeOf(err))
			assert.Equal(t, int32(1), fp.tokenCalls.Load())
			assert.Equal(t, int32(0), fp.profileCalls.Load(), "profile endpoint must not be called")
		})
	}
}

func TestExchangeTokenNetworkFailure(t *testing.T) {
	fp := newFakeProvider(t)
	cfg := fp.config()
	fp.server.Close()
	a := fp.authenticator(Google(cfg))

	_, err := a.Exchange(context.Background(), "google", "code")
	assert.Equal(t, apperr.CodeTokenExchangeFailed, apperr.CodeOf(err))
}

func TestExchangeProfileFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider func(config.ProviderConfig) Provider
		status   int
		body     any
	}{
		{"github 401", GitHub, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"}},
		{"google 500", Google, http.StatusInternalServerError, map[string]any{}},
		{"github missing id", GitHub, http.StatusOK, map[string]any{"login": "ghost"}},
		{"google missing sub", Google, http.StatusOK, map[string]any{"email": "x@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			fp.profileStatus = tt.status
			fp.profileBody = tt.body
			p := tt.provider(fp.config())
			a := fp.authenticator(p)

			_, err := a.Exchange(context.Background(), string(p.ID), "code")
			require.Error(t, err)
			assert.Equal(t, apperr.CodeProfileFetchFailed, apperr.CodeOf(err))
		})
	}
}

func TestExchangeRequiresCode(t *testing.T) {
	fp := newFakeProvider(t)
	a := fp.authenticator(GitHub(fp.config()))

	_, err := a.Exchange(context.Background(), "github", "")
	assert.Equal(t, apperr.CodeMissingAuthorizationCode, apperr.CodeOf(err))
	assert.Equal(t, int32(0), fp.tokenCalls.Load())
}

func TestNewState(t *testing.T) {
	s1, err := NewState()
	require.NoError(t, err)
	s2, err := NewState()
	require.NoError(t, err)

	assert.Len(t, s1, 64)
	assert.NotEqual(t, s1, s2)
}
