// Package auth brokers OAuth authorization-code sign-in with GitHub and
// Google and carries the resulting identity between requests.
//
// A sign-in moves through a fixed sequence: the callback receives a code,
// exchanges it for an access token, fetches the profile, normalizes it into a
// models.Identity, and hands that to a SessionStrategy. Any failure after the
// code check is terminal; authorization codes are single-use so nothing is
// retried.
package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"tracspend/internal/apperr"
	"tracspend/internal/models"

	"golang.org/x/oauth2"
)

// ErrUnknownProvider is returned for a provider that is not configured.
var ErrUnknownProvider = errors.New("auth: unknown provider")

// CallbackPath is the path prefix the provider redirects back to.
const CallbackPath = "/api/auth/callback/"

// maxProviderBody caps how much of a provider response is read.
const maxProviderBody = 1 << 20

// Authenticator holds the provider capability table and performs the
// server-side half of the authorization-code flow.
type Authenticator struct {
	publicURL  string
	httpClient *http.Client
	providers  map[models.Provider]Provider
}

// NewAuthenticator builds an authenticator for the given providers.
// publicURL is the externally visible origin used to build redirect URIs.
func NewAuthenticator(publicURL string, httpClient *http.Client, providers ...Provider) *Authenticator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	table := make(map[models.Provider]Provider, len(providers))
	for _, p := range providers {
		table[p.ID] = p
	}
	return &Authenticator{
		publicURL:  strings.TrimRight(publicURL, "/"),
		httpClient: httpClient,
		providers:  table,
	}
}

// Provider looks up a configured provider by its identifier.
func (a *Authenticator) Provider(id string) (Provider, error) {
	p, ok := a.providers[models.Provider(strings.ToLower(strings.TrimSpace(id)))]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return p, nil
}

// Providers lists the configured provider identifiers.
func (a *Authenticator) Providers() []models.Provider {
	ids := make([]models.Provider, 0, len(a.providers))
	for _, id := range []models.Provider{models.ProviderGitHub, models.ProviderGoogle} {
		if _, ok := a.providers[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// RedirectURI is the callback URI registered with the provider. The token
// exchange must send exactly the same value.
func (a *Authenticator) RedirectURI(p models.Provider) string {
	return a.publicURL + CallbackPath + string(p)
}

func (a *Authenticator) oauthConfig(p Provider) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  a.RedirectURI(p.ID),
		Scopes:       p.Scopes,
	}
}

// AuthorizationURL builds the provider authorization URL carrying client_id,
// redirect_uri, scope, state and response_type=code.
func (a *Authenticator) AuthorizationURL(providerID, state string) (string, error) {
	p, err := a.Provider(providerID)
	if err != nil {
		return "", err
	}
	if state == "" {
		return "", errors.New("auth: state is required")
	}
	return a.oauthConfig(p).AuthCodeURL(state), nil
}

// NewState returns a random opaque state token.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Exchange trades an authorization code for the caller's normalized identity.
// Errors carry apperr.CodeTokenExchangeFailed or apperr.CodeProfileFetchFailed.
func (a *Authenticator) Exchange(ctx context.Context, providerID, code string) (models.Identity, error) {
	p, err := a.Provider(providerID)
	if err != nil {
		return models.Identity{}, err
	}
	if code == "" {
		return models.Identity{}, apperr.New(apperr.CodeMissingAuthorizationCode, "missing authorization code")
	}

	accessToken, err := a.exchangeToken(ctx, p, code)
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.CodeTokenExchangeFailed, p.Name+" token exchange failed", err)
	}

	identity, err := a.fetchProfile(ctx, p, accessToken)
	if err != nil {
		return models.Identity{}, apperr.Wrap(apperr.CodeProfileFetchFailed, p.Name+" profile fetch failed", err)
	}
	return identity, nil
}

func (a *Authenticator) exchangeToken(ctx context.Context, p Provider, code string) (string, error) {
	redirectURI := a.RedirectURI(p.ID)

	var body io.Reader
	var contentType string
	switch p.Encoding {
	case EncodeForm:
		form := url.Values{}
		form.Set("grant_type", "authorization_code")
		form.Set("code", code)
		form.Set("redirect_uri", redirectURI)
		form.Set("client_id", p.ClientID)
		form.Set("client_secret", p.ClientSecret)
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		payload, err := json.Marshal(map[string]string{
			"client_id":     p.ClientID,
			"client_secret": p.ClientSecret,
			"code":          code,
			"redirect_uri":  redirectURI,
		})
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint.TokenURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	// GitHub reports bad codes with 200 and an error field.
	var payload struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderBody)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("token endpoint error %q: %s", payload.Error, payload.ErrorDescription)
	}
	if payload.AccessToken == "" {
		return "", errors.New("missing access token")
	}
	return payload.AccessToken, nil
}

func (a *Authenticator) fetchProfile(ctx context.Context, p Provider, accessToken string) (models.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return models.Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return models.Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Identity{}, fmt.Errorf("profile endpoint returned %d", resp.StatusCode)
	}

	identity, err := p.normalize(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return models.Identity{}, fmt.Errorf("decode profile: %w", err)
	}
	if !identity.Valid() {
		return models.Identity{}, errors.New("profile has no subject identifier")
	}
	return identity, nil
}
