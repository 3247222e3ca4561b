package auth

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"tracspend/internal/config"
	"tracspend/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// TokenEncoding is how a provider's token endpoint expects its request body.
type TokenEncoding int

const (
	// EncodeJSON sends a JSON body; GitHub accepts it with Accept: application/json.
	EncodeJSON TokenEncoding = iota
	// EncodeForm sends application/x-www-form-urlencoded with grant_type, as Google requires.
	EncodeForm
)

const (
	githubUserInfoURL = "https://api.github.com/user"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Provider is one row of the provider capability table: endpoints, token
// request encoding and the profile normalizer.
type Provider struct {
	ID           models.Provider
	Name         string
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
	Scopes       []string
	Encoding     TokenEncoding
	normalize    func(io.Reader) (models.Identity, error)
}

// GitHub builds the GitHub capability row from its client configuration.
func GitHub(cfg config.ProviderConfig) Provider {
	p := Provider{
		ID:           models.ProviderGitHub,
		Name:         "GitHub",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoints.GitHub,
		UserInfoURL:  githubUserInfoURL,
		Scopes:       []string{"read:user", "user:email"},
		Encoding:     EncodeJSON,
		normalize:    normalizeGitHub,
	}
	return p.withOverrides(cfg)
}

// Google builds the Google capability row from its client configuration.
func Google(cfg config.ProviderConfig) Provider {
	p := Provider{
		ID:           models.ProviderGoogle,
		Name:         "Google",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoints.Google,
		UserInfoURL:  googleUserInfoURL,
		Scopes:       []string{"openid", "email", "profile"},
		Encoding:     EncodeForm,
		normalize:    normalizeGoogle,
	}
	return p.withOverrides(cfg)
}

func (p Provider) withOverrides(cfg config.ProviderConfig) Provider {
	if cfg.AuthURL != "" {
		p.Endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		p.Endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL != "" {
		p.UserInfoURL = cfg.UserInfoURL
	}
	if len(cfg.Scopes) > 0 {
		p.Scopes = cfg.Scopes
	}
	return p
}

func normalizeGitHub(body io.Reader) (models.Identity, error) {
	var payload struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return models.Identity{}, err
	}
	id := ""
	if payload.ID != 0 {
		id = strconv.FormatInt(payload.ID, 10)
	}
	return models.Identity{
		ID:       id,
		Name:     firstNonEmpty(payload.Name, payload.Login),
		Email:    strings.TrimSpace(payload.Email),
		Provider: models.ProviderGitHub,
	}, nil
}

func normalizeGoogle(body io.Reader) (models.Identity, error) {
	var payload struct {
		Sub   string `json:"sub"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return models.Identity{}, err
	}
	return models.Identity{
		ID:       strings.TrimSpace(payload.Sub),
		Name:     strings.TrimSpace(payload.Name),
		Email:    strings.TrimSpace(payload.Email),
		Provider: models.ProviderGoogle,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	return ""
}
