package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tracspend/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for identity tokens that fail verification.
var ErrInvalidToken = errors.New("auth: invalid identity token")

// identityClaims is the JWT payload of an identity token.
type identityClaims struct {
	jwt.RegisteredClaims
	Provider string `json:"provider"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// TokenIssuer mints and verifies HS256 identity tokens. API callers present
// them as Authorization: Bearer credentials.
type TokenIssuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with key.
func NewTokenIssuer(key []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for identity and returns it with its expiry.
func (t *TokenIssuer) Issue(identity models.Identity) (string, time.Time, error) {
	if !identity.Valid() {
		return "", time.Time{}, errors.New("auth: cannot issue token for incomplete identity")
	}
	now := t.now().UTC()
	expiresAt := now.Add(t.ttl)
	claims := identityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Provider: string(identity.Provider),
		Name:     identity.Name,
		Email:    identity.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer and expiry and returns the identity the
// token was issued for.
func (t *TokenIssuer) Verify(token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	var claims identityClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	identity := models.Identity{
		ID:       claims.Subject,
		Name:     claims.Name,
		Email:    claims.Email,
		Provider: models.Provider(claims.Provider),
	}
	if !identity.Valid() {
		return models.Identity{}, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return identity, nil
}
