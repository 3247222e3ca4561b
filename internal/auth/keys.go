package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest session secret accepted.
const MinSecretLength = 32

// Keys holds the independent keys derived from the session secret.
type Keys struct {
	CookieHash  []byte // HMAC key for signed cookies
	CookieBlock []byte // AES-256 key for cookie encryption
	Token       []byte // HS256 key for identity tokens
}

// DeriveKeys expands secret into purpose-bound keys so one configured value
// never serves two algorithms.
func DeriveKeys(secret string) (Keys, error) {
	if len(secret) < MinSecretLength {
		return Keys{}, errors.New("session secret must be at least 32 characters long")
	}
	derive := func(info string, size int) ([]byte, error) {
		key := make([]byte, size)
		r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive %s key: %w", info, err)
		}
		return key, nil
	}

	var keys Keys
	var err error
	if keys.CookieHash, err = derive("tracspend cookie hash", 64); err != nil {
		return Keys{}, err
	}
	if keys.CookieBlock, err = derive("tracspend cookie block", 32); err != nil {
		return Keys{}, err
	}
	if keys.Token, err = derive("tracspend identity token", 32); err != nil {
		return Keys{}, err
	}
	return keys, nil
}
