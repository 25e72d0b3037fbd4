// Package auth guards the HTTP API with a shared API key and short-lived
// operator tokens derived from it.
package auth

import (
	"crypto/subtle"

	"github.com/rotisserie/eris"
	"golang.org/x/crypto/bcrypt"

	"cryptoetl/pkg/utils"
)

// KeyVerifier checks a presented API key against the configured plain key
// or its bcrypt hash.
type KeyVerifier struct {
	plain []byte
	hash  []byte
}

func NewKeyVerifier(cfg utils.AuthConfig) (*KeyVerifier, error) {
	if cfg.APIKey == "" && cfg.APIKeyBcrypt == "" {
		return nil, utils.ErrNoAPIKey
	}
	v := &KeyVerifier{}
	if cfg.APIKey != "" {
		v.plain = []byte(cfg.APIKey)
	}
	if cfg.APIKeyBcrypt != "" {
		if _, err := bcrypt.Cost([]byte(cfg.APIKeyBcrypt)); err != nil {
			return nil, eris.Wrap(err, "auth: APP_API_KEY_BCRYPT is not a bcrypt hash")
		}
		v.hash = []byte(cfg.APIKeyBcrypt)
	}
	return v, nil
}

func (v *KeyVerifier) Verify(key string) bool {
	if key == "" {
		return false
	}
	if v.plain != nil && subtle.ConstantTimeCompare([]byte(key), v.plain) == 1 {
		return true
	}
	if v.hash != nil && bcrypt.CompareHashAndPassword(v.hash, []byte(key)) == nil {
		return true
	}
	return false
}

// HashKey produces the value for APP_API_KEY_BCRYPT.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", eris.New("auth: empty key")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", eris.Wrap(err, "auth: hash key")
	}
	return string(h), nil
}
