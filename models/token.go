package models

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"time"
)

// Number of random bytes in a token. 15 bytes encode to 20 URL-safe characters.
const tokenBytes = 15

// TokenGenerator produces unguessable tokens for confirmation links,
// unsubscribe links, signed-page proofs, form requests and sponsor links.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomTokens reads tokens from crypto/rand.
type RandomTokens struct{}

// Generate returns a fresh base64url token without padding.
func (RandomTokens) Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokensMatch compares a stored token with a user-supplied one in constant time.
// An empty stored token never matches.
func TokensMatch(stored string, given string) bool {
	if len(stored) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// TokenExpired reports whether a perishable token issued at sentAt is no
// longer usable at now.
func TokenExpired(sentAt time.Time, lifetime time.Duration, now time.Time) bool {
	if lifetime <= 0 {
		return false
	}
	return now.After(sentAt.Add(lifetime))
}
