package oauth2

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const stateEntropyBytes = 32

// NewState returns an unguessable anti-CSRF state token.
func NewState() (string, error) {
	return GenerateRandomString(stateEntropyBytes)
}

// GenerateRandomString returns n random bytes, base64url encoded without padding.
func GenerateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth2: failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
