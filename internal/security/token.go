package security

import (
	"crypto/rand"
	"encoding/hex"
)

// TokenManager handles match token generation.
// Tokens are cryptographically random and stored server-side with the
// pairing. Verification is done through pairing lookup (not
// cryptographic signature).
type TokenManager struct{}

// NewTokenManager creates a new match token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{}
}

// Generate creates a cryptographically secure random match token.
// The token is returned as a 64-character hex string.
func (tm *TokenManager) Generate() (string, error) {
	// 32 random bytes (256 bits), enough that a token can never be
	// guessed within a pairing's lifetime
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", err
	}

	// Hex keeps the token safe in JSON bodies and query strings
	return hex.EncodeToString(randomBytes), nil
}
