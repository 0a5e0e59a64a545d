package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GenerateSecret returns a hex encoded random secret of n bytes
func GenerateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Secrets are the signing keys the API needs at startup
type Secrets struct {
	JWTSecret     string
	SessionSecret string
}

// GenerateSecrets creates a 256-bit JWT secret and a 256-bit session secret
func GenerateSecrets() (*Secrets, error) {
	jwtSecret, err := GenerateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	sessionSecret, err := GenerateSecret(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return &Secrets{JWTSecret: jwtSecret, SessionSecret: sessionSecret}, nil
}
