package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// apiKeyPrefix marks issued keys so they are recognizable in logs and
// support tickets without exposing the secret part.
const apiKeyPrefix = "otp_"

const apiKeyRandomLen = 32

// GenerateAPIKey creates a new API key and its storage hash. The raw key is
// shown to the user exactly once; only the hash is persisted.
func GenerateAPIKey() (raw, hash, prefix string, err error) {
	buf := make([]byte, apiKeyRandomLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}

	raw = apiKeyPrefix + hex.EncodeToString(buf)
	return raw, HashAPIKey(raw), raw[:12], nil
}

// HashAPIKey returns the storage hash for an API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
