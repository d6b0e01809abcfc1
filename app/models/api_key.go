package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

const apiKeyPrefix = "cdk_"

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new raw API key plus the hash stored on the account
// row. The raw key is only ever shown once at creation time.
func GenerateAPIKey() (string, string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	encoded := strings.ToLower(apiKeyEncoding.EncodeToString(b))
	rawKey := apiKeyPrefix + encoded
	if len(rawKey) < 12 {
		return "", "", fmt.Errorf("api key generation failed: key too short")
	}
	return rawKey, HashAPIKey(rawKey), nil
}
