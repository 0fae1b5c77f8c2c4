package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt silently truncates input beyond 72 bytes, so longer keys are
// pre-hashed with SHA-256 before hashing or comparing.
const (
	bcryptCost  = 10
	bcryptLimit = 72
)

func bcryptInput(apiKey string) []byte {
	if len(apiKey) > bcryptLimit {
		sum := sha256.Sum256([]byte(apiKey))

		return sum[:]
	}

	return []byte(apiKey)
}

// HashAPIKey returns the bcrypt hash persisted in place of the plaintext
// key. Each call salts independently, so hashing the same key twice yields
// different hashes.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash reports whether apiKey matches the stored bcrypt hash.
// Any error condition (empty inputs, malformed hash) reads as no match.
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

// LookupHash returns the hex-encoded SHA-256 digest of an API key.
//
// The digest is stored in an indexed column so authentication fetches one
// candidate row instead of bcrypt-comparing every active key. The digest
// alone never authenticates: the stored bcrypt hash is verified afterwards.
func LookupHash(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))

	return hex.EncodeToString(sum[:])
}
