package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"mailsmith/internal/types"
)

const (
	// keyTag prefixes every issued key, making leaked keys greppable.
	keyTag = "ms_"

	// keySecretLength is the number of random bytes behind each key.
	keySecretLength = 32

	// keyPrefixLength is the number of encoded characters (after the tag)
	// stored as the lookup prefix. 8 base64 chars carry 48 bits, which makes
	// prefix collisions an insert-time rarity rather than a lookup concern.
	keyPrefixLength = 8
)

// KeyGenerator abstracts key material generation for testability.
type KeyGenerator interface {
	// GenerateKey returns the full plaintext key and its stored lookup prefix.
	GenerateKey() (plaintext, prefix string, err error)
}

// CryptoKeyGenerator is the production KeyGenerator backed by crypto/rand.
type CryptoKeyGenerator struct{}

// GenerateKey generates a key of the form "ms_" + 43 URL-safe base64 chars.
// The plaintext stays under bcrypt's 72-byte input limit: 3-byte tag +
// 43-byte RawURL encoding of 32 random bytes = 46 bytes.
func (g *CryptoKeyGenerator) GenerateKey() (string, string, error) {
	randomBytes := make([]byte, keySecretLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("crypto/rand read failed: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	plaintext := keyTag + encoded
	prefix := keyTag + encoded[:keyPrefixLength]

	return plaintext, prefix, nil
}

// KeyPrefix extracts the stored lookup prefix from a presented key. The
// second return is false when the key is too short or does not carry the
// tag; callers treat that the same as an unknown key.
func KeyPrefix(rawKey string) (string, bool) {
	if !strings.HasPrefix(rawKey, keyTag) {
		return "", false
	}
	if len(rawKey) < len(keyTag)+keyPrefixLength {
		return "", false
	}
	return rawKey[:len(keyTag)+keyPrefixLength], true
}

// VerifyAdminKey compares a presented operator key against the configured
// admin key in constant time. An unset admin key never matches, so an
// accidentally blank ADMIN_API_KEY cannot open the management endpoints.
func VerifyAdminKey(presented string, configured types.SecretString) bool {
	secret := configured.Unmask()
	if secret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
