//go:build e2e

package e2e

import (
	"golang.org/x/crypto/bcrypt"
)

// hashKeyBcrypt produces a bcrypt hash of an API key using a low cost factor
// suitable for testing (fast hashing, not production security).
func hashKeyBcrypt(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
