package account

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored digest.
func VerifyPassword(digest, password string) error {
	if digest == "" {
		return errors.New("password digest is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
}

// UnusableDigest produces a digest of a random value nobody knows. Used as
// the local-password placeholder for accounts created through the external
// identity provider.
func UnusableDigest() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate placeholder password: %w", err)
	}
	return HashPassword(hex.EncodeToString(buf))
}
