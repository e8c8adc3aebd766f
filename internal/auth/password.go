// ABOUTME: Password hashing and API token generation
// ABOUTME: bcrypt for passwords, crypto/rand hex for credential and legacy tokens

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialTokenPrefix marks tokens issued from the API credential table.
const CredentialTokenPrefix = "tk_"

const tokenBytes = 32

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// dummyHash is compared against when there is no real hash, so a miss costs the same as a wrong password.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		BurnPasswordCheck(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BurnPasswordCheck spends one bcrypt comparison for an unknown identity.
func BurnPasswordCheck(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
}

// GenerateCredentialToken returns a new API credential token ("tk_" + 64 hex chars).
func GenerateCredentialToken() (string, error) {
	raw, err := randomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	return CredentialTokenPrefix + raw, nil
}

// GenerateLegacyToken returns a new per-account token (64 hex chars).
func GenerateLegacyToken() (string, error) {
	return randomHex(tokenBytes)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
