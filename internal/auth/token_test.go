// ABOUTME: Unit tests for admin token issuance and verification
// ABOUTME: Covers round trips, tampering, expiry, issuer and algorithm checks

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing!"

func newTestJWTVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	verifier, err := NewJWTVerifier([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return verifier
}

func signClaims(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if !errors.Is(err, ErrShortSecret) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrShortSecret", err)
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	verifier := newTestJWTVerifier(t)

	for _, accountID := range []string{"account-1", "account-2", "acct-with-uuid-0b5e"} {
		token, err := verifier.Generate(accountID, time.Hour)
		if err != nil {
			t.Fatalf("Generate(%q) error = %v", accountID, err)
		}
		got, err := verifier.Verify(token)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if got != accountID {
			t.Errorf("Verify() = %q, want %q", got, accountID)
		}
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	verifier := newTestJWTVerifier(t)
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	other, _ := NewJWTVerifier([]byte("a-completely-different-32b-secret"))
	wrongSecret, _ := other.Generate("account-123", time.Hour)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", ErrInvalidToken},
		{"garbage", "not-a-jwt-token", ErrInvalidToken},
		{"malformed", "header.payload.signature", ErrInvalidToken},
		{"wrong secret", wrongSecret, ErrInvalidToken},
		{
			"foreign issuer",
			signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "a", Issuer: "someone-else", ExpiresAt: exp}),
			ErrInvalidToken,
		},
		{
			"HS512 instead of HS256",
			signClaims(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.RegisteredClaims{Subject: "a", Issuer: TokenIssuer, ExpiresAt: exp}),
			ErrInvalidToken,
		},
		{
			"no expiry",
			signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "a", Issuer: TokenIssuer}),
			ErrInvalidToken,
		},
		{
			"no subject",
			signClaims(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Issuer: TokenIssuer, ExpiresAt: exp}),
			ErrMissingClaim,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestJWTVerifier(t)
	verifier.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := verifier.Generate("account-123", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}
