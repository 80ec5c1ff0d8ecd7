package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret", "https://id.example.com")

	token, err := v.Issue("user-123", "ada@example.com", "Ada", time.Hour)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}

	if claims.Subject != "user-123" || claims.Email != "ada@example.com" || claims.Name != "Ada" {
		t.Errorf("Unexpected claims: %+v", claims)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("test-secret", "https://id.example.com")

	expired, _ := v.Issue("user-123", "", "", -time.Minute)
	otherIssuer, _ := NewVerifier("test-secret", "https://evil.example.com").Issue("user-123", "", "", time.Hour)
	otherSecret, _ := NewVerifier("another-secret", "https://id.example.com").Issue("user-123", "", "", time.Hour)
	noSubject, _ := v.Issue("", "", "", time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-123",
		"iss": "https://id.example.com",
	}).SignedString([]byte("test-secret"))

	tests := map[string]string{
		"expired":      expired,
		"wrong issuer": otherIssuer,
		"wrong secret": otherSecret,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"garbage":      "not-a-token",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	if _, err := NewVerifier("", "").Verify("anything"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}
