package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": exp.Unix(), "sub": "location/acme-main"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("irrelevant-we-never-verify"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestExpiryOf_ReadsExpClaimWithoutVerifying(t *testing.T) {
	want := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	got, err := expiryOf(signedToken(t, want))
	if err != nil {
		t.Fatalf("expiryOf: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("expiryOf() = %v, want %v", got, want)
	}
}

func TestExpiryOf_RejectsMalformedToken(t *testing.T) {
	if _, err := expiryOf("not-a-jwt"); err == nil {
		t.Fatal("expiryOf() on garbage input should fail")
	}
}

func TestExpiryOf_RejectsTokenWithoutExp(t *testing.T) {
	claims := jwt.MapClaims{"sub": "x"}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte("k"))
	if _, err := expiryOf(signed); err == nil {
		t.Fatal("expiryOf() on a token without exp should fail")
	}
}
