package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryOf inspects a custom/ID token's claims for its expiry, without
// verifying the signature: the token is issued by the remote auth
// endpoint, and we hold no key to verify it against. This exists to
// cross-check the server-quoted expiresIn rather than trust it blindly.
func expiryOf(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token claims: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}
