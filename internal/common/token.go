package common

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifyBearerToken validates an HS256 JWT and returns its subject (the
// caller id). Only the sub and exp claims are interpreted.
func VerifyBearerToken(token, secret string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid bearer token: %w", err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return claims.Subject, nil
}

// SignBearerToken creates an HS256 JWT for a subject. A ttl of zero mints a
// token without an expiry. Used by tests and local tooling to mint caller
// tokens.
func SignBearerToken(subject, secret string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{Subject: subject}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
