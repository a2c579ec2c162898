package common

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestBearerTokenRoundTrip(t *testing.T) {
	token, err := SignBearerToken("caller-42", "secret", time.Hour)
	if err != nil {
		t.Fatalf("SignBearerToken failed: %v", err)
	}

	subject, err := VerifyBearerToken(token, "secret")
	if err != nil {
		t.Fatalf("VerifyBearerToken failed: %v", err)
	}
	if subject != "caller-42" {
		t.Errorf("expected subject caller-42, got %s", subject)
	}
}

func TestVerifyBearerToken_WrongSecret(t *testing.T) {
	token, _ := SignBearerToken("caller-42", "secret", time.Hour)

	if _, err := VerifyBearerToken(token, "other-secret"); err == nil {
		t.Error("expected signature mismatch with wrong secret")
	}
}

func TestVerifyBearerToken_Expired(t *testing.T) {
	token, _ := SignBearerToken("caller-42", "secret", -time.Minute)

	if _, err := VerifyBearerToken(token, "secret"); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestVerifyBearerToken_NoExpiry(t *testing.T) {
	token, _ := SignBearerToken("caller-42", "secret", 0)

	subject, err := VerifyBearerToken(token, "secret")
	if err != nil {
		t.Fatalf("expected token without expiry to verify: %v", err)
	}
	if subject != "caller-42" {
		t.Errorf("expected subject caller-42, got %s", subject)
	}
}

func TestVerifyBearerToken_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two segments", "aaaa.bbbb"},
		{"garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := VerifyBearerToken(tt.token, "secret"); err == nil {
				t.Error("expected error for malformed token")
			}
		})
	}
}

func TestVerifyBearerToken_UnsignedAlgorithmRejected(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "caller-42"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := VerifyBearerToken(token, "secret"); err == nil {
		t.Error("expected unsigned token to be rejected")
	}
}

func TestVerifyBearerToken_TamperedPayload(t *testing.T) {
	token, _ := SignBearerToken("caller-42", "secret", time.Hour)

	parts := strings.Split(token, ".")
	other, _ := SignBearerToken("caller-99", "secret", time.Hour)
	otherParts := strings.Split(other, ".")

	// Splice another subject's payload onto the original signature.
	tampered := parts[0] + "." + otherParts[1] + "." + parts[2]
	if _, err := VerifyBearerToken(tampered, "secret"); err == nil {
		t.Error("expected error for tampered payload")
	}
}
