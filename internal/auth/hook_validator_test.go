package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testHookSigningSecret = "hook-secret"

func signHookToken(t *testing.T, claims jwt.RegisteredClaims, secret string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestHookValidatorAcceptsIssuedTokens(t *testing.T) {
	clockNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }
	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte(testHookSigningSecret), Clock: clock})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	validator, err := NewHookValidator(HookValidatorConfig{SigningSecret: []byte(testHookSigningSecret), Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	token, _, err := issuer.IssueHookToken(context.Background(), "blog.example")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	claims, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Subject != "blog.example" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
}

func TestHookValidatorRejections(t *testing.T) {
	clockNow := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	validator, err := NewHookValidator(HookValidatorConfig{
		SigningSecret: []byte(testHookSigningSecret),
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}

	valid := jwt.RegisteredClaims{
		Subject:   "blog.example",
		Issuer:    DefaultIssuer,
		Audience:  []string{DefaultAudience},
		IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(clockNow.Add(-time.Minute))
	wrongAudience := valid
	wrongAudience.Audience = []string{"other"}
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone-else"
	noSubject := valid
	noSubject.Subject = ""

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: " ", want: ErrMissingHookToken},
		{name: "expired", token: signHookToken(t, expired, testHookSigningSecret), want: ErrExpiredHookToken},
		{name: "audience", token: signHookToken(t, wrongAudience, testHookSigningSecret), want: ErrInvalidHookToken},
		{name: "issuer", token: signHookToken(t, wrongIssuer, testHookSigningSecret), want: ErrInvalidHookToken},
		{name: "secret", token: signHookToken(t, valid, "other-secret"), want: ErrInvalidHookToken},
		{name: "subject", token: signHookToken(t, noSubject, testHookSigningSecret), want: ErrMissingHookSubject},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := validator.ValidateToken(testCase.token); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestNewHookValidatorRequiresSecret(t *testing.T) {
	if _, err := NewHookValidator(HookValidatorConfig{}); !errors.Is(err, ErrMissingHookSigningKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}
