package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer is the issuer claim of hook tokens.
	DefaultIssuer = "avatar-mirror"
	// DefaultAudience is the audience claim of hook tokens.
	DefaultAudience = "comment-hook"
)

var (
	ErrMissingHookSigningKey = errors.New("hook validator: signing key required")
	ErrMissingHookToken      = errors.New("hook validator: token required")
	ErrInvalidHookToken      = errors.New("hook validator: invalid token")
	ErrExpiredHookToken      = errors.New("hook validator: token expired")
	ErrMissingHookSubject    = errors.New("hook validator: subject required")
)

// HookValidatorConfig describes how to validate hook tokens.
type HookValidatorConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	Clock         func() time.Time
}

// HookValidator validates HS256 JWTs presented by the host application.
type HookValidator struct {
	signingSecret []byte
	issuer        string
	audience      string
	clock         func() time.Time
}

// NewHookValidator constructs a validator; issuer and audience default to the hook values.
func NewHookValidator(cfg HookValidatorConfig) (*HookValidator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingHookSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = DefaultAudience
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &HookValidator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns its claims.
func (v *HookValidator) ValidateToken(tokenString string) (jwt.RegisteredClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return jwt.RegisteredClaims{}, ErrMissingHookToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidHookToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return jwt.RegisteredClaims{}, ErrExpiredHookToken
		}
		return jwt.RegisteredClaims{}, fmt.Errorf("%w: %v", ErrInvalidHookToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return jwt.RegisteredClaims{}, ErrInvalidHookToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return jwt.RegisteredClaims{}, ErrMissingHookSubject
	}
	return *claims, nil
}
