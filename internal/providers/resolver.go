package providers

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/identity"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"go.uber.org/zap"
)

// Stage names used in logs.
const (
	stagePrimary  = "primary"
	stageFallback = "federated-fallback"
	stageSocial   = "social"
)

// PrimaryLookup is satisfied by GravatarClient.
type PrimaryLookup interface {
	Lookup(ctx context.Context, digest string) (profiles.ProfileRecord, error)
}

// FallbackCheck is satisfied by LibravatarClient.
type FallbackCheck interface {
	Check(ctx context.Context, domain, digest string) (profiles.ProfileRecord, error)
}

// SocialLookup is satisfied by MastodonClient.
type SocialLookup interface {
	Lookup(ctx context.Context, reference identity.SocialReference) (profiles.ProfileRecord, error)
}

// ResolverConfig wires the three providers.
type ResolverConfig struct {
	Primary  PrimaryLookup
	Fallback FallbackCheck
	Social   SocialLookup
	Logger   *zap.Logger
}

// Identity is what a comment submission tells us about its author.
type Identity struct {
	Email     string
	AuthorURL string
}

// Resolver tries the primary service, then the federated fallback, then the
// social instance, and stops at the first success.
type Resolver struct {
	primary  PrimaryLookup
	fallback FallbackCheck
	social   SocialLookup
	logger   *zap.Logger
}

// NewResolver constructs a Resolver. Nil providers are skipped.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		social:   cfg.Social,
		logger:   logger,
	}
}

// Resolve returns the first profile found, or false when no provider has one.
// Each provider is asked at most once.
func (r *Resolver) Resolve(ctx context.Context, who Identity) (profiles.ProfileRecord, bool) {
	digest, hasDigest := identity.DigestForEmail(who.Email)

	if hasDigest && r.primary != nil {
		record, err := r.primary.Lookup(ctx, digest)
		if err == nil {
			return record, true
		}
		r.logAttempt(stagePrimary, err, zap.String("hash", digest))
	}

	if hasDigest && r.fallback != nil {
		domain, _ := identity.EmailDomain(who.Email)
		record, err := r.fallback.Check(ctx, domain, digest)
		if err == nil {
			return record, true
		}
		r.logAttempt(stageFallback, err, zap.String("hash", digest), zap.String("domain", domain))
	}

	if r.social != nil {
		reference, ok := identity.CanonicalizeSocialReference(who.AuthorURL)
		if ok {
			record, err := r.social.Lookup(ctx, reference)
			if err == nil {
				return record, true
			}
			r.logAttempt(stageSocial, err, zap.String("handle", reference.Canonical()))
		}
	}

	return profiles.ProfileRecord{}, false
}

func (r *Resolver) logAttempt(stage string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("stage", stage), zap.Error(err)}, fields...)
	if errors.Is(err, ErrNotFound) {
		r.logger.Debug("avatar provider has no avatar", attrs...)
		return
	}
	r.logger.Warn("avatar provider lookup failed", attrs...)
}
