package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var socialReferencePatterns = []*regexp.Regexp{
	// https://instance/@user
	regexp.MustCompile(`(?i)^https?://([^/:@]+)/@([^/:@]+)/?$`),
	// https://instance/users/user, https://instance/profile/user
	regexp.MustCompile(`(?i)^https?://([^/:@]+)/(?:users|profile)/([^/:@]+)/?$`),
}

// SocialReference identifies an account on a federated social instance.
type SocialReference struct {
	Host   string
	Handle string
}

// Canonical returns the user@host form of the reference.
func (r SocialReference) Canonical() string {
	return r.Handle + "@" + r.Host
}

// CanonicalEmail trims and lowercases an email address.
func CanonicalEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// DigestForEmail returns the lowercase hex SHA-256 digest of the canonical email.
// It reports false when the address is empty after canonicalization.
func DigestForEmail(raw string) (string, bool) {
	canonical := CanonicalEmail(raw)
	if canonical == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), true
}

// EmailDomain returns the lowercase domain part of an email address.
func EmailDomain(raw string) (string, bool) {
	canonical := CanonicalEmail(raw)
	at := strings.LastIndex(canonical, "@")
	if at < 0 || at == len(canonical)-1 {
		return "", false
	}
	domain := canonical[at+1:]
	if strings.ContainsAny(domain, " \t\r\n") {
		return "", false
	}
	return domain, true
}

// CanonicalizeSocialReference extracts host and handle from a profile URL.
// Only the /@handle and /users|profile/handle shapes are recognized.
func CanonicalizeSocialReference(rawURL string) (SocialReference, bool) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return SocialReference{}, false
	}
	for _, pattern := range socialReferencePatterns {
		matches := pattern.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}
		return SocialReference{
			Host:   strings.ToLower(matches[1]),
			Handle: matches[2],
		}, true
	}
	return SocialReference{}, false
}
