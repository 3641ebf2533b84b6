// Package preview supports the comment form's live avatar preview: it builds
// the preview image URL for a typed email and answers whether that image
// exists without the browser issuing cross-origin requests.
package preview

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/identity"
)

const (
	// DefaultImageBaseURL serves both hash-based providers.
	DefaultImageBaseURL = "https://seccdn.libravatar.org"
	// ProbeSize is the pixel size requested when checking for existence.
	ProbeSize = 16
)

var (
	// ErrInvalidURL indicates that the probe target is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("preview: invalid image url")
	// ErrHostNotAllowed indicates that the probe target is not a known avatar host.
	ErrHostNotAllowed = errors.New("preview: host not allowed")

	knownDomains = []string{"gravatar.com", "libravatar.org"}
)

// ImageURL returns the preview image URL for an email, or false when the
// email is empty.
func ImageURL(email string, size int) (string, bool) {
	digest, ok := identity.DigestForEmail(email)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s/avatar/%s?d=404&s=%d&r=x", DefaultImageBaseURL, digest, size), true
}

// KnownHost reports whether host is gravatar.com, libravatar.org or one of their subdomains.
func KnownHost(host string) bool {
	host = strings.ToLower(host)
	for _, domain := range knownDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// ProbeTarget parses rawURL, checks its host and rewrites it to request a
// 16 pixel image with a 404 for missing avatars. Hosts in extraHosts are
// accepted alongside the known provider domains.
func ProbeTarget(rawURL string, extraHosts ...string) (string, error) {
	parsed, err := url.Parse(strings.ReplaceAll(strings.TrimSpace(rawURL), "&amp;", "&"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Host == "" {
		return "", ErrInvalidURL
	}
	if !hostAllowed(parsed, extraHosts) {
		return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, parsed.Host)
	}
	query := parsed.Query()
	query.Set("s", strconv.Itoa(ProbeSize))
	query.Set("d", "404")
	parsed.RawQuery = query.Encode()
	parsed.Fragment = ""
	return parsed.String(), nil
}

func hostAllowed(parsed *url.URL, extraHosts []string) bool {
	if KnownHost(parsed.Hostname()) {
		return true
	}
	for _, extra := range extraHosts {
		if extra != "" && strings.EqualFold(extra, parsed.Host) {
			return true
		}
	}
	return false
}
