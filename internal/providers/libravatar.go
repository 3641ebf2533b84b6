package providers

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
	"go.uber.org/zap"
)

const (
	// DefaultLibravatarBaseURL serves domains without their own SRV record.
	DefaultLibravatarBaseURL = "https://seccdn.libravatar.org"
	libravatarSRVService     = "avatars-sec"
	libravatarSRVProto       = "tcp"
)

// SRVResolver looks up service records. *net.Resolver satisfies it.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// LibravatarClient checks the federated fallback network for an avatar.
type LibravatarClient struct {
	requester      requester
	defaultBaseURL string
	srv            SRVResolver
	logger         *zap.Logger
}

// LibravatarOption configures a LibravatarClient.
type LibravatarOption func(*LibravatarClient)

// WithLibravatarDefaultBaseURL overrides the host used when discovery finds nothing.
func WithLibravatarDefaultBaseURL(baseURL string) LibravatarOption {
	return func(c *LibravatarClient) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.defaultBaseURL = trimmed
		}
	}
}

// WithSRVResolver overrides service discovery.
func WithSRVResolver(resolver SRVResolver) LibravatarOption {
	return func(c *LibravatarClient) {
		if resolver != nil {
			c.srv = resolver
		}
	}
}

// WithLibravatarUserAgent sets the User-Agent header.
func WithLibravatarUserAgent(userAgent string) LibravatarOption {
	return func(c *LibravatarClient) {
		c.requester.userAgent = userAgent
	}
}

// WithLibravatarLogger attaches a logger for discovery diagnostics.
func WithLibravatarLogger(logger *zap.Logger) LibravatarOption {
	return func(c *LibravatarClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewLibravatarClient constructs a federated fallback client.
func NewLibravatarClient(httpClient *http.Client, opts ...LibravatarOption) *LibravatarClient {
	client := &LibravatarClient{
		requester:      newRequester(httpClient, ""),
		defaultBaseURL: DefaultLibravatarBaseURL,
		srv:            net.DefaultResolver,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BaseURL resolves the avatar server for an email domain via its
// _avatars-sec._tcp SRV record, falling back to the default host.
func (c *LibravatarClient) BaseURL(ctx context.Context, domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return c.defaultBaseURL
	}
	_, records, err := c.srv.LookupSRV(ctx, libravatarSRVService, libravatarSRVProto, domain)
	if err != nil {
		c.logger.Debug("libravatar srv lookup failed", zap.String("domain", domain), zap.Error(err))
		return c.defaultBaseURL
	}
	// Records arrive sorted by priority and randomized by weight.
	for _, record := range records {
		if record == nil {
			continue
		}
		target := strings.TrimSuffix(record.Target, ".")
		if target == "" {
			continue
		}
		if record.Port != 0 && record.Port != 443 {
			target = net.JoinHostPort(target, strconv.Itoa(int(record.Port)))
		}
		return "https://" + target
	}
	return c.defaultBaseURL
}

// Check issues an existence probe for the digest and synthesizes a record on success.
func (c *LibravatarClient) Check(ctx context.Context, domain, digest string) (profiles.ProfileRecord, error) {
	imageURL := c.BaseURL(ctx, domain) + "/avatar/" + digest
	response, err := c.requester.do(ctx, http.MethodHead, imageURL+"?d=404", "")
	if err != nil {
		return profiles.ProfileRecord{}, err
	}
	defer drainAndClose(response)

	if err := checkStatus(response); err != nil {
		return profiles.ProfileRecord{}, err
	}

	return profiles.ProfileRecord{
		Source:            profiles.SourceFederatedFallback,
		IdentityHash:      digest,
		ImageReferenceURL: imageURL,
	}, nil
}
