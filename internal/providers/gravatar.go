package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
)

// DefaultGravatarBaseURL is the primary service's public endpoint.
const DefaultGravatarBaseURL = "https://www.gravatar.com"

// GravatarClient fetches JSON profiles from the primary service.
type GravatarClient struct {
	requester requester
	baseURL   string
}

// GravatarOption configures a GravatarClient.
type GravatarOption func(*GravatarClient)

// WithGravatarBaseURL overrides the service endpoint.
func WithGravatarBaseURL(baseURL string) GravatarOption {
	return func(c *GravatarClient) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithGravatarUserAgent sets the User-Agent header.
func WithGravatarUserAgent(userAgent string) GravatarOption {
	return func(c *GravatarClient) {
		c.requester.userAgent = userAgent
	}
}

// NewGravatarClient constructs a primary service client.
func NewGravatarClient(httpClient *http.Client, opts ...GravatarOption) *GravatarClient {
	client := &GravatarClient{
		requester: newRequester(httpClient, ""),
		baseURL:   DefaultGravatarBaseURL,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type gravatarDocument struct {
	Entry []map[string]json.RawMessage `json:"entry"`
}

// ProfileURL returns the JSON profile URL for a digest.
func (c *GravatarClient) ProfileURL(digest string) string {
	return c.baseURL + "/" + digest + ".json"
}

// Lookup fetches the first profile entry for the digest.
func (c *GravatarClient) Lookup(ctx context.Context, digest string) (profiles.ProfileRecord, error) {
	response, err := c.requester.do(ctx, http.MethodGet, c.ProfileURL(digest), "application/json")
	if err != nil {
		return profiles.ProfileRecord{}, err
	}
	defer drainAndClose(response)

	if err := checkStatus(response); err != nil {
		return profiles.ProfileRecord{}, err
	}
	body, err := readBody(response)
	if err != nil {
		return profiles.ProfileRecord{}, err
	}

	var document gravatarDocument
	if err := json.Unmarshal(body, &document); err != nil {
		return profiles.ProfileRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(document.Entry) == 0 || document.Entry[0] == nil {
		return profiles.ProfileRecord{}, fmt.Errorf("%w: no entry", ErrMalformedResponse)
	}
	entry := document.Entry[0]

	imageURL := stringField(entry, "thumbnailUrl")
	if imageURL == "" {
		imageURL = c.baseURL + "/avatar/" + digest
	}

	return profiles.ProfileRecord{
		Source:             profiles.SourcePrimary,
		IdentityHash:       digest,
		ImageReferenceURL:  imageURL,
		ProviderProfileURL: stringField(entry, "profileUrl"),
		RawFields:          entry,
	}, nil
}

// stringField decodes a string attribute, returning "" when absent or not a string.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}
