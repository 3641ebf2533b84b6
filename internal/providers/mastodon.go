package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/identity"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
)

const mastodonAvatarField = "avatar"

// MastodonClient looks up accounts on federated social instances.
type MastodonClient struct {
	requester requester
	instance  func(host string) string
}

// MastodonOption configures a MastodonClient.
type MastodonOption func(*MastodonClient)

// WithInstanceBaseURL maps an instance host onto the base URL requests are sent to.
func WithInstanceBaseURL(mapper func(host string) string) MastodonOption {
	return func(c *MastodonClient) {
		if mapper != nil {
			c.instance = mapper
		}
	}
}

// WithMastodonUserAgent sets the User-Agent header.
func WithMastodonUserAgent(userAgent string) MastodonOption {
	return func(c *MastodonClient) {
		c.requester.userAgent = userAgent
	}
}

// NewMastodonClient constructs a social profile client.
func NewMastodonClient(httpClient *http.Client, opts ...MastodonOption) *MastodonClient {
	client := &MastodonClient{
		requester: newRequester(httpClient, ""),
		instance: func(host string) string {
			return "https://" + host
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// LookupURL returns the account lookup endpoint for the reference.
func (c *MastodonClient) LookupURL(reference identity.SocialReference) string {
	query := url.Values{"acct": {reference.Handle}}
	return c.instance(reference.Host) + "/api/v1/accounts/lookup?" + query.Encode()
}

// Lookup fetches the account and normalizes it into a social record.
func (c *MastodonClient) Lookup(ctx context.Context, reference identity.SocialReference) (profiles.ProfileRecord, error) {
	response, err := c.requester.do(ctx, http.MethodGet, c.LookupURL(reference), "application/json")
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

	var account map[string]json.RawMessage
	if err := json.Unmarshal(body, &account); err != nil {
		return profiles.ProfileRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if stringField(account, "username") == "" {
		return profiles.ProfileRecord{}, fmt.Errorf("%w: no username", ErrMalformedResponse)
	}
	avatarURL := stringField(account, mastodonAvatarField)
	if avatarURL == "" {
		return profiles.ProfileRecord{}, fmt.Errorf("%w: no %s", ErrMalformedResponse, mastodonAvatarField)
	}

	return profiles.ProfileRecord{
		Source:             profiles.SourceSocial,
		ImageReferenceURL:  avatarURL,
		ProviderProfileURL: stringField(account, "url"),
		SocialHandle:       reference.Canonical(),
		RawFields:          account,
	}, nil
}
