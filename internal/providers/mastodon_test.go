package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/avatarmirror/internal/identity"
	"github.com/MarcoPoloResearchLab/avatarmirror/internal/profiles"
)

func newMastodonTestClient(server *httptest.Server) *MastodonClient {
	return NewMastodonClient(server.Client(), WithInstanceBaseURL(func(string) string {
		return server.URL
	}))
}

func TestMastodonLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/lookup" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("acct") != "alice" {
			t.Errorf("unexpected acct %q", r.URL.Query().Get("acct"))
		}
		_, _ = w.Write([]byte(`{"username":"alice","display_name":"Alice","url":"https://mastodon.example/@alice","avatar":"https://mastodon.example/img/a.png","note":"<p>hi</p>"}`))
	}))
	defer server.Close()

	reference := identity.SocialReference{Host: "mastodon.example", Handle: "alice"}
	record, err := newMastodonTestClient(server).Lookup(context.Background(), reference)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Source != profiles.SourceSocial {
		t.Fatalf("unexpected source %s", record.Source)
	}
	if record.SocialHandle != "alice@mastodon.example" {
		t.Fatalf("unexpected handle %s", record.SocialHandle)
	}
	if record.ImageReferenceURL != "https://mastodon.example/img/a.png" {
		t.Fatalf("unexpected image url %s", record.ImageReferenceURL)
	}
	if record.ProviderProfileURL != "https://mastodon.example/@alice" {
		t.Fatalf("unexpected profile url %s", record.ProviderProfileURL)
	}
	if record.IdentityHash != "" {
		t.Fatalf("social records carry no identity hash")
	}
	if _, ok := record.RawFields["note"]; !ok {
		t.Fatalf("expected raw fields to keep note")
	}
}

func TestMastodonLookupURL(t *testing.T) {
	client := NewMastodonClient(nil)
	got := client.LookupURL(identity.SocialReference{Host: "mastodon.example", Handle: "alice"})
	if got != "https://mastodon.example/api/v1/accounts/lookup?acct=alice" {
		t.Fatalf("unexpected lookup url %s", got)
	}
}

func TestMastodonLookupRejectsIncompleteAccounts(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "no-username", body: `{"avatar":"https://mastodon.example/a.png"}`},
		{name: "empty-username", body: `{"username":"","avatar":"https://mastodon.example/a.png"}`},
		{name: "no-avatar", body: `{"username":"alice"}`},
		{name: "array", body: `[{"username":"alice"}]`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(testCase.body))
			}))
			defer server.Close()

			_, err := newMastodonTestClient(server).Lookup(context.Background(), identity.SocialReference{Host: "mastodon.example", Handle: "alice"})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected malformed response, got %v", err)
			}
		})
	}
}
