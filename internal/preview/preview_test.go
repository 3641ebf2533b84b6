package preview

import (
	"errors"
	"net/url"
	"testing"
)

const testHash = "b4c9a289323b21a01c3e940f150eb9b8c542587f1abfd8f0e1cc1ffc5e475514"

func TestImageURL(t *testing.T) {
	got, ok := ImageURL("  User@Example.com", 80)
	if !ok {
		t.Fatalf("expected url")
	}
	want := "https://seccdn.libravatar.org/avatar/" + testHash + "?d=404&s=80&r=x"
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if _, ok := ImageURL("   ", 80); ok {
		t.Fatalf("expected no url for empty email")
	}
}

func TestKnownHost(t *testing.T) {
	testCases := map[string]bool{
		"gravatar.com":          true,
		"0.gravatar.com":        true,
		"SECCDN.LIBRAVATAR.ORG": true,
		"libravatar.org":        true,
		"evilgravatar.com":      false,
		"gravatar.com.evil.org": false,
		"mastodon.example":      false,
	}
	for host, want := range testCases {
		if got := KnownHost(host); got != want {
			t.Fatalf("KnownHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestProbeTarget(t *testing.T) {
	testCases := []struct {
		name    string
		raw     string
		extra   []string
		wantErr error
		query   url.Values
		path    string
	}{
		{
			name:  "rewrites size and default",
			raw:   "https://secure.gravatar.com/avatar/" + testHash + "?s=96&amp;d=mm&amp;r=g",
			query: url.Values{"s": {"16"}, "d": {"404"}, "r": {"g"}},
			path:  "/avatar/" + testHash,
		},
		{
			name:  "adds missing parameters",
			raw:   "https://seccdn.libravatar.org/avatar/" + testHash,
			query: url.Values{"s": {"16"}, "d": {"404"}},
			path:  "/avatar/" + testHash,
		},
		{
			name:    "foreign host",
			raw:     "https://tracker.example/avatar/" + testHash,
			wantErr: ErrHostNotAllowed,
		},
		{
			name:  "extra host",
			raw:   "http://127.0.0.1:8081/avatar/x?s=40",
			extra: []string{"127.0.0.1:8081"},
			query: url.Values{"s": {"16"}, "d": {"404"}},
			path:  "/avatar/x",
		},
		{
			name:    "relative",
			raw:     "/assets/mystery.svg",
			wantErr: ErrInvalidURL,
		},
		{
			name:    "javascript scheme",
			raw:     "javascript:alert(1)",
			wantErr: ErrInvalidURL,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := ProbeTarget(testCase.raw, testCase.extra...)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					t.Fatalf("expected %v, got %v", testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			parsed, err := url.Parse(got)
			if err != nil {
				t.Fatalf("unparseable result %s: %v", got, err)
			}
			if parsed.Path != testCase.path {
				t.Fatalf("unexpected path %s", parsed.Path)
			}
			for key, values := range testCase.query {
				if parsed.Query().Get(key) != values[0] {
					t.Fatalf("expected %s=%s in %s", key, values[0], got)
				}
			}
		})
	}
}
