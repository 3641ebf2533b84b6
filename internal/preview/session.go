package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// Session memoizes existence answers for the lifetime of one form.
// Each distinct rewritten URL is probed at most once.
type Session struct {
	httpClient    *http.Client
	probeEndpoint string

	mu      sync.Mutex
	answers map[string]bool
}

// NewSession targets the same-origin probe endpoint, e.g. "https://blog.example/preview/probe".
func NewSession(httpClient *http.Client, probeEndpoint string) *Session {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Session{
		httpClient:    httpClient,
		probeEndpoint: probeEndpoint,
		answers:       make(map[string]bool),
	}
}

// HasAvatar reports whether imageURL points at an existing avatar. URLs on
// unknown hosts report false without a request. Transport failures are
// returned and not remembered.
func (s *Session) HasAvatar(ctx context.Context, imageURL string) (bool, error) {
	target, err := ProbeTarget(imageURL)
	if err != nil {
		return false, nil
	}

	s.mu.Lock()
	answer, seen := s.answers[target]
	s.mu.Unlock()
	if seen {
		return answer, nil
	}

	answer, err = s.probe(ctx, target)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.answers[target] = answer
	s.mu.Unlock()
	return answer, nil
}

func (s *Session) probe(ctx context.Context, target string) (bool, error) {
	endpoint, err := url.Parse(s.probeEndpoint)
	if err != nil {
		return false, fmt.Errorf("probe endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("url", target)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return false, fmt.Errorf("probe request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
