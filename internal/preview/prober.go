package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Prober checks avatar existence on behalf of the browser.
type Prober struct {
	httpClient *http.Client
	extraHosts []string
	userAgent  string
}

// ProberOption customizes a Prober.
type ProberOption func(*Prober)

// WithExtraHosts accepts additional host[:port] values besides the known providers.
func WithExtraHosts(hosts ...string) ProberOption {
	return func(p *Prober) {
		p.extraHosts = append(p.extraHosts, hosts...)
	}
}

// WithProberUserAgent overrides the outbound User-Agent header.
func WithProberUserAgent(userAgent string) ProberOption {
	return func(p *Prober) {
		if userAgent != "" {
			p.userAgent = userAgent
		}
	}
}

func NewProber(httpClient *http.Client, opts ...ProberOption) *Prober {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	prober := &Prober{httpClient: httpClient, userAgent: "avatar-mirror"}
	for _, opt := range opts {
		opt(prober)
	}
	return prober
}

// Probe issues one GET for the rewritten target and reports whether the
// provider answered 2xx.
func (p *Prober) Probe(ctx context.Context, rawURL string) (bool, error) {
	target, err := ProbeTarget(rawURL, p.extraHosts...)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("probe request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}
