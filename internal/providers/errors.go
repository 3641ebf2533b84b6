package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrNotFound is the expected "no such avatar" outcome.
	ErrNotFound = errors.New("providers: not found")
	// ErrProviderUnavailable covers transport failures and unexpected statuses.
	ErrProviderUnavailable = errors.New("providers: provider unavailable")
	// ErrMalformedResponse covers unparseable bodies and missing required fields.
	ErrMalformedResponse = errors.New("providers: malformed response")
)

const defaultUserAgent = "avatar-mirror"

// maxMetadataBytes bounds JSON profile documents.
const maxMetadataBytes = 1 << 20

type requester struct {
	httpClient *http.Client
	userAgent  string
}

func newRequester(httpClient *http.Client, userAgent string) requester {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return requester{httpClient: httpClient, userAgent: userAgent}
}

func (r requester) do(ctx context.Context, method, target string, accept string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrProviderUnavailable, err)
	}
	request.Header.Set("User-Agent", r.userAgent)
	if accept != "" {
		request.Header.Set("Accept", accept)
	}
	response, err := r.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return response, nil
}

// checkStatus maps a response status onto the error taxonomy.
func checkStatus(response *http.Response) error {
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, response.StatusCode)
	}
}

func readBody(response *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(response.Body, maxMetadataBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrProviderUnavailable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	if len(body) > maxMetadataBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxMetadataBytes)
	}
	return body, nil
}

func drainAndClose(response *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxMetadataBytes))
	_ = response.Body.Close()
}
