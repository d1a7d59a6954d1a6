package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// NewHTTPClient returns a client with a request timeout and a fixed user agent.
// A positive cacheTTL puts a CachingTransport in front of the network.
func NewHTTPClient(timeout time.Duration, userAgent string, cacheTTL time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var transport http.RoundTripper = http.DefaultTransport
	if strings.TrimSpace(userAgent) != "" {
		transport = &userAgentTransport{transport: transport, userAgent: userAgent}
	}
	if cacheTTL > 0 {
		transport = NewCachingTransport(transport, cacheTTL)
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// getBody performs one GET and classifies failures into TransientNetworkError
// or HTTPStatusError.
func getBody(ctx context.Context, client *http.Client, endpoint string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientNetworkError{URL: redact(endpoint), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientNetworkError{URL: redact(endpoint), Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payload, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientNetworkError{URL: redact(endpoint), StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
	default:
		return nil, &HTTPStatusError{URL: redact(endpoint), StatusCode: resp.StatusCode, Body: truncate(payload)}
	}
}

func truncate(payload []byte) string {
	body := strings.TrimSpace(string(payload))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return body
}

// redact drops the query, which may carry serial numbers.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
