package fetcher

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

// CachingTransport answers repeated GET requests for the same URL from memory
// for TTL. Only 200 responses are kept.
type CachingTransport struct {
	base http.RoundTripper
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedResponse
}

type cachedResponse struct {
	status     string
	statusCode int
	header     http.Header
	body       []byte
	expires    time.Time
}

// NewCachingTransport wraps base; a nil base uses http.DefaultTransport.
func NewCachingTransport(base http.RoundTripper, ttl time.Duration) *CachingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &CachingTransport{
		base:    base,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedResponse),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || t.ttl <= 0 {
		return t.base.RoundTrip(req)
	}

	key := req.URL.String()
	now := t.now()

	t.mu.Lock()
	entry, ok := t.entries[key]
	t.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.response(req), nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	entry = cachedResponse{
		status:     resp.Status,
		statusCode: resp.StatusCode,
		header:     resp.Header.Clone(),
		body:       body,
		expires:    now.Add(t.ttl),
	}

	t.mu.Lock()
	for k, e := range t.entries {
		if !now.Before(e.expires) {
			delete(t.entries, k)
		}
	}
	t.entries[key] = entry
	t.mu.Unlock()

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (c cachedResponse) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        c.status,
		StatusCode:    c.statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        c.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(c.body)),
		ContentLength: int64(len(c.body)),
		Request:       req,
	}
}
