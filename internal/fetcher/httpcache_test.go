package fetcher

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingTransportExpiry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	now := time.Date(2025, 7, 21, 12, 0, 0, 0, time.UTC)
	transport := NewCachingTransport(nil, time.Hour)
	transport.now = func() time.Time { return now }
	client := &http.Client{Transport: transport}

	get := func() string {
		resp, err := client.Get(srv.URL + "/a?x=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	assert.Equal(t, "payload", get())
	assert.Equal(t, "payload", get())
	assert.EqualValues(t, 1, hits.Load())

	now = now.Add(61 * time.Minute)
	assert.Equal(t, "payload", get())
	assert.EqualValues(t, 2, hits.Load())
}

func TestCachingTransportSkipsErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewCachingTransport(nil, time.Hour)}
	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.EqualValues(t, 2, hits.Load())
}

func TestUserAgentTransport(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.UserAgent()
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(time.Second, "power-butler/test", 0).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "power-butler/test", agent)
}
