package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DelaneKay/memeradar/internal/ratelimit"
)

func newTestFetcher(burst int) *Fetcher {
	return NewFetcher(ratelimit.NewLimiter(map[string]ratelimit.BucketConfig{
		"src": {RPS: 1000, Burst: burst},
	}), nil)
}

func TestFetchOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "MemeRadar/1.0 (free-tier)", r.Header.Get("User-Agent"))
		assert.Equal(t, "key123", r.Header.Get("X-API-KEY"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newTestFetcher(10)
	body, err := f.Fetch(context.Background(), "src", srv.URL, Options{
		Headers: map[string]string{"X-API-KEY": "key123"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestFetchLocalLimiterDenied(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	f := newTestFetcher(1)
	_, err := f.Fetch(context.Background(), "src", srv.URL, Options{})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "src", srv.URL, Options{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 1, calls, "denied call never reaches the wire")
}

func TestFetchUpstream429FeedsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	limiter := ratelimit.NewLimiter(map[string]ratelimit.BucketConfig{
		"src": {RPS: 1000, Burst: 10},
	})
	f := NewFetcher(limiter, nil)

	_, err := f.Fetch(context.Background(), "src", srv.URL, Options{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))

	until := limiter.BackoffUntil("src")
	require.False(t, until.IsZero())
	assert.Greater(t, time.Until(until), 6*time.Second, "Retry-After honored")
}

func TestFetchStatusNormalization(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	f := newTestFetcher(10)

	_, err := f.Fetch(context.Background(), "src", srv.URL, Options{})
	assert.Equal(t, KindHTTP4xx, KindOf(err))
	assert.True(t, IsNotFound(err))

	status = http.StatusBadGateway
	_, err = f.Fetch(context.Background(), "src", srv.URL, Options{})
	assert.Equal(t, KindHTTP5xx, KindOf(err))
	assert.False(t, IsNotFound(err))
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	f := newTestFetcher(10)
	_, err := f.Fetch(context.Background(), "src", srv.URL, Options{Timeout: 20 * time.Millisecond})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestFetchNetworkError(t *testing.T) {
	f := newTestFetcher(10)
	_, err := f.Fetch(context.Background(), "src", "http://127.0.0.1:1", Options{})
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newTestFetcher(100)
	for i := 0; i < 5; i++ {
		_, err := f.Fetch(context.Background(), "src", srv.URL, Options{})
		assert.Equal(t, KindHTTP5xx, KindOf(err), "failure %d", i)
	}

	// Sixth call sees the open circuit and is classified as rate limited.
	_, err := f.Fetch(context.Background(), "src", srv.URL, Options{})
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
