// Package httpx wraps outbound HTTP with rate limiting, circuit breaking,
// and error-kind normalization. All upstream calls in the radar go through
// the Fetcher.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/DelaneKay/memeradar/internal/ratelimit"
	"github.com/DelaneKay/memeradar/internal/telemetry"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
	KindHTTP4xx     ErrorKind = "http_4xx"
	KindHTTP5xx     ErrorKind = "http_5xx"
	KindNetwork     ErrorKind = "network"
)

// FetchError carries the normalized failure kind alongside the cause.
type FetchError struct {
	Source string
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s (status=%d): %v", e.Source, e.Kind, e.Status, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or "" for nil/foreign errors.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Status == http.StatusNotFound
}

// Options tunes a single fetch.
type Options struct {
	Timeout time.Duration // default 10 s, clamped to [8 s, 15 s] bounds by callers
	Headers map[string]string
}

// Fetcher issues rate-limited, circuit-broken GETs against upstream sources.
type Fetcher struct {
	client   *http.Client
	limiter  *ratelimit.Limiter
	metrics  *telemetry.Metrics
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

// NewFetcher builds a fetcher over the shared limiter. metrics may be nil.
func NewFetcher(limiter *ratelimit.Limiter, metrics *telemetry.Metrics) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		limiter:  limiter,
		metrics:  metrics,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		logger:   log.With().Str("component", "fetcher").Logger(),
	}
	return f
}

func (f *Fetcher) breaker(source string) *gobreaker.CircuitBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[source]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn().Str("source", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit state change")
		},
	})
	f.breakers[source] = cb
	return cb
}

// RegisterBreakers pre-creates breakers for the named sources so breaker
// state is not lazily initialized under concurrent first use.
func (f *Fetcher) RegisterBreakers(sources ...string) {
	for _, s := range sources {
		f.breaker(s)
	}
}

// Fetch performs a GET and returns the body. On denial by the local limiter
// it returns KindRateLimited without issuing a request; upstream 429 feeds
// the limiter's back-off.
func (f *Fetcher) Fetch(ctx context.Context, source, url string, opts Options) ([]byte, error) {
	if !f.limiter.CanMakeRequest(source) {
		f.count(source, "rate_limited")
		if f.metrics != nil {
			f.metrics.RateLimited.WithLabelValues(source, "local").Inc()
		}
		return nil, &FetchError{Source: source, Kind: KindRateLimited, Err: errors.New("local limiter denied")}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := f.breaker(source).Execute(func() (interface{}, error) {
		return f.do(ctx, source, url, opts)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &FetchError{Source: source, Kind: KindRateLimited, Err: err}
		}
		return nil, err
	}
	return body.([]byte), nil
}

func (f *Fetcher) do(ctx context.Context, source, url string, opts Options) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Source: source, Kind: KindNetwork, Err: err}
	}
	req.Header.Set("User-Agent", "MemeRadar/1.0 (free-tier)")
	req.Header.Set("Accept", "application/json, text/html;q=0.9")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	latency := time.Since(start)
	if f.metrics != nil {
		f.metrics.RequestDuration.WithLabelValues(source).Observe(latency.Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			f.count(source, "timeout")
			return nil, &FetchError{Source: source, Kind: KindTimeout, Err: err}
		}
		f.count(source, "network")
		return nil, &FetchError{Source: source, Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	f.count(source, strconv.Itoa(resp.StatusCode/100*100))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, perr := strconv.Atoi(ra); perr == nil {
				retryAfter = n
			}
		}
		f.limiter.Observe429(source, retryAfter)
		if f.metrics != nil {
			f.metrics.RateLimited.WithLabelValues(source, "upstream").Inc()
		}
		return nil, &FetchError{Source: source, Kind: KindRateLimited, Status: resp.StatusCode,
			Err: fmt.Errorf("upstream 429, retry-after=%d", retryAfter)}
	case resp.StatusCode >= 500:
		return nil, &FetchError{Source: source, Kind: KindHTTP5xx, Status: resp.StatusCode,
			Err: fmt.Errorf("server error")}
	case resp.StatusCode >= 400:
		return nil, &FetchError{Source: source, Kind: KindHTTP4xx, Status: resp.StatusCode,
			Err: fmt.Errorf("client error")}
	}

	f.limiter.RecordSuccess(source)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		f.count(source, "network")
		return nil, &FetchError{Source: source, Kind: KindNetwork, Err: err}
	}
	return body, nil
}

func (f *Fetcher) count(source, status string) {
	if f.metrics != nil {
		f.metrics.RequestStatus.WithLabelValues(source, status).Inc()
	}
}
