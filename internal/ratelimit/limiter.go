// Package ratelimit provides per-source token buckets with 429-driven
// back-off for free-tier upstream APIs.
package ratelimit

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// BucketConfig describes one source's budget. Rate may be given as RPS or
// RPM; RPM wins when both are set.
type BucketConfig struct {
	RPS   float64 `yaml:"rps"`
	RPM   float64 `yaml:"rpm"`
	Burst int     `yaml:"burst"`
}

func (c BucketConfig) limit() rate.Limit {
	if c.RPM > 0 {
		return rate.Limit(c.RPM / 60.0)
	}
	return rate.Limit(c.RPS)
}

// DefaultBuckets are the free-tier budgets for the known sources.
var DefaultBuckets = map[string]BucketConfig{
	"dexscreener":   {RPM: 280, Burst: 10},
	"geckoterminal": {RPM: 100, Burst: 5},
	"birdeye":       {RPS: 0.9, Burst: 3},
	"goplus":        {RPM: 25, Burst: 3},
	"honeypot":      {RPS: 1, Burst: 2},
}

const maxBackoff = 30 * time.Second

type bucket struct {
	limiter      *rate.Limiter
	capacity     int
	backoffUntil time.Time
	attempts     int
	drainPending bool
}

// Limiter tracks a token bucket per source. CanMakeRequest is non-blocking;
// callers that are denied decide whether to skip or defer.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rand    *rand.Rand
}

// NewLimiter creates a limiter with the given bucket configs; sources not
// present fall back to DefaultBuckets, then to 1 rps / burst 1.
func NewLimiter(configs map[string]BucketConfig) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if configs == nil {
		configs = DefaultBuckets
	}
	for source, cfg := range configs {
		l.buckets[source] = &bucket{
			limiter:  rate.NewLimiter(cfg.limit(), cfg.Burst),
			capacity: cfg.Burst,
		}
	}
	return l
}

func (l *Limiter) bucketFor(source string) *bucket {
	b, ok := l.buckets[source]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(1, 1), capacity: 1}
		l.buckets[source] = b
	}
	return b
}

// CanMakeRequest consumes one token for the source if available. During a
// 429 back-off window it always denies; when the window ends the bucket
// resumes empty.
func (l *Limiter) CanMakeRequest(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(source)
	now := time.Now()
	if now.Before(b.backoffUntil) {
		return false
	}
	if b.drainPending {
		// Back-off just ended: discard tokens accrued while blocked.
		if n := int(b.limiter.Tokens()); n > 0 {
			b.limiter.AllowN(now, n)
		}
		b.drainPending = false
	}
	return b.limiter.Allow()
}

// Observe429 records an upstream 429. retryAfter is the parsed Retry-After
// header in seconds, or 0 when absent; without it the delay is exponential
// in the consecutive-429 count, capped at 30 s, with jitter.
func (l *Limiter) Observe429(source string, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(source)
	var delay time.Duration
	if retryAfter > 0 {
		delay = time.Duration(retryAfter) * time.Second
	} else {
		exp := time.Duration(math.Pow(2, float64(b.attempts))) * time.Second
		if exp > maxBackoff {
			exp = maxBackoff
		}
		delay = exp + time.Duration(l.rand.Intn(1000))*time.Millisecond
	}
	b.attempts++
	b.backoffUntil = time.Now().Add(delay)
	b.drainPending = true
	if n := int(b.limiter.Tokens()); n > 0 {
		b.limiter.AllowN(time.Now(), n)
	}
}

// RecordSuccess resets the consecutive-429 counter for a source.
func (l *Limiter) RecordSuccess(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bucketFor(source).attempts = 0
}

// BackoffUntil returns the end of the current back-off window for a source,
// or the zero time when the source is not backing off.
func (l *Limiter) BackoffUntil(source string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketFor(source)
	if time.Now().Before(b.backoffUntil) {
		return b.backoffUntil
	}
	return time.Time{}
}

// Status describes one bucket for health reporting.
type Status struct {
	Tokens       float64
	Capacity     int
	BackoffUntil time.Time
	Attempts     int
}

// Stats snapshots every bucket.
func (l *Limiter) Stats() map[string]Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]Status, len(l.buckets))
	now := time.Now()
	for source, b := range l.buckets {
		s := Status{
			Tokens:   b.limiter.Tokens(),
			Capacity: b.capacity,
			Attempts: b.attempts,
		}
		if now.Before(b.backoffUntil) {
			s.BackoffUntil = b.backoffUntil
			s.Tokens = 0
		}
		out[source] = s
	}
	return out
}
