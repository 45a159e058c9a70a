package governance

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrRateLimited marks calls rejected by a Limiter.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitConfig is the rate of one token bucket.
type LimitConfig struct {
	// PerSecond is the refill rate.
	PerSecond float64
	// Burst is the bucket capacity. Zero means one second worth of tokens.
	Burst int
}

func (c LimitConfig) normalized() LimitConfig {
	if c.PerSecond <= 0 {
		c.PerSecond = 100
	}
	if c.Burst <= 0 {
		c.Burst = int(math.Max(1, math.Ceil(c.PerSecond)))
	}
	return c
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	now     Clock
	buckets map[string]*tokenBucket
}

// NewLimiter returns a limiter using now as its time source; nil means
// time.Now.
func NewLimiter(now Clock) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{now: now, buckets: make(map[string]*tokenBucket)}
}

// Allow takes a token for key, creating a full bucket with cfg on first use.
// When no token is available it reports how long until one will be.
func (l *Limiter) Allow(key string, cfg LimitConfig) (bool, time.Duration) {
	cfg = cfg.normalized()
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(cfg.Burst), last: now}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.take(now, cfg)
}

// Tokens returns the tokens currently available for key, or -1 when the key
// has no bucket yet.
func (l *Limiter) Tokens(key string, cfg LimitConfig) float64 {
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(l.now(), cfg.normalized())
	return b.tokens
}

type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func (b *tokenBucket) take(now time.Time, cfg LimitConfig) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(now, cfg)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	missing := 1 - b.tokens
	return false, time.Duration(missing / cfg.PerSecond * float64(time.Second))
}

func (b *tokenBucket) refill(now time.Time, cfg LimitConfig) {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * cfg.PerSecond
		b.last = now
	}
	if capacity := float64(cfg.Burst); b.tokens > capacity {
		b.tokens = capacity
	}
}
