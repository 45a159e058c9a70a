package governance

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrRetriesExhausted wraps the last error once every attempt has failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryConfig controls RetryPolicy.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay.
	MaxBackoff time.Duration
	// Multiplier grows the delay after each retry.
	Multiplier float64
	// Jitter adds up to a quarter of the delay at random.
	Jitter bool
}

// DefaultRetryConfig returns the defaults for the retry interceptor.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

// RetryPolicy retries a call with exponential backoff.
type RetryPolicy struct {
	cfg       RetryConfig
	retryable func(error) bool
	sleep     func(context.Context, time.Duration) error
}

// NewRetryPolicy returns a policy that retries errors for which retryable
// returns true. A nil retryable retries every error.
func NewRetryPolicy(cfg RetryConfig, retryable func(error) bool) *RetryPolicy {
	d := DefaultRetryConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = d.MaxBackoff
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = d.Multiplier
	}
	if retryable == nil {
		retryable = func(err error) bool { return err != nil }
	}
	return &RetryPolicy{cfg: cfg, retryable: retryable, sleep: sleepContext}
}

// Config returns the effective configuration.
func (p *RetryPolicy) Config() RetryConfig { return p.cfg }

// Backoff returns the delay before retry number attempt, counting from 0.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := time.Duration(float64(p.cfg.InitialBackoff) * math.Pow(p.cfg.Multiplier, float64(attempt)))
	if d > p.cfg.MaxBackoff || d <= 0 {
		d = p.cfg.MaxBackoff
	}
	if p.cfg.Jitter && d >= 4 {
		// #nosec G404 -- jitter does not need a cryptographic source
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// run out or ctx ends. Non-retryable errors are returned as they are; the
// last error of an exhausted run is wrapped in ErrRetriesExhausted.
func (p *RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(attempt)
		if err == nil || !p.retryable(err) {
			return err
		}
		if attempt >= p.cfg.MaxRetries {
			return &exhaustedError{attempts: attempt + 1, last: err}
		}
		if serr := p.sleep(ctx, p.Backoff(attempt)); serr != nil {
			return err
		}
	}
}

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return ErrRetriesExhausted.Error() + ": " + e.last.Error()
}

// Unwrap exposes both the sentinel and the last error to errors.Is/As.
func (e *exhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.last} }

// Attempts returns how many times the call was made.
func (e *exhaustedError) Attempts() int { return e.attempts }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
