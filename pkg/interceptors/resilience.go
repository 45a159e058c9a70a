package interceptors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polisai/polis-chain/internal/governance"
	"github.com/polisai/polis-chain/pkg/intercept"
	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/telemetry"
)

// Timeout bounds the handler with a deadline. Overruns fail with a 503.
type Timeout struct {
	After time.Duration
}

func (Timeout) MarkerName() string { return NameTimeout }

type timeoutInterceptor struct {
	intercept.Base
	after time.Duration
}

func (t *timeoutInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	switch mk := m.(type) {
	case Timeout:
		t.after = mk.After
	case intercept.Tag:
		d, err := durationParam(mk, "after", 0)
		if err != nil {
			return err
		}
		t.after = d
	default:
		return unexpectedMarker(NameTimeout, m)
	}
	if t.after <= 0 {
		return fmt.Errorf("%s: after must be positive", NameTimeout)
	}
	return t.Base.Bind(m, next)
}

func (t *timeoutInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	var result any
	err := governance.WithDeadline(ctx, t.after, func(ctx context.Context) error {
		var err error
		result, err = t.Proceed(ctx, input, ec)
		return err
	})
	if errors.Is(err, governance.ErrDeadlineExceeded) {
		return nil, outcome.Unavailable("%s exceeded its %s deadline", t.HandlerName(), t.after).
			WithCause(governance.ErrDeadlineExceeded)
	}
	return result, err
}

// Retry re-runs the handler on server-side failures. Every attempt sees the
// handler queue as it was before the first one.
type Retry struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

func (Retry) MarkerName() string { return NameRetry }

type retryInterceptor struct {
	intercept.Base
	policy *governance.RetryPolicy
}

func (r *retryInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	cfg := governance.DefaultRetryConfig()
	switch mk := m.(type) {
	case Retry:
		cfg = governance.RetryConfig{
			MaxRetries:     mk.MaxRetries,
			InitialBackoff: mk.InitialBackoff,
			MaxBackoff:     mk.MaxBackoff,
			Multiplier:     mk.Multiplier,
			Jitter:         mk.Jitter,
		}
	case intercept.Tag:
		var err error
		if cfg.MaxRetries, err = intParam(mk, "max_retries", cfg.MaxRetries); err != nil {
			return err
		}
		if cfg.InitialBackoff, err = durationParam(mk, "initial_backoff", cfg.InitialBackoff); err != nil {
			return err
		}
		if cfg.MaxBackoff, err = durationParam(mk, "max_backoff", cfg.MaxBackoff); err != nil {
			return err
		}
		if cfg.Multiplier, err = floatParam(mk, "multiplier", cfg.Multiplier); err != nil {
			return err
		}
		if cfg.Jitter, err = boolParam(mk, "jitter", cfg.Jitter); err != nil {
			return err
		}
	default:
		return unexpectedMarker(NameRetry, m)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%s: max_retries must not be negative", NameRetry)
	}
	r.policy = governance.NewRetryPolicy(cfg, retryable)
	return r.Base.Bind(m, next)
}

// retryable accepts server-side failures, except those raised by a breaker
// that is already open.
func retryable(err error) bool {
	if err == nil || outcome.IsClientError(err) {
		return false
	}
	return !errors.Is(err, governance.ErrCircuitOpen)
}

func (r *retryInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	checkpoint := ec.Queue().Clone()
	var (
		result  any
		lastErr error
		retries int
	)
	err := r.policy.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			*ec.Queue() = checkpoint.Clone()
			retries = attempt
			ec.Logger().Debug("retrying handler",
				"handler", r.HandlerName(),
				"attempt", attempt,
				"error", lastErr,
			)
		}
		result, lastErr = r.Proceed(ctx, input, ec)
		return lastErr
	})
	telemetry.RecordRetries(ctx, chainOf(ec), r.HandlerName(), retries)
	if err != nil {
		// Callers see the handler's own failure, not the retry wrapper.
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return result, nil
}

// CircuitBreaker guards the handler with a breaker shared by every chain
// using the same key. The key defaults to the handler name.
type CircuitBreaker struct {
	Key    string
	Config governance.BreakerConfig
}

func (CircuitBreaker) MarkerName() string { return NameCircuitBreaker }

type breakerInterceptor struct {
	intercept.Base
	breakers *governance.BreakerSet
	key      string
	cfg      governance.BreakerConfig
}

func (b *breakerInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	switch mk := m.(type) {
	case CircuitBreaker:
		b.key, b.cfg = mk.Key, mk.Config
	case intercept.Tag:
		cfg := governance.DefaultBreakerConfig()
		var err error
		if b.key, err = stringParam(mk, "key", ""); err != nil {
			return err
		}
		if cfg.ConsecutiveFailures, err = intParam(mk, "consecutive_failures", cfg.ConsecutiveFailures); err != nil {
			return err
		}
		if cfg.FailureRate, err = floatParam(mk, "failure_rate", cfg.FailureRate); err != nil {
			return err
		}
		if cfg.MinSamples, err = intParam(mk, "min_samples", cfg.MinSamples); err != nil {
			return err
		}
		if cfg.Window, err = durationParam(mk, "window", cfg.Window); err != nil {
			return err
		}
		if cfg.OpenFor, err = durationParam(mk, "open_for", cfg.OpenFor); err != nil {
			return err
		}
		if cfg.HalfOpenProbes, err = intParam(mk, "half_open_probes", cfg.HalfOpenProbes); err != nil {
			return err
		}
		b.cfg = cfg
	default:
		return unexpectedMarker(NameCircuitBreaker, m)
	}
	if b.cfg.FailureRate > 100 {
		return fmt.Errorf("%s: failure_rate must be a percentage", NameCircuitBreaker)
	}
	if err := b.Base.Bind(m, next); err != nil {
		return err
	}
	if b.key == "" {
		b.key = b.HandlerName()
	}
	return nil
}

func (b *breakerInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	var result any
	err := b.breakers.Get(b.key, b.cfg).Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = b.Proceed(ctx, input, ec)
		return err
	})
	if errors.Is(err, governance.ErrCircuitOpen) {
		return nil, outcome.Unavailable("circuit breaker %q is open", b.key).WithCause(governance.ErrCircuitOpen)
	}
	return result, err
}

// RateLimit admits at most PerSecond invocations per key, with bursts of
// Burst. Rejections fail with a 429.
type RateLimit struct {
	Key       string
	PerSecond float64
	Burst     int
}

func (RateLimit) MarkerName() string { return NameRateLimit }

type rateLimitInterceptor struct {
	intercept.Base
	limiter *governance.Limiter
	key     string
	cfg     governance.LimitConfig
}

func (r *rateLimitInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	switch mk := m.(type) {
	case RateLimit:
		r.key = mk.Key
		r.cfg = governance.LimitConfig{PerSecond: mk.PerSecond, Burst: mk.Burst}
	case intercept.Tag:
		var err error
		if r.key, err = stringParam(mk, "key", ""); err != nil {
			return err
		}
		if r.cfg.PerSecond, err = floatParam(mk, "per_second", 0); err != nil {
			return err
		}
		if r.cfg.Burst, err = intParam(mk, "burst", 0); err != nil {
			return err
		}
	default:
		return unexpectedMarker(NameRateLimit, m)
	}
	if r.cfg.PerSecond <= 0 {
		return fmt.Errorf("%s: per_second must be positive", NameRateLimit)
	}
	if err := r.Base.Bind(m, next); err != nil {
		return err
	}
	if r.key == "" {
		r.key = r.HandlerName()
	}
	return nil
}

func (r *rateLimitInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	if ok, wait := r.limiter.Allow(r.key, r.cfg); !ok {
		return nil, outcome.ClientError(429, "rate limit exceeded for %q, retry in %s", r.key, wait.Round(time.Millisecond)).
			WithCause(governance.ErrRateLimited)
	}
	return r.Proceed(ctx, input, ec)
}
