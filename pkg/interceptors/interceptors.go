// Package interceptors provides the built-in interceptors: deadlines,
// retries, circuit breaking, rate limiting, tracing, logging, metrics and
// panic recovery.
//
// Each interceptor accepts either its typed marker (Timeout, Retry, ...) or
// an intercept.Tag with the same name whose parameters come from
// configuration. Bad parameters fail at Bind time, so they surface when the
// chain is built.
package interceptors

import (
	"errors"
	"fmt"

	"github.com/polisai/polis-chain/internal/governance"
	"github.com/polisai/polis-chain/pkg/intercept"
	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Marker names.
const (
	NameTimeout        = "timeout"
	NameRetry          = "retry"
	NameCircuitBreaker = "circuit_breaker"
	NameRateLimit      = "rate_limit"
	NameTrace          = "trace"
	NameLog            = "log"
	NameMetrics        = "metrics"
	NameRecover        = "recover"
)

// ChainSetting is the context setting holding the name of the running chain.
const ChainSetting = "chain.name"

// DefaultOrder is a recommended outermost-first order covering every
// built-in marker, suitable for interceptors.order.
var DefaultOrder = []string{
	NameRecover, NameTrace, NameLog, NameMetrics,
	NameRateLimit, NameCircuitBreaker, NameRetry, NameTimeout,
}

// Deps carries the shared state of the built-in interceptors.
type Deps struct {
	Breakers  *governance.BreakerSet
	Limiter   *governance.Limiter
	Metrics   *telemetry.Metrics // optional
	Tracer    trace.Tracer
	Redaction telemetry.Redaction
}

// WithDefaults fills in a breaker set, limiter and tracer where missing. Share
// the result across reloads so breaker and limiter state survives.
func (d Deps) WithDefaults() Deps {
	if d.Breakers == nil {
		d.Breakers = governance.NewBreakerSet(governance.WithFailureFilter(countsAsFailure))
	}
	if d.Limiter == nil {
		d.Limiter = governance.NewLimiter(nil)
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(telemetry.TracerName)
	}
	return d
}

// RegisterDefaults registers every built-in interceptor on reg.
func RegisterDefaults(reg *intercept.Registry, deps Deps) {
	deps = deps.WithDefaults()
	reg.Register(NameTimeout, func() (intercept.Interceptor, error) { return &timeoutInterceptor{}, nil })
	reg.Register(NameRetry, func() (intercept.Interceptor, error) { return &retryInterceptor{}, nil })
	reg.Register(NameCircuitBreaker, func() (intercept.Interceptor, error) {
		return &breakerInterceptor{breakers: deps.Breakers}, nil
	})
	reg.Register(NameRateLimit, func() (intercept.Interceptor, error) {
		return &rateLimitInterceptor{limiter: deps.Limiter}, nil
	})
	reg.Register(NameTrace, func() (intercept.Interceptor, error) {
		return &traceInterceptor{tracer: deps.Tracer, redaction: deps.Redaction}, nil
	})
	reg.Register(NameLog, func() (intercept.Interceptor, error) { return &logInterceptor{}, nil })
	reg.Register(NameMetrics, func() (intercept.Interceptor, error) {
		return &metricsInterceptor{prom: deps.Metrics}, nil
	})
	reg.Register(NameRecover, func() (intercept.Interceptor, error) { return &recoverInterceptor{}, nil })
}

// countsAsFailure is the breaker failure filter: caller mistakes do not
// trip a breaker.
func countsAsFailure(err error) bool {
	return err != nil && !outcome.IsClientError(err)
}

// reasonOf names the interceptor that cut an invocation short.
func reasonOf(err error) telemetry.Reason {
	switch {
	case err == nil:
		return telemetry.ReasonNone
	case errors.Is(err, governance.ErrDeadlineExceeded):
		return telemetry.ReasonTimeout
	case errors.Is(err, governance.ErrCircuitOpen):
		return telemetry.ReasonCircuitOpen
	case errors.Is(err, governance.ErrRateLimited):
		return telemetry.ReasonRateLimited
	case errors.Is(err, errPanic):
		return telemetry.ReasonPanic
	default:
		return telemetry.ReasonNone
	}
}

// statusOf returns the status of a handler result.
func statusOf(result any, err error) int {
	return outcome.From(result, err).StatusCode()
}

func chainOf(ec *pipeline.Context) string {
	name, _ := ec.Setting(ChainSetting)
	return name
}

func unexpectedMarker(name string, m intercept.Marker) error {
	return fmt.Errorf("%s: unsupported marker %T", name, m)
}
