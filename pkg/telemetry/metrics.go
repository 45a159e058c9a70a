package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the handler instruments.
const MeterName = "polis.chain"

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	invocationCounter metric.Int64Counter
	retryCounter      metric.Int64Counter
	circuitOpenCount  metric.Int64Counter
	rateLimitedCount  metric.Int64Counter
	timeoutCounter    metric.Int64Counter
	latencyHistogram  metric.Float64Histogram
	runCounter        metric.Int64Counter
)

// Reason tags why a handler invocation was cut short by an interceptor.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonCircuitOpen Reason = "circuit_open"
	ReasonRateLimited Reason = "rate_limited"
	ReasonTimeout     Reason = "timeout"
	ReasonPanic       Reason = "panic"
)

// HandlerMetrics describes one handler invocation.
type HandlerMetrics struct {
	Chain    string
	Handler  string
	Status   int
	Duration time.Duration
	Reason   Reason
}

// RecordHandler emits the counters and latency histogram for a handler
// invocation.
func RecordHandler(ctx context.Context, m HandlerMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("chain.name", m.Chain),
		attribute.String("handler.name", m.Handler),
		attribute.String("outcome.status", strconv.Itoa(m.Status)),
	)

	invocationCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		latencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}
	switch m.Reason {
	case ReasonCircuitOpen:
		circuitOpenCount.Add(ctx, 1, attrs)
	case ReasonRateLimited:
		rateLimitedCount.Add(ctx, 1, attrs)
	case ReasonTimeout:
		timeoutCounter.Add(ctx, 1, attrs)
	}
}

// RecordRetries counts retry attempts made for a handler.
func RecordRetries(ctx context.Context, chain, handler string, n int) {
	if n <= 0 || ensureMetrics() != nil {
		return
	}
	retryCounter.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("chain.name", chain),
		attribute.String("handler.name", handler),
	))
}

// RecordRun counts a completed chain run.
func RecordRun(ctx context.Context, chain string, status int, succeeded bool) {
	if err := ensureMetrics(); err != nil {
		return
	}
	runCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chain.name", chain),
		attribute.String("outcome.status", strconv.Itoa(status)),
		attribute.Bool("outcome.success", succeeded),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(MeterName)

		counters := []struct {
			dst  *metric.Int64Counter
			name string
			desc string
		}{
			{&invocationCounter, "chain.handler.invocations_total", "Handler invocations partitioned by outcome status"},
			{&retryCounter, "chain.handler.retries_total", "Retry attempts made by the retry interceptor"},
			{&circuitOpenCount, "chain.handler.circuit_open_total", "Invocations rejected by an open circuit breaker"},
			{&rateLimitedCount, "chain.handler.rate_limited_total", "Invocations rejected by the rate limiter"},
			{&timeoutCounter, "chain.handler.timeout_total", "Invocations that overran their deadline"},
			{&runCounter, "chain.runs_total", "Completed chain runs"},
		}
		for _, c := range counters {
			*c.dst, metricsInitErr = meter.Int64Counter(c.name,
				metric.WithDescription(c.desc),
				metric.WithUnit("{count}"),
			)
			if metricsInitErr != nil {
				return
			}
		}

		latencyHistogram, metricsInitErr = meter.Float64Histogram(
			"chain.handler.duration_ms",
			metric.WithDescription("Observed handler latency including inner interceptors"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}
