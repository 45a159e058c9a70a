package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/polisai/polis-chain/pkg/intercept"
	"github.com/polisai/polis-chain/pkg/logging"
	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Trace opens a span around the handler. Span defaults to
// "handler <name>".
type Trace struct {
	Span string
}

func (Trace) MarkerName() string { return NameTrace }

type traceInterceptor struct {
	intercept.Base
	tracer    trace.Tracer
	redaction telemetry.Redaction
	span      string
}

func (t *traceInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	switch mk := m.(type) {
	case Trace:
		t.span = mk.Span
	case intercept.Tag:
		var err error
		if t.span, err = stringParam(mk, "span", ""); err != nil {
			return err
		}
	default:
		return unexpectedMarker(NameTrace, m)
	}
	if err := t.Base.Bind(m, next); err != nil {
		return err
	}
	if t.span == "" {
		t.span = "handler " + t.HandlerName()
	}
	return nil
}

func (t *traceInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	attrs := []attribute.KeyValue{
		attribute.String("handler.name", t.HandlerName()),
		attribute.String("chain.name", chainOf(ec)),
		attribute.String("execution.id", ec.ID()),
	}
	if req, ok := input.(pipeline.Request); ok {
		attrs = append(attrs, attribute.String("request.path", req.RequestPath()))
		for name, values := range req.Params() {
			attrs = append(attrs, attribute.String("request.param."+strings.ToLower(name), strings.Join(values, ",")))
		}
	}
	ctx, span := t.tracer.Start(ctx, t.span, trace.WithAttributes(telemetry.RedactAttributes(t.redaction, attrs)...))
	defer span.End()

	result, err := t.Proceed(ctx, input, ec)
	status := statusOf(result, err)
	span.SetAttributes(attribute.Int("outcome.status", status))
	if reason := reasonOf(err); reason != telemetry.ReasonNone {
		span.SetAttributes(attribute.String("outcome.reason", string(reason)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// Log writes one line per invocation to the context logger. Successful
// invocations are logged at Level; failures at warn or error by status.
type Log struct {
	Level slog.Level
}

func (Log) MarkerName() string { return NameLog }

type logInterceptor struct {
	intercept.Base
	level slog.Level
}

func (l *logInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	switch mk := m.(type) {
	case Log:
		l.level = mk.Level
	case intercept.Tag:
		name, err := stringParam(mk, "level", "")
		if err != nil {
			return err
		}
		if l.level, err = logging.ParseLevel(name); err != nil {
			return fmt.Errorf("%s: %w", NameLog, err)
		}
	default:
		return unexpectedMarker(NameLog, m)
	}
	return l.Base.Bind(m, next)
}

func (l *logInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	start := time.Now()
	result, err := l.Proceed(ctx, input, ec)
	status := statusOf(result, err)

	level := l.level
	if err != nil {
		level = logging.LevelForStatus(status)
	}
	attrs := []slog.Attr{
		slog.String("handler", l.HandlerName()),
		slog.Int("status", status),
		slog.Duration("duration", time.Since(start)),
	}
	if chain := chainOf(ec); chain != "" {
		attrs = append(attrs, slog.String("chain", chain))
	}
	if path, ok := pipeline.PathOf(input); ok {
		attrs = append(attrs, slog.String("path", path))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	attrs = append(attrs, logging.TraceAttrs(ctx)...)
	ec.Logger().LogAttrs(ctx, level, "handler finished", attrs...)
	return result, err
}

// Metrics records invocation counts and latency through OpenTelemetry and,
// when configured, Prometheus.
type Metrics struct{}

func (Metrics) MarkerName() string { return NameMetrics }

type metricsInterceptor struct {
	intercept.Base
	prom *telemetry.Metrics
}

func (mi *metricsInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	switch m.(type) {
	case Metrics, intercept.Tag:
	default:
		return unexpectedMarker(NameMetrics, m)
	}
	return mi.Base.Bind(m, next)
}

func (mi *metricsInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	start := time.Now()
	result, err := mi.Proceed(ctx, input, ec)
	elapsed := time.Since(start)

	status := statusOf(result, err)
	chain, name := chainOf(ec), mi.HandlerName()
	telemetry.RecordHandler(ctx, telemetry.HandlerMetrics{
		Chain:    chain,
		Handler:  name,
		Status:   status,
		Duration: elapsed,
		Reason:   reasonOf(err),
	})
	if mi.prom != nil {
		mi.prom.RecordHandler(chain, name, status, elapsed)
	}
	return result, err
}

// Recover turns a panic in the handler into an internal-error failure.
type Recover struct{}

func (Recover) MarkerName() string { return NameRecover }

var errPanic = errors.New("handler panicked")

type recoverInterceptor struct {
	intercept.Base
}

func (r *recoverInterceptor) Bind(m intercept.Marker, next pipeline.Handler) error {
	switch m.(type) {
	case Recover, intercept.Tag:
	default:
		return unexpectedMarker(NameRecover, m)
	}
	return r.Base.Bind(m, next)
}

func (r *recoverInterceptor) Handle(ctx context.Context, input any, ec *pipeline.Context) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			ec.Logger().Error("handler panicked",
				"handler", r.HandlerName(),
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			result = nil
			err = outcome.InternalError(fmt.Errorf("%w: %v", errPanic, p), "handler %s panicked", r.HandlerName())
		}
	}()
	return r.Proceed(ctx, input, ec)
}
