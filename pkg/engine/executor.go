package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/polisai/polis-chain/pkg/interceptors"
	"github.com/polisai/polis-chain/pkg/logging"
	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor runs chains from a ChainRegistry.
type Executor struct {
	chains   *ChainRegistry
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
	settings pipeline.Settings
}

// ExecutorConfig holds dependencies for creating an Executor.
type ExecutorConfig struct {
	Chains  *ChainRegistry
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics // optional
	// Settings are visible to every run through Context.Setting.
	Settings pipeline.Settings
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Chains == nil {
		panic("engine: chain registry is required")
	}
	e := &Executor{
		chains:   cfg.Chains,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
		settings: cfg.Settings,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(telemetry.TracerName)
	}
	if e.settings == nil {
		e.settings = pipeline.SettingsMap{}
	}
	return e
}

// Chains returns the registry the executor resolves names against.
func (e *Executor) Chains() *ChainRegistry { return e.chains }

// Run resolves the named chain and runs it over input. An unknown chain
// yields a not-found failure.
func (e *Executor) Run(ctx context.Context, chain string, input any, opts ...pipeline.Option) outcome.Outcome {
	c, ok := e.chains.Get(chain)
	if !ok {
		return outcome.NotFound("chain %q is not configured", chain)
	}
	return e.RunChain(ctx, c, input, opts...)
}

// RunChain runs c over input. opts are applied after the executor's own
// options, so callers can supply session scopes, readers and a logger.
func (e *Executor) RunChain(ctx context.Context, c *Chain, input any, opts ...pipeline.Option) outcome.Outcome {
	all := make([]pipeline.Option, 0, len(opts)+3)
	all = append(all,
		pipeline.WithHandlers(c.Handlers()...),
		pipeline.WithSettings(chainSettings{chain: c.Name(), base: e.settings}),
		pipeline.WithLogger(e.logger.With("chain", c.Name())),
	)
	ec := pipeline.NewContext(append(all, opts...)...)

	ctx, span := e.tracer.Start(ctx, "chain.run", trace.WithAttributes(
		attribute.String("chain.name", c.Name()),
		attribute.String("execution.id", ec.ID()),
		attribute.Int("chain.length", c.Len()),
	))
	defer span.End()

	start := time.Now()
	out := e.invoke(ctx, ec, input)
	elapsed := time.Since(start)

	ec.SetProcessSucceeded(out.IsSuccess())
	ec.CloseReader()

	status := out.StatusCode()
	span.SetAttributes(
		attribute.Int("outcome.status", status),
		attribute.Bool("outcome.success", out.IsSuccess()),
	)
	if f, isFailure := out.(*outcome.Failure); isFailure {
		span.RecordError(f)
		span.SetStatus(codes.Error, f.Message())
	}

	telemetry.RecordRun(ctx, c.Name(), status, out.IsSuccess())
	if e.metrics != nil {
		e.metrics.RecordRun(c.Name(), status)
	}

	attrs := []slog.Attr{
		slog.Int("status", status),
		slog.Bool("succeeded", out.IsSuccess()),
		slog.Duration("duration", elapsed),
	}
	attrs = append(attrs, logging.TraceAttrs(ctx)...)
	level := slog.LevelDebug
	if status >= 500 {
		level = slog.LevelError
	}
	ec.Logger().LogAttrs(ctx, level, "chain finished", attrs...)
	return out
}

// invoke starts the queue and converts a panic that escaped every
// interceptor into an internal error.
func (e *Executor) invoke(ctx context.Context, ec *pipeline.Context, input any) (out outcome.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			ec.Logger().Error("chain panicked",
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			f := outcome.InternalError(fmt.Errorf("panic: %v", p), "chain panicked")
			ec.SetErr(f)
			out = f
		}
	}()
	result, err := ec.HandleNext(ctx, input)
	return outcome.From(result, err)
}

// chainSettings exposes the chain name on top of the executor settings.
type chainSettings struct {
	chain string
	base  pipeline.Settings
}

func (s chainSettings) Lookup(key string) (string, bool) {
	if key == interceptors.ChainSetting {
		return s.chain, true
	}
	return s.base.Lookup(key)
}
