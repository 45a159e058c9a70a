package telemetry

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// TracerName is the instrumentation scope of spans created by this module.
const TracerName = "github.com/polisai/polis-chain"

// Config describes the telemetry bootstrap options.
type Config struct {
	ServiceName  string            `yaml:"service_name" json:"service_name"`
	Endpoint     string            `yaml:"endpoint" json:"endpoint"`
	Environment  string            `yaml:"environment" json:"environment"`
	Insecure     bool              `yaml:"insecure" json:"insecure"`
	SampleRatio  float64           `yaml:"sample_ratio" json:"sample_ratio"`
	Headers      map[string]string `yaml:"headers" json:"headers"`
	ResourceTags map[string]string `yaml:"resource_tags" json:"resource_tags"`
	Redaction    Redaction         `yaml:"redaction" json:"redaction"`
}

// Validate checks the sampling ratio.
func (c Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1], got %v", c.SampleRatio)
	}
	return c.Redaction.Validate()
}

// SetupProvider installs the process-wide tracer provider and W3C
// propagators. Without an endpoint nothing is exported and the returned
// shutdown is a no-op. Callers must invoke shutdown on exit to flush spans.
func SetupProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	} else {
		clientOpts = append(clientOpts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	if len(cfg.Headers) > 0 {
		clientOpts = append(clientOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	clientOpts = append(clientOpts, otlptracegrpc.WithDialOption(
		grpc.WithReturnConnectionError(), //nolint:staticcheck // surfaces dial errors without WithBlock
	))

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exporter, err := otlptrace.New(dialCtx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "polis-chain"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	for k, v := range cfg.ResourceTags {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	return res, nil
}

// sampler returns a parent-based ratio sampler; 0 means always sample.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Redaction lists span attributes that must not be exported verbatim.
type Redaction struct {
	// Drop removes attributes entirely.
	Drop []string `yaml:"drop" json:"drop"`
	// Mask maps attribute keys to a strategy: mask, hash or replace.
	Mask map[string]string `yaml:"mask" json:"mask"`
}

// Validate checks the mask strategies.
func (r Redaction) Validate() error {
	for key, strategy := range r.Mask {
		switch strings.ToLower(strategy) {
		case "mask", "hash", "replace", "drop":
		default:
			return fmt.Errorf("telemetry.redaction.mask[%s]: unknown strategy %q", key, strategy)
		}
	}
	return nil
}

var defaultDrop = []string{
	"request.param.authorization",
	"request.param.password",
	"request.param.token",
}

// RedactAttributes applies the default deny list and r to attrs.
func RedactAttributes(r Redaction, attrs []attribute.KeyValue) []attribute.KeyValue {
	if len(attrs) == 0 {
		return attrs
	}
	drop := make(map[string]struct{}, len(defaultDrop)+len(r.Drop))
	for _, k := range defaultDrop {
		drop[k] = struct{}{}
	}
	for _, k := range r.Drop {
		drop[k] = struct{}{}
	}

	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		key := string(kv.Key)
		if _, ok := drop[key]; ok {
			continue
		}
		switch strings.ToLower(r.Mask[key]) {
		case "drop":
			continue
		case "mask":
			out = append(out, attribute.String(key, maskValue(kv.Value.Emit())))
		case "hash":
			out = append(out, attribute.String(key, hashValue(kv.Value.Emit())))
		case "replace":
			out = append(out, attribute.String(key, "[REDACTED]"))
		default:
			out = append(out, kv)
		}
	}
	return out
}

// maskValue keeps the first and last four characters.
func maskValue(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}

// hashValue produces a stable, non-reversible token for correlation.
func hashValue(s string) string {
	if s == "" {
		return "[REDACTED:empty]"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("[REDACTED:hash:%08x]", h.Sum32())
}
