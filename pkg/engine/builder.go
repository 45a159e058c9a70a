package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/polisai/polis-chain/pkg/config"
	"github.com/polisai/polis-chain/pkg/intercept"
	"github.com/polisai/polis-chain/pkg/pathmatch"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/route"
)

// ErrUnknownHandlerType is returned for a handler type with no factory.
var ErrUnknownHandlerType = errors.New("unknown handler type")

// HandlerFactory creates the handler for one configured queue entry.
type HandlerFactory func(bc BuildContext) (pipeline.Handler, error)

// BuildContext is handed to a HandlerFactory.
type BuildContext struct {
	Spec     config.HandlerSpec
	Chain    string
	Metadata HandlerMetadata
	builder  *Builder
}

// Name returns the handler name for logs and telemetry.
func (bc BuildContext) Name() string { return bc.Spec.DisplayName() }

// BuildChain builds a nested chain with the same builder.
func (bc BuildContext) BuildChain(cfg config.ChainConfig) (*Chain, error) {
	return bc.builder.Build(cfg)
}

// Chain is a built, immutable handler queue.
type Chain struct {
	name        string
	description string
	handlers    []pipeline.Handler
}

// NewChain returns a chain over handlers.
func NewChain(name string, handlers ...pipeline.Handler) *Chain {
	return &Chain{name: name, handlers: append([]pipeline.Handler(nil), handlers...)}
}

// Name returns the chain name.
func (c *Chain) Name() string { return c.name }

// Description returns the configured description.
func (c *Chain) Description() string { return c.description }

// Handlers returns a copy of the handler queue.
func (c *Chain) Handlers() []pipeline.Handler {
	return append([]pipeline.Handler(nil), c.handlers...)
}

// Len returns the number of queue entries.
func (c *Chain) Len() int { return len(c.handlers) }

// Builder turns chain configuration into handler queues. Each entry is
// created by its factory, wrapped with its interceptors and, when a path is
// configured, guarded by a route entry.
type Builder struct {
	handlers     *handlerRegistry
	interceptors *intercept.Registry
}

// NewBuilder returns a builder with every built-in handler type
// registered. A nil registry builds entries without interceptors; markers
// then fail to build.
func NewBuilder(interceptors *intercept.Registry) *Builder {
	if interceptors == nil {
		interceptors = intercept.NewRegistry()
	}
	b := &Builder{handlers: newHandlerRegistry(), interceptors: interceptors}
	b.registerDefaultHandlers()
	return b
}

// RegisterHandler adds or replaces the factory for kind@version.
func (b *Builder) RegisterHandler(kind, version string, f HandlerFactory, aliases ...string) {
	b.handlers.register(kind, version, f, aliases...)
}

// HandlerTypes returns the canonical keys of every registered type.
func (b *Builder) HandlerTypes() []string { return b.handlers.types() }

// Interceptors returns the interceptor registry used for wrapping.
func (b *Builder) Interceptors() *intercept.Registry { return b.interceptors }

// Build builds one chain.
func (b *Builder) Build(cfg config.ChainConfig) (*Chain, error) {
	if cfg.Name == "" {
		return nil, errors.New("chain name is required")
	}
	chain := &Chain{name: cfg.Name, description: cfg.Description}
	for i, spec := range cfg.Handlers {
		h, err := b.buildEntry(cfg.Name, spec)
		if err != nil {
			return nil, fmt.Errorf("chain %q handler %d (%s): %w", cfg.Name, i, spec.DisplayName(), err)
		}
		chain.handlers = append(chain.handlers, h)
	}
	return chain, nil
}

// BuildAll builds every chain and reports all failures together.
func (b *Builder) BuildAll(cfgs []config.ChainConfig) (map[string]*Chain, error) {
	if err := b.interceptors.Validate(); err != nil {
		return nil, err
	}
	chains := make(map[string]*Chain, len(cfgs))
	var errs []error
	for _, cfg := range cfgs {
		chain, err := b.Build(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		chains[cfg.Name] = chain
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return chains, nil
}

func (b *Builder) buildEntry(chain string, spec config.HandlerSpec) (pipeline.Handler, error) {
	factory, meta, ok := b.handlers.resolve(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownHandlerType, spec.Type)
	}
	h, err := factory(BuildContext{Spec: spec, Chain: chain, Metadata: meta, builder: b})
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("factory for %s returned no handler", meta.Canonical)
	}
	if spec.Name != "" && pipeline.NameOf(h) != spec.Name {
		h = &named{Handler: h, name: spec.Name}
	}

	if len(spec.Markers) > 0 {
		markers := make([]intercept.Marker, 0, len(spec.Markers))
		for _, m := range spec.Markers {
			markers = append(markers, intercept.Tag{Name: m.Name, Params: m.Params})
		}
		if h, err = b.interceptors.Wrap(intercept.Static(h, markers...)); err != nil {
			return nil, err
		}
	}

	if spec.Path != "" {
		var opts []pathmatch.Option
		if spec.Dotted {
			opts = append(opts, pathmatch.WithDottedPaths())
		}
		entry, err := route.New(spec.Path, h, opts...)
		if err != nil {
			return nil, err
		}
		h = entry
	}
	return h, nil
}

// named overrides the name of a handler built by a factory.
type named struct {
	pipeline.Handler
	name string
}

func (n *named) HandlerName() string { return n.name }

func (n *named) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	return n.Handler.Handle(ctx, input, ec)
}

func (n *named) Delegates(any, *pipeline.Context) []pipeline.Handler {
	return []pipeline.Handler{n.Handler}
}
