package intercept

import (
	"context"
	"fmt"
	"strings"

	"github.com/polisai/polis-chain/pkg/pipeline"
)

// Marker is a declarative tag attached to a handler. Its name selects the
// interceptor factory; the marker value itself is handed to the interceptor
// as configuration.
type Marker interface {
	MarkerName() string
}

// Declared is implemented by handlers that carry markers.
type Declared interface {
	Markers() []Marker
}

// Interceptor wraps the next handler of a chain.
type Interceptor interface {
	pipeline.Handler
	// Bind is called exactly once, before the interceptor is used.
	Bind(marker Marker, next pipeline.Handler) error
}

// Factory builds an unbound interceptor.
type Factory func() (Interceptor, error)

// Tag is a generic marker carrying free-form parameters, as produced by
// configuration files.
type Tag struct {
	Name   string
	Params map[string]any
}

// MarkerName implements Marker.
func (t Tag) MarkerName() string { return t.Name }

// Param returns a parameter value.
func (t Tag) Param(key string) (any, bool) {
	v, ok := t.Params[key]
	return v, ok
}

// Base is embedded by interceptors to implement Bind.
type Base struct {
	marker Marker
	next   pipeline.Handler
}

// Bind implements Interceptor.
func (b *Base) Bind(marker Marker, next pipeline.Handler) error {
	if next == nil {
		return fmt.Errorf("intercept: bind %s: nil handler", nameOf(marker))
	}
	b.marker = marker
	b.next = next
	return nil
}

// Marker returns the bound marker.
func (b *Base) Marker() Marker { return b.marker }

// Next returns the wrapped handler.
func (b *Base) Next() pipeline.Handler { return b.next }

// HandlerName implements pipeline.Named by naming the innermost handler.
func (b *Base) HandlerName() string {
	if b.next == nil {
		return ""
	}
	return pipeline.NameOf(b.next)
}

// Proceed invokes the wrapped handler.
func (b *Base) Proceed(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	return b.next.Handle(ctx, input, ec)
}

// Static attaches markers to a handler that does not declare them itself.
func Static(h pipeline.Handler, markers ...Marker) pipeline.Handler {
	if len(markers) == 0 {
		return h
	}
	return &static{handler: h, markers: append([]Marker(nil), markers...)}
}

type static struct {
	handler pipeline.Handler
	markers []Marker
}

func (s *static) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	return s.handler.Handle(ctx, input, ec)
}

func (s *static) Markers() []Marker { return append([]Marker(nil), s.markers...) }

func (s *static) Delegates(any, *pipeline.Context) []pipeline.Handler {
	return []pipeline.Handler{s.handler}
}

func (s *static) HandlerName() string { return pipeline.NameOf(s.handler) }

// Chain is the queue entry produced by Wrap. Queue searches see through it
// to the decorated handler.
type Chain struct {
	outer  pipeline.Handler
	target pipeline.Handler
	names  []string
}

// Handle implements pipeline.Handler.
func (c *Chain) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	return c.outer.Handle(ctx, input, ec)
}

// Delegates implements pipeline.Delegator.
func (c *Chain) Delegates(any, *pipeline.Context) []pipeline.Handler {
	return []pipeline.Handler{c.target}
}

// Target returns the decorated handler.
func (c *Chain) Target() pipeline.Handler { return c.target }

// Interceptors returns the marker names of the chain, outermost first.
func (c *Chain) Interceptors() []string { return append([]string(nil), c.names...) }

// HandlerName implements pipeline.Named.
func (c *Chain) HandlerName() string {
	return pipeline.NameOf(c.target) + "[" + strings.Join(c.names, ",") + "]"
}

func nameOf(m Marker) string {
	if m == nil {
		return "<nil>"
	}
	return m.MarkerName()
}
