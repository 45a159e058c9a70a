package pipeline

import (
	"context"
	"fmt"

	"github.com/polisai/polis-chain/pkg/outcome"
)

// Handler is a single pipeline stage.
type Handler interface {
	Handle(ctx context.Context, input any, ec *Context) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, input any, ec *Context) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, input any, ec *Context) (any, error) {
	return f(ctx, input, ec)
}

// Named is implemented by handlers that want a stable name in logs and
// telemetry.
type Named interface {
	HandlerName() string
}

// NameOf returns the handler name, falling back to its dynamic type.
func NameOf(h Handler) string {
	if n, ok := h.(Named); ok {
		if name := n.HandlerName(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", h)
}

// Typed adapts a function with concrete input and output types. Inputs of any
// other type are rejected with a bad-request failure; a nil input is passed
// as the zero value of In.
func Typed[In, Out any](fn func(ctx context.Context, input In, ec *Context) (Out, error)) Handler {
	return typedHandler[In, Out]{fn: fn}
}

type typedHandler[In, Out any] struct {
	fn func(ctx context.Context, input In, ec *Context) (Out, error)
}

func (h typedHandler[In, Out]) Handle(ctx context.Context, input any, ec *Context) (any, error) {
	var in In
	if input != nil {
		v, ok := input.(In)
		if !ok {
			return nil, outcome.BadRequest("handler expects input of type %T, got %T", in, input)
		}
		in = v
	}
	out, err := h.fn(ctx, in, ec)
	if err != nil {
		return nil, err
	}
	return out, nil
}
