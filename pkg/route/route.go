// Package route binds handlers to path patterns. A route entry sits in a
// handler queue and either handles the request itself or passes it on.
package route

import (
	"context"
	"errors"
	"fmt"

	"github.com/polisai/polis-chain/pkg/pathmatch"
	"github.com/polisai/polis-chain/pkg/pipeline"
)

// ErrNilHandler is returned when an entry is created without a handler.
var ErrNilHandler = errors.New("route: nil handler")

// Entry dispatches to its handler when the request path matches its
// pattern and otherwise delegates to the rest of the queue.
type Entry struct {
	matcher *pathmatch.Matcher
	handler pipeline.Handler
}

// New compiles pattern and binds it to h.
func New(pattern string, h pipeline.Handler, opts ...pathmatch.Option) (*Entry, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	m, err := pathmatch.Compile(pattern, opts...)
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", pattern, err)
	}
	return &Entry{matcher: m, handler: h}, nil
}

// Must is like New but panics on error.
func Must(pattern string, h pipeline.Handler, opts ...pathmatch.Option) *Entry {
	e, err := New(pattern, h, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Matcher returns the compiled pattern.
func (e *Entry) Matcher() *pathmatch.Matcher { return e.matcher }

// Handler returns the bound handler.
func (e *Entry) Handler() pipeline.Handler { return e.handler }

// HandlerName implements pipeline.Named.
func (e *Entry) HandlerName() string {
	return fmt.Sprintf("route(%s)->%s", e.matcher.Pattern(), pipeline.NameOf(e.handler))
}

// Handle implements pipeline.Handler.
func (e *Entry) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	if e.Accepts(input, ec) {
		return e.handler.Handle(ctx, input, ec)
	}
	return ec.HandleNext(ctx, input)
}

// Delegates implements pipeline.Delegator. The bound handler is only visible
// to queue searches while the path matches.
func (e *Entry) Delegates(input any, ec *pipeline.Context) []pipeline.Handler {
	if e.Accepts(input, ec) {
		return []pipeline.Handler{e.handler}
	}
	return nil
}

// Accepts reports whether the request path for input matches the pattern.
// Inputs without a path never match.
func (e *Entry) Accepts(input any, ec *pipeline.Context) bool {
	path, ok := requestPath(input, ec)
	if !ok {
		return false
	}
	return e.matcher.Match(path)
}

func requestPath(input any, ec *pipeline.Context) (string, bool) {
	if p, ok := pipeline.PathOf(input); ok {
		return p, true
	}
	if ec == nil {
		return "", false
	}
	return pipeline.PathOf(ec.CurrentRequest())
}
