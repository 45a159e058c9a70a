package intercept

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/polisai/polis-chain/pkg/pipeline"
)

var (
	// ErrNoFactory is returned when a marker has no interceptor factory.
	ErrNoFactory = errors.New("intercept: no factory for marker")
	// ErrNotOrdered is returned when an order list is configured and a
	// handler declares a marker not named in it.
	ErrNotOrdered = errors.New("intercept: marker missing from order list")
	// ErrUnknownMarker is returned when the order list names a marker that
	// was never registered.
	ErrUnknownMarker = errors.New("intercept: order list names unknown marker")
)

// Registry maps marker names to interceptor factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds name to f. Registering a name twice replaces the factory.
// A nil factory keeps the name known but makes Wrap fail for it.
func (r *Registry) Register(name string, f Factory) {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Registered returns the registered marker names, sorted.
func (r *Registry) Registered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SetOrder configures the global interceptor order, outermost first. An
// empty list restores declaration order.
func (r *Registry) SetOrder(names ...string) {
	order := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			order = append(order, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = order
}

// Order returns the configured order list.
func (r *Registry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Validate checks that every name in the order list is registered.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.validateLocked()
}

func (r *Registry) validateLocked() error {
	for _, name := range r.order {
		if _, ok := r.factories[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMarker, name)
		}
	}
	return nil
}

// Wrap builds the interceptor chain for h. Handlers without markers are
// returned unchanged. Errors returned by a factory or by Bind are passed
// through as they are.
func (r *Registry) Wrap(h pipeline.Handler) (pipeline.Handler, error) {
	d, ok := h.(Declared)
	if !ok {
		return h, nil
	}
	markers := d.Markers()
	if len(markers) == 0 {
		return h, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.validateLocked(); err != nil {
		return nil, err
	}
	ordered, err := r.arrange(markers)
	if err != nil {
		return nil, err
	}

	// ordered is outermost first; build from the inside out.
	next := h
	for i := len(ordered) - 1; i >= 0; i-- {
		m := ordered[i]
		f := r.factories[m.MarkerName()]
		if f == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoFactory, m.MarkerName())
		}
		ic, err := f()
		if err != nil {
			return nil, err
		}
		if err := ic.Bind(m, next); err != nil {
			return nil, err
		}
		next = ic
	}

	names := make([]string, len(ordered))
	for i, m := range ordered {
		names[i] = m.MarkerName()
	}
	return &Chain{outer: next, target: h, names: names}, nil
}

// arrange returns markers outermost first.
func (r *Registry) arrange(markers []Marker) ([]Marker, error) {
	out := make([]Marker, 0, len(markers))
	for _, m := range markers {
		if m == nil {
			continue
		}
		if _, ok := r.factories[m.MarkerName()]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoFactory, m.MarkerName())
		}
		out = append(out, m)
	}
	if len(r.order) == 0 {
		return out, nil
	}

	rank := make(map[string]int, len(r.order))
	for i, name := range r.order {
		if _, seen := rank[name]; !seen {
			rank[name] = i
		}
	}
	for _, m := range out {
		if _, ok := rank[m.MarkerName()]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotOrdered, m.MarkerName())
		}
	}
	slices.SortStableFunc(out, func(a, b Marker) int {
		return rank[a.MarkerName()] - rank[b.MarkerName()]
	})
	return out, nil
}
