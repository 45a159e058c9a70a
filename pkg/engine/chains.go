package engine

import (
	"log/slog"
	"sort"
	"sync"
)

// ChainRegistry holds the active set of named chains. Replace swaps the
// whole set at once, so a run that already resolved its chain finishes on
// the chain it started with.
type ChainRegistry struct {
	mu         sync.RWMutex
	chains     map[string]*Chain
	generation int64 // increments on each Replace
	logger     *slog.Logger
}

// NewChainRegistry creates an empty registry.
func NewChainRegistry(logger *slog.Logger) *ChainRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainRegistry{chains: make(map[string]*Chain), logger: logger}
}

// Get returns the named chain.
func (r *ChainRegistry) Get(name string) (*Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[name]
	return c, ok
}

// Replace installs chains as the active set and returns the new generation.
func (r *ChainRegistry) Replace(chains map[string]*Chain) int64 {
	next := make(map[string]*Chain, len(chains))
	for name, c := range chains {
		if c != nil {
			next[name] = c
		}
	}

	r.mu.Lock()
	r.chains = next
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	r.logger.Info("chains updated",
		slog.Int64("generation", gen),
		slog.Int("chains", len(next)),
	)
	return gen
}

// Names returns the registered chain names, sorted.
func (r *ChainRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for name := range r.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered chains.
func (r *ChainRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains)
}

// Generation returns the number of Replace calls so far.
func (r *ChainRegistry) Generation() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
