package engine

import (
	"sort"
	"strings"
)

// handlerRegistry stores canonical handler factories and alias mappings.
type handlerRegistry struct {
	factories map[string]HandlerFactory
	aliases   map[string]string
}

// HandlerMetadata describes how a handler type was resolved.
type HandlerMetadata struct {
	Kind      string
	Version   string
	Canonical string
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		factories: make(map[string]HandlerFactory),
		aliases:   make(map[string]string),
	}
}

func parseHandlerType(raw string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(raw), "@", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func canonicalKey(kind, version string) string {
	kind = strings.TrimSpace(kind)
	version = strings.TrimSpace(version)
	if version == "" {
		return kind
	}
	return kind + "@" + version
}

func versionFromKey(key string) string {
	_, version := parseHandlerType(key)
	return version
}

// register adds f under kind@version. The bare kind becomes an alias of the
// first version registered for it.
func (r *handlerRegistry) register(kind, version string, f HandlerFactory, aliases ...string) {
	canonical := canonicalKey(kind, version)
	r.factories[canonical] = f
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		r.aliases[alias] = canonical
	}
	if _, exists := r.aliases[kind]; !exists {
		r.aliases[kind] = canonical
	}
}

func (r *handlerRegistry) resolve(raw string) (HandlerFactory, HandlerMetadata, bool) {
	raw = strings.TrimSpace(raw)
	kind, version := parseHandlerType(raw)
	canonical := canonicalKey(kind, version)
	if f, ok := r.factories[canonical]; ok {
		return f, HandlerMetadata{Kind: kind, Version: version, Canonical: canonical}, true
	}
	if alias, ok := r.aliases[raw]; ok {
		if f, ok := r.factories[alias]; ok {
			return f, HandlerMetadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
		}
	}
	if version == "" {
		if alias, ok := r.aliases[kind]; ok {
			if f, ok := r.factories[alias]; ok {
				return f, HandlerMetadata{Kind: kind, Version: versionFromKey(alias), Canonical: alias}, true
			}
		}
	}
	return nil, HandlerMetadata{}, false
}

func (r *handlerRegistry) types() []string {
	out := make([]string, 0, len(r.factories))
	for key := range r.factories {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
