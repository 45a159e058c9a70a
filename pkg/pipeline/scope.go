package pipeline

import (
	"maps"
	"sync"
)

// Scope is a string-keyed variable map.
type Scope interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Range(fn func(key string, value any) bool)
	Len() int
}

// MapScope is a Scope backed by a plain map. It is not safe for concurrent
// use.
type MapScope map[string]any

// NewMapScope returns an empty MapScope.
func NewMapScope() MapScope { return make(MapScope) }

func (s MapScope) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

func (s MapScope) Set(key string, value any) { s[key] = value }

func (s MapScope) Delete(key string) { delete(s, key) }

func (s MapScope) Range(fn func(key string, value any) bool) {
	for k, v := range s {
		if !fn(k, v) {
			return
		}
	}
}

func (s MapScope) Len() int { return len(s) }

// SyncScope is a Scope safe for concurrent use, intended for session state
// observed by several goroutines.
type SyncScope struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSyncScope returns an empty SyncScope.
func NewSyncScope() *SyncScope {
	return &SyncScope{values: make(map[string]any)}
}

func (s *SyncScope) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *SyncScope) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *SyncScope) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Range iterates over a snapshot, so fn may modify the scope.
func (s *SyncScope) Range(fn func(key string, value any) bool) {
	s.mu.RLock()
	snapshot := maps.Clone(s.values)
	s.mu.RUnlock()
	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

func (s *SyncScope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Update applies fn to the current value of key under the write lock and
// stores the result.
func (s *SyncScope) Update(key string, fn func(current any, ok bool) any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.values[key]
	next := fn(cur, ok)
	s.values[key] = next
	return next
}

// Value returns the value stored under key converted to T.
func Value[T any](s Scope, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	raw, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

func clearScope(s Scope) {
	var keys []string
	s.Range(func(k string, _ any) bool {
		keys = append(keys, k)
		return true
	})
	for _, k := range keys {
		s.Delete(k)
	}
}
