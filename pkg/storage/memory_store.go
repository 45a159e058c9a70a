package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/polis-chain/pkg/pipeline"
)

// MemoryStore is an in-memory SessionStore with idle expiry.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*entry
	shared   *pipeline.SyncScope
	idle     time.Duration
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIdleTimeout expires sessions unused for d. Zero keeps sessions
// until deleted.
func WithIdleTimeout(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idle = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*entry),
		shared:   pipeline.NewSyncScope(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements SessionStore.
func (s *MemoryStore) Open(_ context.Context, id string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.lookupLocked(id, now); ok {
		e.lastSeen = now
		return e.session, false, nil
	}

	sess := &Session{ID: uuid.NewString(), Scope: pipeline.NewSyncScope()}
	s.sessions[sess.ID] = &entry{session: sess, lastSeen: now}
	return sess, true, nil
}

// Get implements SessionStore.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.lookupLocked(id, now)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = now
	return e.session, nil
}

func (s *MemoryStore) lookupLocked(id string, now time.Time) (*entry, bool) {
	if id == "" {
		return nil, false
	}
	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(e, now) {
		delete(s.sessions, id)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) expired(e *entry, now time.Time) bool {
	return s.idle > 0 && now.Sub(e.lastSeen) >= s.idle
}

// Delete implements SessionStore.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Shared implements SessionStore.
func (s *MemoryStore) Shared() pipeline.Scope { return s.shared }

// Len implements SessionStore.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if s.expired(e, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until Close.
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil || interval <= 0 {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}(s.stop, s.done)
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}
