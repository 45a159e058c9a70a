package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Breaker.Do while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig holds the thresholds of a circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker after that many failures in a
	// row. Zero disables the check.
	ConsecutiveFailures int
	// FailureRate opens the breaker when the percentage of failed calls in
	// the rolling window reaches it. Zero disables the check.
	FailureRate float64
	// MinSamples is the number of calls the window must hold before
	// FailureRate is evaluated.
	MinSamples int
	// Window and Buckets define the rolling window.
	Window  time.Duration
	Buckets int
	// OpenFor is how long the breaker rejects calls before probing.
	OpenFor time.Duration
	// HalfOpenProbes is the number of trial calls let through while half
	// open; that many successes close the breaker again.
	HalfOpenProbes int
}

// DefaultBreakerConfig returns the defaults used for unconfigured keys.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		FailureRate:         50,
		MinSamples:          10,
		Window:              30 * time.Second,
		Buckets:             10,
		OpenFor:             30 * time.Second,
		HalfOpenProbes:      3,
	}
}

func (c BreakerConfig) normalized() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.ConsecutiveFailures < 0 {
		c.ConsecutiveFailures = 0
	}
	if c.FailureRate < 0 {
		c.FailureRate = 0
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.Buckets <= 0 {
		c.Buckets = d.Buckets
	}
	if c.OpenFor <= 0 {
		c.OpenFor = d.OpenFor
	}
	if c.HalfOpenProbes <= 0 {
		c.HalfOpenProbes = d.HalfOpenProbes
	}
	return c
}

// Breaker is a circuit breaker over a rolling window of call results.
type Breaker struct {
	mu     sync.Mutex
	cfg    BreakerConfig
	now    Clock
	counts func(error) bool

	state     BreakerState
	changed   time.Time
	openUntil time.Time

	window      []bucket
	span        time.Duration
	head        int
	consecutive int
	probes      int
	probeWins   int
}

type bucket struct {
	start    time.Time
	calls    int
	failures int
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithClock sets the time source.
func WithClock(now Clock) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithFailureFilter decides which errors count as failures. By default
// every non-nil error does.
func WithFailureFilter(fn func(error) bool) BreakerOption {
	return func(b *Breaker) { b.counts = fn }
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	cfg = cfg.normalized()
	b := &Breaker{
		cfg:    cfg,
		now:    time.Now,
		counts: func(err error) bool { return err != nil },
		state:  StateClosed,
		window: make([]bucket, cfg.Buckets),
		span:   cfg.Window / time.Duration(cfg.Buckets),
	}
	if b.span <= 0 {
		b.span = time.Second
	}
	for _, opt := range opts {
		opt(b)
	}
	b.changed = b.now()
	return b
}

// Do runs fn unless the breaker is open, and records its result.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.probes++
		return nil
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return ErrCircuitOpen
		}
		b.probes++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.advance(now)
	failed := b.counts(err)
	cur := &b.window[b.head]
	cur.calls++
	if failed {
		cur.failures++
		b.consecutive++
	} else {
		b.consecutive = 0
	}

	switch b.state {
	case StateHalfOpen:
		if failed {
			b.setState(StateOpen)
			return
		}
		b.probeWins++
		if b.probeWins >= b.cfg.HalfOpenProbes {
			b.setState(StateClosed)
		}
	case StateClosed:
		if !failed {
			return
		}
		if b.cfg.ConsecutiveFailures > 0 && b.consecutive >= b.cfg.ConsecutiveFailures {
			b.setState(StateOpen)
			return
		}
		if b.cfg.FailureRate > 0 {
			calls, failures := b.totals(now)
			if calls >= b.cfg.MinSamples && float64(failures)*100/float64(calls) >= b.cfg.FailureRate {
				b.setState(StateOpen)
			}
		}
	}
}

// advance rotates the window so that head covers now.
func (b *Breaker) advance(now time.Time) {
	slot := now.Truncate(b.span)
	cur := &b.window[b.head]
	if cur.start.IsZero() {
		cur.start = slot
		return
	}
	if !slot.After(cur.start) {
		return
	}
	steps := int(slot.Sub(cur.start) / b.span)
	if steps > len(b.window) {
		steps = len(b.window)
	}
	for i := 0; i < steps; i++ {
		b.head = (b.head + 1) % len(b.window)
		b.window[b.head] = bucket{}
	}
	b.window[b.head].start = slot
}

func (b *Breaker) totals(now time.Time) (calls, failures int) {
	for _, bk := range b.window {
		if bk.start.IsZero() || now.Sub(bk.start) >= b.cfg.Window {
			continue
		}
		calls += bk.calls
		failures += bk.failures
	}
	return calls, failures
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	now := b.now()
	b.state = s
	b.changed = now
	b.consecutive = 0
	b.probes = 0
	b.probeWins = 0
	for i := range b.window {
		b.window[i] = bucket{}
	}
	b.head = 0
	if s == StateOpen {
		b.openUntil = now.Add(b.cfg.OpenFor)
	} else {
		b.openUntil = time.Time{}
	}
}

// State returns the current state. An open breaker whose wait has elapsed
// still reports open until the next call probes it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and forgets all recorded calls.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.consecutive = 0
	for i := range b.window {
		b.window[i] = bucket{}
	}
}

// BreakerStats is a snapshot of a breaker.
type BreakerStats struct {
	State       string  `json:"state"`
	Calls       int     `json:"calls"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failureRate"`
	Since       string  `json:"since"`
}

// Stats returns a snapshot of the rolling window.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	calls, failures := b.totals(b.now())
	rate := 0.0
	if calls > 0 {
		rate = float64(failures) * 100 / float64(calls)
	}
	return BreakerStats{
		State:       string(b.state),
		Calls:       calls,
		Failures:    failures,
		FailureRate: rate,
		Since:       b.changed.Format(time.RFC3339),
	}
}

// BreakerSet holds one breaker per key.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	opts     []BreakerOption
}

// NewBreakerSet returns an empty set. opts apply to every breaker it creates.
func NewBreakerSet(opts ...BreakerOption) *BreakerSet {
	return &BreakerSet{breakers: make(map[string]*Breaker), opts: opts}
}

// Get returns the breaker for key, creating it with cfg on first use.
// Later calls return the existing breaker and ignore cfg.
func (s *BreakerSet) Get(key string, cfg BreakerConfig) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[key]; ok {
		return b
	}
	b = NewBreaker(cfg, s.opts...)
	s.breakers[key] = b
	return b
}

// Stats returns a snapshot of every breaker.
func (s *BreakerSet) Stats() map[string]BreakerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BreakerStats, len(s.breakers))
	for key, b := range s.breakers {
		out[key] = b.Stats()
	}
	return out
}

// ResetAll closes every breaker.
func (s *BreakerSet) ResetAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.breakers {
		b.Reset()
	}
}
