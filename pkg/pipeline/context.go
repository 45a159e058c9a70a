package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/polisai/polis-chain/pkg/outcome"
)

// Settings is the narrow configuration lookup offered to handlers.
type Settings interface {
	Lookup(key string) (string, bool)
}

// SettingsMap is a Settings backed by a map.
type SettingsMap map[string]string

// Lookup returns the value for key.
func (m SettingsMap) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Context holds the mutable state of one logical call through a handler
// queue.
type Context struct {
	id     string
	queue  Queue
	logger *slog.Logger
	base   *slog.Logger

	source     *readerSource
	ownsReader bool

	requestScope Scope
	sessionScope Scope
	sessionStore Scope

	settings Settings

	err       error
	clientErr error
	lastRead  any
	current   any
	succeeded bool
}

// readerSource backs data reading for a context and its copies. The factory
// is resolved at most once across all of them.
type readerSource struct {
	mu      sync.Mutex
	reader  DataReader
	factory DataReaderFactory
}

func (s *readerSource) resolve(ctx context.Context, ec *Context) (DataReader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil || s.factory == nil {
		return s.reader, nil
	}
	r, err := s.factory.CreateReader(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("create data reader: %w", err)
	}
	s.reader = r
	return r, nil
}

func (s *readerSource) resolved() DataReader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader
}

// Option configures a Context.
type Option func(*Context)

// WithHandlers seeds the handler queue.
func WithHandlers(handlers ...Handler) Option {
	return func(c *Context) { c.queue = NewQueue(handlers...) }
}

// WithSessionScope shares scope as the session scope. Supply a SyncScope when
// several goroutines can observe the same session.
func WithSessionScope(scope Scope) Option {
	return func(c *Context) {
		if scope != nil {
			c.sessionScope = scope
		}
	}
}

// WithSessionStore shares scope as the session store.
func WithSessionStore(scope Scope) Option {
	return func(c *Context) {
		if scope != nil {
			c.sessionStore = scope
		}
	}
}

// WithDataReader installs a reader directly.
func WithDataReader(r DataReader) Option {
	return func(c *Context) { c.SetDataReader(r) }
}

// WithDataReaderFactory installs a factory resolved on first read.
func WithDataReaderFactory(f DataReaderFactory) Option {
	return func(c *Context) { c.SetDataReaderFactory(f) }
}

// WithSettings exposes configuration to handlers.
func WithSettings(s Settings) Option {
	return func(c *Context) { c.settings = s }
}

// WithLogger sets the base logger. The context logger adds execution_id.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.base = l
		}
	}
}

// WithID overrides the generated execution id.
func WithID(id string) Option {
	return func(c *Context) {
		if id != "" {
			c.id = id
		}
	}
}

// NewContext returns a context with an empty queue and fresh scopes.
func NewContext(opts ...Option) *Context {
	c := &Context{
		id:           uuid.NewString(),
		base:         slog.Default(),
		source:       &readerSource{},
		ownsReader:   true,
		requestScope: NewMapScope(),
		sessionScope: NewMapScope(),
		sessionStore: NewMapScope(),
		settings:     SettingsMap{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.base.With("execution_id", c.id)
	return c
}

// Copy forks the context for an independent traversal of the handlers that
// have not run yet. The copy gets its own queue cursor and request scope and
// shares the session scope, session store, data reader and settings. A reader
// factory is resolved once for the original and all of its copies, and only
// the original closes the reader.
func (c *Context) Copy() *Context {
	cp := &Context{
		id:           uuid.NewString(),
		queue:        c.queue.Clone(),
		base:         c.base,
		source:       c.source,
		requestScope: NewMapScope(),
		sessionScope: c.sessionScope,
		sessionStore: c.sessionStore,
		settings:     c.settings,
	}
	cp.logger = cp.base.With("execution_id", cp.id, "parent_execution_id", c.id)
	return cp
}

// ID returns the execution id.
func (c *Context) ID() string { return c.id }

// Logger returns a logger annotated with the execution id.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Queue returns the handler queue.
func (c *Context) Queue() *Queue { return &c.queue }

// HandleNext pops the next handler and invokes it with input.
//
// For the duration of the call input is the current request object; the
// previous value is restored on every exit path. An empty queue fails with
// outcome.NoMoreHandlers and is left as it was. Errors are recorded on the
// context and returned unmodified.
func (c *Context) HandleNext(ctx context.Context, input any) (any, error) {
	h, ok := c.queue.pop()
	if !ok {
		err := outcome.NoMoreHandlers()
		c.SetErr(err)
		return nil, err
	}

	prev := c.current
	c.current = input
	defer func() { c.current = prev }()

	result, err := h.Handle(ctx, input, c)
	if err != nil {
		c.SetErr(err)
		return nil, err
	}
	return result, nil
}

// CurrentRequest returns the input of the innermost handler call in
// progress, or nil outside of HandleNext.
func (c *Context) CurrentRequest() any { return c.current }

// SetErr records err as the most recent failure. Caller-caused (4xx)
// failures are additionally recorded as the client error.
func (c *Context) SetErr(err error) {
	if err == nil {
		return
	}
	c.err = err
	if outcome.IsClientError(err) {
		c.clientErr = err
	}
}

// Err returns the most recent failure recorded on the context.
func (c *Context) Err() error { return c.err }

// ClientErr returns the most recent caller-caused failure.
func (c *Context) ClientErr() error { return c.clientErr }

// SetProcessSucceeded records whether the driver considers the run
// successful.
func (c *Context) SetProcessSucceeded(ok bool) { c.succeeded = ok }

// ProcessSucceeded reports the flag set by SetProcessSucceeded.
func (c *Context) ProcessSucceeded() bool { return c.succeeded }

// Setting looks up a configuration value.
func (c *Context) Setting(key string) (string, bool) {
	if c.settings == nil {
		return "", false
	}
	return c.settings.Lookup(key)
}

// RequestScope returns the scope private to this context.
func (c *Context) RequestScope() Scope { return c.requestScope }

// SessionScope returns the scope shared with copies of this context.
func (c *Context) SessionScope() Scope { return c.sessionScope }

// SessionStore returns the session store shared with copies of this context.
func (c *Context) SessionStore() Scope { return c.sessionStore }

// InvalidateSession removes every session-scoped variable.
func (c *Context) InvalidateSession() { clearScope(c.sessionScope) }

// SetDataReader installs r and discards any reader factory. Copies made
// earlier keep their previous reader.
func (c *Context) SetDataReader(r DataReader) {
	c.source = &readerSource{reader: r}
	c.ownsReader = true
}

// SetDataReaderFactory installs f and discards any resolved reader.
func (c *Context) SetDataReaderFactory(f DataReaderFactory) {
	c.source = &readerSource{factory: f}
	c.ownsReader = true
}

// DataReader returns the installed reader, resolving it from the factory on
// first use. It returns nil when neither is configured.
func (c *Context) DataReader(ctx context.Context) (DataReader, error) {
	return c.source.resolve(ctx, c)
}

// HasNextData reports whether the reader has another record.
func (c *Context) HasNextData(ctx context.Context) bool {
	r, err := c.DataReader(ctx)
	if err != nil || r == nil {
		return false
	}
	return r.HasNext(ctx, c)
}

// ReadNextData reads one record. It returns nil once the reader is exhausted
// or when no reader is configured.
func (c *Context) ReadNextData(ctx context.Context) (any, error) {
	r, err := c.DataReader(ctx)
	if err != nil || r == nil {
		return nil, err
	}
	if !r.HasNext(ctx, c) {
		return nil, nil
	}
	data, err := r.Read(ctx, c)
	if err != nil {
		return nil, err
	}
	c.lastRead = data
	return data, nil
}

// LastReadData returns the record most recently returned by ReadNextData.
func (c *Context) LastReadData() any { return c.lastRead }

// CloseReader closes a resolved reader owned by this context. On a copy that
// still shares its reader it does nothing. Close failures are logged and
// never returned so cleanup cannot mask the outcome of the run.
func (c *Context) CloseReader() {
	if !c.ownsReader {
		return
	}
	r := c.source.resolved()
	if r == nil {
		return
	}
	if err := r.Close(c); err != nil {
		c.logger.Warn("failed to close data reader", "error", err)
	}
}
