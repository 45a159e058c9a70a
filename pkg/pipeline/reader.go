package pipeline

import (
	"context"
	"sync"
)

// DataReader supplies input records to a handler chain, one per Read call.
type DataReader interface {
	// Read returns the next record. Callers check HasNext first; reading past
	// the last record yields nil.
	Read(ctx context.Context, ec *Context) (any, error)
	HasNext(ctx context.Context, ec *Context) bool
	Close(ec *Context) error
}

// DataReaderFactory creates a DataReader on first use.
type DataReaderFactory interface {
	CreateReader(ctx context.Context, ec *Context) (DataReader, error)
}

// DataReaderFactoryFunc adapts a function to DataReaderFactory.
type DataReaderFactoryFunc func(ctx context.Context, ec *Context) (DataReader, error)

// CreateReader calls f.
func (f DataReaderFactoryFunc) CreateReader(ctx context.Context, ec *Context) (DataReader, error) {
	return f(ctx, ec)
}

// ThreadSafe is implemented by readers that may be shared between goroutines
// without external locking.
type ThreadSafe interface {
	ThreadSafe() bool
}

// Synchronized returns r unchanged when it reports itself thread safe and
// otherwise wraps it so Read, HasNext and Close are serialized.
func Synchronized(r DataReader) DataReader {
	if r == nil {
		return nil
	}
	if ts, ok := r.(ThreadSafe); ok && ts.ThreadSafe() {
		return r
	}
	return &syncReader{reader: r}
}

type syncReader struct {
	mu     sync.Mutex
	reader DataReader
}

func (s *syncReader) Read(ctx context.Context, ec *Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader.Read(ctx, ec)
}

func (s *syncReader) HasNext(ctx context.Context, ec *Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader.HasNext(ctx, ec)
}

func (s *syncReader) Close(ec *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader.Close(ec)
}

func (s *syncReader) ThreadSafe() bool { return true }

// SliceReader reads records from an in-memory slice.
type SliceReader struct {
	items  []any
	next   int
	closed bool
}

// NewSliceReader returns a reader over a copy of items.
func NewSliceReader(items ...any) *SliceReader {
	return &SliceReader{items: append([]any(nil), items...)}
}

func (r *SliceReader) Read(context.Context, *Context) (any, error) {
	if r.closed || r.next >= len(r.items) {
		return nil, nil
	}
	item := r.items[r.next]
	r.next++
	return item, nil
}

func (r *SliceReader) HasNext(context.Context, *Context) bool {
	return !r.closed && r.next < len(r.items)
}

func (r *SliceReader) Close(*Context) error {
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *SliceReader) Closed() bool { return r.closed }
