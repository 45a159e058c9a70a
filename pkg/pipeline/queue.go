package pipeline

// Queue is an ordered sequence of handlers consumed front to back.
//
// The backing slice is never modified in place: popping advances a cursor and
// every mutation allocates a fresh slice. Copies of a Queue therefore never
// observe each other's progress.
type Queue struct {
	entries []Handler
	pos     int
}

// NewQueue returns a queue holding a copy of handlers. Nil handlers are
// dropped.
func NewQueue(handlers ...Handler) Queue {
	return Queue{entries: compact(handlers)}
}

func compact(handlers []Handler) []Handler {
	out := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// Len returns the number of handlers not yet consumed.
func (q *Queue) Len() int { return len(q.entries) - q.pos }

// Empty reports whether all handlers have been consumed.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// Peek returns the next handler without consuming it.
func (q *Queue) Peek() (Handler, bool) {
	if q.Empty() {
		return nil, false
	}
	return q.entries[q.pos], true
}

// pop consumes and returns the next handler. An empty queue is left
// untouched.
func (q *Queue) pop() (Handler, bool) {
	h, ok := q.Peek()
	if ok {
		q.pos++
	}
	return h, ok
}

// Clone returns an independent queue positioned at the same handler.
func (q *Queue) Clone() Queue {
	return Queue{entries: q.entries, pos: q.pos}
}

// Remaining returns a copy of the handlers not yet consumed.
func (q *Queue) Remaining() []Handler {
	out := make([]Handler, q.Len())
	copy(out, q.entries[q.pos:])
	return out
}

// Prepend inserts handlers so they run before the remaining ones.
func (q *Queue) Prepend(handlers ...Handler) {
	next := compact(handlers)
	next = append(next, q.entries[q.pos:]...)
	q.entries, q.pos = next, 0
}

// Append adds handlers after the remaining ones.
func (q *Queue) Append(handlers ...Handler) {
	next := q.Remaining()
	next = append(next, compact(handlers)...)
	q.entries, q.pos = next, 0
}

// Replace discards the remaining handlers and installs handlers instead.
func (q *Queue) Replace(handlers ...Handler) {
	q.entries, q.pos = compact(handlers), 0
}

// Clear discards the remaining handlers.
func (q *Queue) Clear() {
	q.entries, q.pos = nil, 0
}
