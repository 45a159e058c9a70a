package pipeline

// Delegator is implemented by queue entries that wrap other handlers, such as
// interceptor chains and path-routed entries. Delegates returns the handlers
// the entry would hand input to; the result may depend on input and ec.
type Delegator interface {
	Delegates(input any, ec *Context) []Handler
}

// StopFunc marks the handler at which a queue search ends.
type StopFunc func(Handler) bool

// StopAtType stops a search at the first handler of type S.
func StopAtType[S any]() StopFunc {
	return func(h Handler) bool {
		_, ok := h.(S)
		return ok
	}
}

// FindHandler returns the first remaining handler of type T. See
// SelectHandlers for the search rules.
func FindHandler[T any](ec *Context, input any, stop StopFunc) (T, bool) {
	var found T
	ok := false
	walkRemaining(ec, input, stop, func(h Handler) bool {
		if t, match := h.(T); match {
			found, ok = t, true
			return false
		}
		return true
	})
	return found, ok
}

// SelectHandlers returns every remaining handler of type T in queue order.
//
// The search runs over a copy of the remaining queue, so it consumes nothing.
// A Delegator entry is visited itself and then flattened to the handlers it
// delegates to, so both a wrapper type and the wrapped handler can be found.
// The search ends before the first handler for which stop returns true; a
// nil stop scans the whole queue.
func SelectHandlers[T any](ec *Context, input any, stop StopFunc) []T {
	var out []T
	walkRemaining(ec, input, stop, func(h Handler) bool {
		if t, match := h.(T); match {
			out = append(out, t)
		}
		return true
	})
	return out
}

// walkRemaining visits flattened handlers until visit or stop ends the walk.
func walkRemaining(ec *Context, input any, stop StopFunc, visit func(Handler) bool) {
	for _, h := range ec.queue.Remaining() {
		if !walk(h, ec, input, stop, visit) {
			return
		}
	}
}

func walk(h Handler, ec *Context, input any, stop StopFunc, visit func(Handler) bool) bool {
	if h == nil {
		return true
	}
	if stop != nil && stop(h) {
		return false
	}
	if !visit(h) {
		return false
	}
	d, isDelegator := h.(Delegator)
	if !isDelegator {
		return true
	}
	for _, inner := range d.Delegates(input, ec) {
		if !walk(inner, ec, input, stop, visit) {
			return false
		}
	}
	return true
}
