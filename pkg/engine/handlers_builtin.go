package engine

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pipeline"
)

// registerDefaultHandlers registers the built-in handler types.
func (b *Builder) registerDefaultHandlers() {
	b.handlers.register("passthrough", "v1", newPassthrough, "pass", "next")
	b.handlers.register("status", "v1", newStatus, "terminal.status", "respond")
	b.handlers.register("not_found", "v1", newNotFound, "terminal.not_found", "not-found")
	b.handlers.register("session_counter", "v1", newSessionCounter, "session.counter")
	b.handlers.register("drain", "v1", newDrain, "reader.drain")
	b.handlers.register("multi", "v1", newMulti, "fanout", "fork")
}

// PassthroughHandler delegates to the next queue entry.
type PassthroughHandler struct {
	name string
}

func newPassthrough(bc BuildContext) (pipeline.Handler, error) {
	return &PassthroughHandler{name: bc.Name()}, nil
}

func (h *PassthroughHandler) HandlerName() string { return h.name }

func (h *PassthroughHandler) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	return ec.HandleNext(ctx, input)
}

// StatusHandler is terminal: it returns the configured outcome.
//
// Config keys: status (200, 400-499, 500 or 503; default 200) and message.
type StatusHandler struct {
	name    string
	status  int
	message string
}

func newStatus(bc BuildContext) (pipeline.Handler, error) {
	status, err := intConfig(bc.Spec.Config, "status", http.StatusOK)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK,
		status >= 400 && status <= 499,
		status == http.StatusInternalServerError,
		status == http.StatusServiceUnavailable:
	default:
		return nil, fmt.Errorf("status %d cannot be represented as an outcome", status)
	}
	message, err := stringConfig(bc.Spec.Config, "message", "")
	if err != nil {
		return nil, err
	}
	return &StatusHandler{name: bc.Name(), status: status, message: message}, nil
}

func (h *StatusHandler) HandlerName() string { return h.name }

func (h *StatusHandler) Handle(context.Context, any, *pipeline.Context) (any, error) {
	switch {
	case h.status == http.StatusOK:
		return outcome.OK(h.message), nil
	case h.status == http.StatusBadRequest:
		return nil, outcome.BadRequest(h.message)
	case h.status == http.StatusNotFound:
		return nil, outcome.NotFound(h.message)
	case h.status < 500:
		return nil, outcome.ClientError(h.status, h.message)
	case h.status == http.StatusServiceUnavailable:
		return nil, outcome.Unavailable(h.message)
	default:
		return nil, outcome.InternalError(nil, h.message)
	}
}

// NotFoundHandler is terminal and fails with a 404 naming the request path.
type NotFoundHandler struct {
	name    string
	message string
}

func newNotFound(bc BuildContext) (pipeline.Handler, error) {
	message, err := stringConfig(bc.Spec.Config, "message", "")
	if err != nil {
		return nil, err
	}
	return &NotFoundHandler{name: bc.Name(), message: message}, nil
}

func (h *NotFoundHandler) HandlerName() string { return h.name }

func (h *NotFoundHandler) Handle(_ context.Context, input any, ec *pipeline.Context) (any, error) {
	if h.message != "" {
		return nil, outcome.NotFound(h.message)
	}
	path, ok := pipeline.PathOf(input)
	if !ok {
		path, ok = pipeline.PathOf(ec.CurrentRequest())
	}
	if !ok {
		return nil, outcome.NotFound("no handler for request")
	}
	return nil, outcome.NotFound("no handler for %s", path)
}

// SessionCounterHandler counts requests per session. The running count is
// stored under key in the session scope and copied into the request scope.
// With next set it delegates afterwards; otherwise it reports the count.
type SessionCounterHandler struct {
	name string
	key  string
	next bool
}

func newSessionCounter(bc BuildContext) (pipeline.Handler, error) {
	key, err := stringConfig(bc.Spec.Config, "key", "requests")
	if err != nil {
		return nil, err
	}
	next, err := boolConfig(bc.Spec.Config, "next", false)
	if err != nil {
		return nil, err
	}
	return &SessionCounterHandler{name: bc.Name(), key: key, next: next}, nil
}

func (h *SessionCounterHandler) HandlerName() string { return h.name }

func (h *SessionCounterHandler) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	count := incrementCounter(ec.SessionScope(), h.key)
	ec.RequestScope().Set(h.key, count)
	if h.next {
		return ec.HandleNext(ctx, input)
	}
	return outcome.OK(fmt.Sprintf("%s=%d", h.key, count)), nil
}

func incrementCounter(scope pipeline.Scope, key string) int {
	inc := func(current any, _ bool) any {
		n, _ := current.(int)
		return n + 1
	}
	if s, ok := scope.(*pipeline.SyncScope); ok {
		return s.Update(key, inc).(int)
	}
	current, ok := scope.Get(key)
	next := inc(current, ok)
	scope.Set(key, next)
	return next.(int)
}

// DrainHandler is terminal: it reads every record from the context data
// reader and reports how many it saw.
type DrainHandler struct {
	name string
}

func newDrain(bc BuildContext) (pipeline.Handler, error) {
	return &DrainHandler{name: bc.Name()}, nil
}

func (h *DrainHandler) HandlerName() string { return h.name }

func (h *DrainHandler) Handle(ctx context.Context, _ any, ec *pipeline.Context) (any, error) {
	n := 0
	for ec.HasNextData(ctx) {
		if _, err := ec.ReadNextData(ctx); err != nil {
			return nil, outcome.InternalError(err, "read record %d", n+1)
		}
		n++
	}
	return outcome.OK(fmt.Sprintf("read %d records", n)), nil
}

// MultiHandler runs each nested chain on its own copy of the context and
// aggregates the results into a multi-status outcome. The copies share the
// session scope and data reader; each gets its own request scope. The first
// branch failure is also recorded on the parent context.
type MultiHandler struct {
	name     string
	branches []*Chain
}

func newMulti(bc BuildContext) (pipeline.Handler, error) {
	if len(bc.Spec.Chains) == 0 {
		return nil, fmt.Errorf("%s needs at least one nested chain", bc.Metadata.Canonical)
	}
	h := &MultiHandler{name: bc.Name()}
	for _, cfg := range bc.Spec.Chains {
		branch, err := bc.BuildChain(cfg)
		if err != nil {
			return nil, err
		}
		h.branches = append(h.branches, branch)
	}
	return h, nil
}

func (h *MultiHandler) HandlerName() string { return h.name }

func (h *MultiHandler) Handle(ctx context.Context, input any, ec *pipeline.Context) (any, error) {
	results := make([]outcome.Outcome, 0, len(h.branches))
	failed := false
	for _, branch := range h.branches {
		fork := ec.Copy()
		fork.Queue().Replace(branch.Handlers()...)
		result, err := fork.HandleNext(ctx, input)
		if err != nil && !failed {
			ec.SetErr(err)
			failed = true
		}
		results = append(results, outcome.From(result, err))
	}
	return outcome.NewMultiStatus(h.name, results...), nil
}

func intConfig(cfg map[string]any, key string, def int) (int, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("config.%s: %v is not an integer", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("config.%s: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("config.%s: unsupported type %T", key, raw)
	}
}

func stringConfig(cfg map[string]any, key, def string) (string, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("config.%s: unsupported type %T", key, raw)
	}
	return s, nil
}

func boolConfig(cfg map[string]any, key string, def bool) (bool, error) {
	raw, ok := cfg[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("config.%s: %w", key, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("config.%s: unsupported type %T", key, raw)
	}
}
