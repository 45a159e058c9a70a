package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/storage"
	"go.opentelemetry.io/otel/trace"
)

// Request and response headers understood by HTTPHandler.
const (
	HeaderChain     = "X-Polis-Chain"
	HeaderSessionID = "X-Session-ID"
)

// HTTPHandler maps HTTP requests onto chain runs. The request path and
// query become a pipeline.Request, body lines are offered through the data
// reader, and the outcome is written as its status code plus a JSON body.
type HTTPHandler struct {
	executor     *Executor
	sessions     storage.SessionStore
	defaultChain func() string
	logger       *slog.Logger
	maxLine      int
}

// HTTPHandlerConfig holds configuration for creating an HTTPHandler.
type HTTPHandlerConfig struct {
	Executor *Executor
	// Sessions is optional; without it every run gets fresh scopes.
	Sessions storage.SessionStore
	// DefaultChain names the chain for requests without HeaderChain. It is
	// called per request so reloads can change it.
	DefaultChain func() string
	Logger       *slog.Logger
	// MaxLineBytes bounds one body record; 0 means 1 MiB.
	MaxLineBytes int
}

// NewHTTPHandler constructs the adapter.
func NewHTTPHandler(cfg HTTPHandlerConfig) *HTTPHandler {
	if cfg.Executor == nil {
		panic("engine: executor is required")
	}
	h := &HTTPHandler{
		executor:     cfg.Executor,
		sessions:     cfg.Sessions,
		defaultChain: cfg.DefaultChain,
		logger:       cfg.Logger,
		maxLine:      cfg.MaxLineBytes,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.defaultChain == nil {
		h.defaultChain = func() string { return "" }
	}
	if h.maxLine <= 0 {
		h.maxLine = 1 << 20
	}
	return h
}

// ResponseBody is the JSON rendering of an outcome.
type ResponseBody struct {
	Status  int            `json:"status"`
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Results []ResponseBody `json:"results,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// ServeHTTP implements http.Handler.
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chain := strings.TrimSpace(r.Header.Get(HeaderChain))
	if chain == "" {
		chain = h.defaultChain()
	}
	if chain == "" {
		h.writeOutcome(ctx, w, outcome.BadRequest("no chain selected, set the %s header", HeaderChain))
		return
	}

	opts := []pipeline.Option{
		pipeline.WithDataReaderFactory(bodyReaderFactory(r.Body, h.maxLine)),
	}
	if h.sessions != nil {
		sess, created, err := h.sessions.Open(ctx, r.Header.Get(HeaderSessionID))
		if err != nil {
			h.logger.Error("failed to open session", "error", err)
			h.writeOutcome(ctx, w, outcome.InternalError(err, "session unavailable"))
			return
		}
		if created {
			h.logger.Debug("session created", "session_id", sess.ID)
		}
		w.Header().Set(HeaderSessionID, sess.ID)
		opts = append(opts,
			pipeline.WithSessionScope(sess.Scope),
			pipeline.WithSessionStore(h.sessions.Shared()),
		)
	}

	req := pipeline.NewRequest(r.URL.Path, r.URL.Query())
	out := h.executor.Run(ctx, chain, req, opts...)
	h.writeOutcome(ctx, w, out)
}

func (h *HTTPHandler) writeOutcome(ctx context.Context, w http.ResponseWriter, out outcome.Outcome) {
	body := render(out)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		body.TraceID = sc.TraceID().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(out.StatusCode())
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func render(out outcome.Outcome) ResponseBody {
	body := ResponseBody{
		Status:  out.StatusCode(),
		Success: out.IsSuccess(),
		Message: out.Message(),
	}
	if ms, ok := out.(*outcome.MultiStatus); ok {
		for _, child := range ms.Results() {
			body.Results = append(body.Results, render(child))
		}
	}
	return body
}

// bodyReaderFactory offers the non-empty lines of body as string records.
// The body is only read if a handler asks for data.
func bodyReaderFactory(body io.Reader, maxLine int) pipeline.DataReaderFactory {
	return pipeline.DataReaderFactoryFunc(func(context.Context, *pipeline.Context) (pipeline.DataReader, error) {
		if body == nil || body == http.NoBody {
			return pipeline.NewSliceReader(), nil
		}
		return newLineReader(body, maxLine), nil
	})
}

// lineReader reads newline-separated records, skipping blank lines.
type lineReader struct {
	scanner *bufio.Scanner
	next    *string
	err     error
	closed  bool
}

func newLineReader(r io.Reader, maxLine int) *lineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, min(4096, maxLine)), maxLine)
	return &lineReader{scanner: s}
}

func (l *lineReader) fill() {
	if l.next != nil || l.closed || l.err != nil {
		return
	}
	for l.scanner.Scan() {
		line := strings.TrimRight(l.scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		l.next = &line
		return
	}
	l.err = l.scanner.Err()
}

func (l *lineReader) HasNext(context.Context, *pipeline.Context) bool {
	l.fill()
	return l.next != nil || l.err != nil
}

func (l *lineReader) Read(context.Context, *pipeline.Context) (any, error) {
	l.fill()
	if l.next != nil {
		line := *l.next
		l.next = nil
		return line, nil
	}
	if l.err != nil {
		err := l.err
		l.err = nil
		l.closed = true
		return nil, err
	}
	return nil, nil
}

func (l *lineReader) Close(*pipeline.Context) error {
	l.closed = true
	l.next = nil
	return nil
}
