package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/polisai/polis-chain/pkg/config"
	"github.com/polisai/polis-chain/pkg/interceptors"
	"github.com/polisai/polis-chain/pkg/outcome"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/polisai/polis-chain/pkg/storage"
	"github.com/polisai/polis-chain/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestExecutor(t *testing.T, cfg ExecutorConfig, chains ...config.ChainConfig) *Executor {
	t.Helper()
	built, err := newTestBuilder(t).BuildAll(chains)
	require.NoError(t, err)
	if cfg.Chains == nil {
		cfg.Chains = NewChainRegistry(nil)
	}
	cfg.Chains.Replace(built)
	return NewExecutor(cfg)
}

func statusChain(name, message string) config.ChainConfig {
	return config.ChainConfig{Name: name, Handlers: []config.HandlerSpec{
		{Type: "status", Config: map[string]any{"message": message}},
	}}
}

func TestNewExecutorRequiresChains(t *testing.T) {
	assert.Panics(t, func() { NewExecutor(ExecutorConfig{}) })
}

func TestRunUnknownChain(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{})
	out := exec.Run(context.Background(), "missing", nil)
	assert.Equal(t, http.StatusNotFound, out.StatusCode())
	assert.Contains(t, out.Message(), `chain "missing" is not configured`)
}

func TestRunRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	exec := newTestExecutor(t, ExecutorConfig{Tracer: tp.Tracer("test")},
		statusChain("ok", "done"),
		config.ChainConfig{Name: "broken", Handlers: []config.HandlerSpec{{Type: "status", Config: map[string]any{"status": 503}}}},
	)

	assert.True(t, exec.Run(context.Background(), "ok", nil).IsSuccess())
	assert.False(t, exec.Run(context.Background(), "broken", nil).IsSuccess())

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, "chain.run", span.Name())
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "ok", attrs["chain.name"].AsString())
	assert.Equal(t, int64(1), attrs["chain.length"].AsInt64())
	assert.Equal(t, int64(200), attrs["outcome.status"].AsInt64())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestRunRecoversPanic(t *testing.T) {
	chains := NewChainRegistry(nil)
	chains.Replace(map[string]*Chain{
		"boom": NewChain("boom", pipeline.HandlerFunc(func(context.Context, any, *pipeline.Context) (any, error) {
			panic("kaput")
		})),
	})
	exec := NewExecutor(ExecutorConfig{Chains: chains})

	out := exec.Run(context.Background(), "boom", nil)
	require.Equal(t, http.StatusInternalServerError, out.StatusCode())
	f, ok := out.(*outcome.Failure)
	require.True(t, ok)
	assert.ErrorContains(t, f, "kaput")
}

func TestRunExposesSettingsAndCountsRuns(t *testing.T) {
	var seen []string
	probe := pipeline.HandlerFunc(func(_ context.Context, _ any, ec *pipeline.Context) (any, error) {
		chain, _ := ec.Setting(interceptors.ChainSetting)
		region, _ := ec.Setting("region")
		seen = append(seen, chain, region)
		return nil, nil
	})
	chains := NewChainRegistry(nil)
	chains.Replace(map[string]*Chain{"orders": NewChain("orders", probe)})
	metrics := telemetry.NewMetrics(nil)
	exec := NewExecutor(ExecutorConfig{
		Chains:   chains,
		Metrics:  metrics,
		Settings: pipeline.SettingsMap{"region": "eu", interceptors.ChainSetting: "shadowed"},
	})

	out := exec.Run(context.Background(), "orders", nil)
	assert.True(t, out.IsSuccess())
	assert.Equal(t, []string{"orders", "eu"}, seen)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `polis_chain_runs_total{chain="orders",status="200"} 1`)
}

func TestRunClosesReader(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{}, config.ChainConfig{Name: "d", Handlers: []config.HandlerSpec{{Type: "drain"}}})
	reader := pipeline.NewSliceReader(1, 2)

	out := exec.Run(context.Background(), "d", nil, pipeline.WithDataReader(reader))
	assert.Equal(t, "read 2 records", out.Message())
	assert.True(t, reader.Closed())
}

func serve(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, ResponseBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body ResponseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	return rec, body
}

func TestHTTPHandlerSelectsChain(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{}, statusChain("main", "from main"), statusChain("alt", "from alt"))
	h := NewHTTPHandler(HTTPHandlerConfig{Executor: exec, DefaultChain: func() string { return "main" }})

	rec, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from main", body.Message)
	assert.True(t, body.Success)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(HeaderChain, "alt")
	_, body = serve(t, h, req)
	assert.Equal(t, "from alt", body.Message)

	req = httptest.NewRequest(http.MethodGet, "/anything", nil)
	req.Header.Set(HeaderChain, "gone")
	rec, body = serve(t, h, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.False(t, body.Success)
}

func TestHTTPHandlerWithoutChain(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{})
	h := NewHTTPHandler(HTTPHandlerConfig{Executor: exec})

	rec, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body.Message, HeaderChain)
}

func TestHTTPHandlerRoutesByPath(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{}, config.ChainConfig{Name: "site", Handlers: []config.HandlerSpec{
		{Type: "status", Path: "/app/*", Config: map[string]any{"message": "app"}},
		{Type: "not_found"},
	}})
	h := NewHTTPHandler(HTTPHandlerConfig{Executor: exec, DefaultChain: func() string { return "site" }})

	_, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/app/users?id=1", nil))
	assert.Equal(t, "app", body.Message)

	rec, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/application", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no handler for /application", body.Message)
}

func TestHTTPHandlerSessions(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{}, config.ChainConfig{Name: "count", Handlers: []config.HandlerSpec{{Type: "session_counter"}}})
	store := storage.NewMemoryStore()
	h := NewHTTPHandler(HTTPHandlerConfig{Executor: exec, Sessions: store, DefaultChain: func() string { return "count" }})

	rec, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	id := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, id)
	assert.Equal(t, "requests=1", body.Message)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderSessionID, id)
	rec, body = serve(t, h, req)
	assert.Equal(t, id, rec.Header().Get(HeaderSessionID))
	assert.Equal(t, "requests=2", body.Message)

	_, body = serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "requests=1", body.Message, "a new session starts from zero")
	assert.Equal(t, 2, store.Len())
}

func TestHTTPHandlerReadsBodyLines(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{}, config.ChainConfig{Name: "ingest", Handlers: []config.HandlerSpec{{Type: "drain"}}})
	h := NewHTTPHandler(HTTPHandlerConfig{Executor: exec, DefaultChain: func() string { return "ingest" }})

	payload := strings.NewReader("one\r\n\n two \nthree\n\n")
	_, body := serve(t, h, httptest.NewRequest(http.MethodPost, "/", payload))
	assert.Equal(t, "read 3 records", body.Message)

	_, body = serve(t, h, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, "read 0 records", body.Message)
}

func TestHTTPHandlerLineTooLong(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{}, config.ChainConfig{Name: "ingest", Handlers: []config.HandlerSpec{{Type: "drain"}}})
	h := NewHTTPHandler(HTTPHandlerConfig{Executor: exec, DefaultChain: func() string { return "ingest" }, MaxLineBytes: 8})

	payload := bytes.NewBufferString("short\n" + strings.Repeat("x", 64) + "\n")
	rec, body := serve(t, h, httptest.NewRequest(http.MethodPost, "/", payload))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "read record 2", body.Message)
}

func TestHTTPHandlerRendersMultiStatus(t *testing.T) {
	exec := newTestExecutor(t, ExecutorConfig{}, config.ChainConfig{Name: "fan", Handlers: []config.HandlerSpec{{
		Type: "multi",
		Name: "fan",
		Chains: []config.ChainConfig{
			statusChain("a", "first"),
			{Name: "b", Handlers: []config.HandlerSpec{{Type: "status", Config: map[string]any{"status": 429, "message": "slow down"}}}},
		},
	}}})
	h := NewHTTPHandler(HTTPHandlerConfig{Executor: exec, DefaultChain: func() string { return "fan" }})

	rec, body := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.False(t, body.Success)
	require.Len(t, body.Results, 2)
	assert.Equal(t, ResponseBody{Status: 200, Success: true, Message: "first"}, body.Results[0])
	assert.Equal(t, ResponseBody{Status: 429, Message: "slow down"}, body.Results[1])
}

func TestLineReaderSkipsBlankLines(t *testing.T) {
	r := newLineReader(strings.NewReader("\n\na\n  \nb"), 1024)
	var got []any
	for r.HasNext(context.Background(), nil) {
		v, err := r.Read(context.Background(), nil)
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []any{"a", "b"}, got)
	v, err := r.Read(context.Background(), nil)
	assert.NoError(t, err)
	assert.Nil(t, v)
	require.NoError(t, r.Close(nil))
	assert.False(t, r.HasNext(context.Background(), nil))
}
